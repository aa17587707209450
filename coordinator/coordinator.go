/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package coordinator holds exclusive locks on the typed physical and
// network resources a task needs (a serial device, a TCP listen port, a PLC
// address, a power-supply coil). It never blocks: callers poll TryAcquire
// and back off themselves, the same non-blocking bookkeeping-under-mutex
// shape the teacher uses for its in-memory indices (profilestore.Store,
// _examples/gravwell-gravwell's client/states.go tracking live searches).
package coordinator

import (
	"fmt"
	"sync"
)

// ResourceKind tags the variant of a ResourceKey.
type ResourceKind int

const (
	SerialDeviceKind ResourceKind = iota
	TcpPortKind
	PlcHostKind
	PowerCoilKind
)

// ResourceKey is a structural identifier for an exclusively-held resource.
// Two keys of the same kind and fields are equal regardless of how they were
// constructed, which is why ResourceKey is a plain comparable struct rather
// than an interface — Go structs with only comparable fields compare
// structurally with ==, which backs the map key usage below directly.
type ResourceKey struct {
	Kind ResourceKind
	Path string
	Host string
	Port int
	Coil int
}

func SerialDevice(path string) ResourceKey {
	return ResourceKey{Kind: SerialDeviceKind, Path: path}
}

func TcpPort(port int) ResourceKey {
	return ResourceKey{Kind: TcpPortKind, Port: port}
}

func PlcHost(host string, port int) ResourceKey {
	return ResourceKey{Kind: PlcHostKind, Host: host, Port: port}
}

func PowerCoil(host string, port, coil int) ResourceKey {
	return ResourceKey{Kind: PowerCoilKind, Host: host, Port: port, Coil: coil}
}

func (k ResourceKey) String() string {
	switch k.Kind {
	case SerialDeviceKind:
		return fmt.Sprintf("SerialDevice(%s)", k.Path)
	case TcpPortKind:
		return fmt.Sprintf("TcpPort(%d)", k.Port)
	case PlcHostKind:
		return fmt.Sprintf("PlcHost(%s,%d)", k.Host, k.Port)
	case PowerCoilKind:
		return fmt.Sprintf("PowerCoil(%s,%d,%d)", k.Host, k.Port, k.Coil)
	default:
		return `Unknown`
	}
}

// Coordinator maps ResourceKey to the task that currently owns it.
type Coordinator struct {
	mu    sync.Mutex
	locks map[ResourceKey]string
}

func New() *Coordinator {
	return &Coordinator{locks: make(map[ResourceKey]string)}
}

// TryAcquire is all-or-nothing: either every key in keys becomes owned by
// taskId, or none do.
func (c *Coordinator) TryAcquire(taskId string, keys []ResourceKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if owner, held := c.locks[k]; held && owner != taskId {
			return false
		}
	}
	for _, k := range keys {
		c.locks[k] = taskId
	}
	return true
}

// Release clears every provided key, regardless of current owner.
func (c *Coordinator) Release(keys []ResourceKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.locks, k)
	}
}

// OwnerOf reports which task currently owns key, if any.
func (c *Coordinator) OwnerOf(key ResourceKey) (taskId string, held bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	taskId, held = c.locks[key]
	return
}

// HeldBy reports whether taskId currently owns every key in keys.
func (c *Coordinator) HeldBy(taskId string, keys []ResourceKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if owner, held := c.locks[k]; !held || owner != taskId {
			return false
		}
	}
	return true
}

// HeldCount returns the number of resource keys currently held across all
// tasks.
func (c *Coordinator) HeldCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}
