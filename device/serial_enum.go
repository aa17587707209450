/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package device

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// PortType classifies a serial device by how it is attached, per spec.md §4.4.
type PortType int

const (
	PortUnknown PortType = iota
	PortUSB
	PortACM
	PortStandard
	PortVirtual
)

func (t PortType) String() string {
	switch t {
	case PortUSB:
		return `Usb`
	case PortACM:
		return `Acm`
	case PortStandard:
		return `Standard`
	case PortVirtual:
		return `Virtual`
	default:
		return `Unknown`
	}
}

// SerialDeviceInfo describes one enumerated serial device.
type SerialDeviceInfo struct {
	Path        string
	Type        PortType
	USBVendor   string
	USBProduct  string
	Accessible  bool
}

func classify(name string) PortType {
	switch {
	case strings.HasPrefix(name, `ttyUSB`):
		return PortUSB
	case strings.HasPrefix(name, `ttyACM`):
		return PortACM
	case strings.HasPrefix(name, `ttyS`):
		return PortStandard
	case strings.HasPrefix(name, `ttyV`) || strings.HasPrefix(name, `pts`):
		return PortVirtual
	default:
		return PortUnknown
	}
}

// EnumerateSerialDevices lists /dev/ttyUSB*, /dev/ttyACM* and /dev/ttyS*,
// plus the virtual /dev/ttyV* and /dev/pts* entries, classifying each and
// probing accessibility. devRoot defaults to "/dev".
func EnumerateSerialDevices(devRoot string) ([]SerialDeviceInfo, error) {
	if devRoot == `` {
		devRoot = `/dev`
	}
	entries, err := os.ReadDir(devRoot)
	if err != nil {
		return nil, err
	}
	var out []SerialDeviceInfo
	for _, e := range entries {
		t := classify(e.Name())
		if t == PortUnknown {
			continue
		}
		path := filepath.Join(devRoot, e.Name())
		info := SerialDeviceInfo{Path: path, Type: t}
		info.USBVendor, info.USBProduct = usbIdentity(e.Name())
		info.Accessible = probeAccessible(path, 200*time.Millisecond)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// usbIdentity reads the USB vendor/product id for a tty device from sysfs,
// where available. Absence is not an error: not every tty is USB-backed.
func usbIdentity(ttyName string) (vendor, product string) {
	base := filepath.Join(`/sys/class/tty`, ttyName, `device`)
	for i := 0; i < 6; i++ {
		if v, err := os.ReadFile(filepath.Join(base, `idVendor`)); err == nil {
			vendor = strings.TrimSpace(string(v))
		}
		if p, err := os.ReadFile(filepath.Join(base, `idProduct`)); err == nil {
			product = strings.TrimSpace(string(p))
		}
		if vendor != `` || product != `` {
			return
		}
		base = filepath.Join(base, `..`)
	}
	return
}

// ProbeAccessible is the exported form of probeAccessible, for callers (the
// orchestrator's pre-flight validation) that need to check one known device
// path without a full directory enumeration.
func ProbeAccessible(path string, timeout time.Duration) bool {
	return probeAccessible(path, timeout)
}

// probeAccessible tests whether device can be opened non-blocking within
// timeout, without disturbing any existing open handle (O_NONBLOCK means the
// open call itself never blocks waiting for carrier detect on a real tty).
func probeAccessible(path string, timeout time.Duration) bool {
	done := make(chan bool, 1)
	go func() {
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_NOCTTY, 0)
		if err != nil {
			done <- false
			return
		}
		unix.Close(fd)
		done <- true
	}()
	select {
	case ok := <-done:
		return ok
	case <-time.After(timeout):
		return false
	}
}
