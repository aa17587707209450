/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/profile"
	"github.com/s7tools/engine/result"
)

// BridgeEventKind enumerates socat bridge lifecycle events, per spec.md §4.4.
type BridgeEventKind int

const (
	BridgeStarted BridgeEventKind = iota
	BridgeStopped
	BridgeError
	BridgeConnectionEstablished
	BridgeConnectionClosed
)

type BridgeEvent struct {
	Kind BridgeEventKind
	Err  error
}

const (
	bridgeStartupGrace = 500 * time.Millisecond
	bridgeKillTimeout  = 5 * time.Second
)

// Bridge supervises one socat TCP<->serial process. The supervision shape
// (exec.Cmd with SysProcAttr{Setpgid:true}, a die channel, SIGTERM then
// SIGKILL after a grace window) is grounded on the teacher's
// manager/process.go supervisor; PID tracking mirrors
// other_examples/554dee08_k3s-io-k3s__...-socat.go.go's driver.
type Bridge struct {
	Binary string // defaults to "socat"
	lg     *logging.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	pid     int
	running bool
	done    chan struct{} // closed by the single cmd.Wait() owner when the process exits
	events  chan BridgeEvent
}

func NewBridge(binary string, lg *logging.Logger) *Bridge {
	if binary == `` {
		binary = `socat`
	}
	return &Bridge{Binary: binary, lg: lg, events: make(chan BridgeEvent, 16)}
}

func (b *Bridge) Events() <-chan BridgeEvent { return b.events }

func (b *Bridge) emit(ev BridgeEvent) {
	select {
	case b.events <- ev:
	default:
		b.lg.Warn("dropping bridge event for slow subscriber")
	}
}

func portInUse(port int) bool {
	ln, err := net.Listen(`tcp`, fmt.Sprintf(":%d", port))
	if err != nil {
		return true
	}
	ln.Close()
	return false
}

// PortFree is the exported form of the bridge's own listen-probe, for
// pre-flight validation callers that need to check a port before starting
// anything.
func PortFree(port int) bool {
	return !portInUse(port)
}

// BuildSocatArgs composes the socat argv per spec.md §6's wire format.
func BuildSocatArgs(p *profile.SocatProfile, device string) []string {
	flags := `fork,reuseaddr`
	return []string{
		`-d`, `-d`, `-v`,
		`-b`, fmt.Sprintf("%d", p.BlockSize),
		`-x`,
		fmt.Sprintf("TCP-LISTEN:%d,%s", p.ListenPort, flags),
		fmt.Sprintf("%s,raw,echo=0", device),
	}
}

// Start launches the bridge for p against device, failing fast with
// ResourceBusy if the listen port is already taken.
func (b *Bridge) Start(ctx context.Context, p *profile.SocatProfile, device string) *result.Error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return result.New(result.Internal, `bridge already running`)
	}
	if portInUse(p.ListenPort) {
		return result.New(result.ResourceBusy, fmt.Sprintf("tcp port %d is already in use", p.ListenPort))
	}

	args := BuildSocatArgs(p, device)
	cmd := exec.Command(b.Binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	b.lg.Info("starting socat bridge", logging.KV(`port`, p.ListenPort), logging.KV(`device`, device))
	if err := cmd.Start(); err != nil {
		b.emit(BridgeEvent{Kind: BridgeError, Err: err})
		return result.Wrap(result.External, err, `failed to start socat`)
	}

	b.cmd = cmd
	b.pid = cmd.Process.Pid
	b.running = true
	b.done = make(chan struct{})

	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	select {
	case err := <-exitCh:
		b.running = false
		close(b.done)
		b.emit(BridgeEvent{Kind: BridgeError, Err: err})
		return result.Wrap(result.External, err, `socat exited during startup grace window`)
	case <-time.After(bridgeStartupGrace):
	}

	b.emit(BridgeEvent{Kind: BridgeStarted})
	go b.monitor(exitCh)
	return nil
}

// monitor is the single owner of cmd.Wait() for the lifetime of one run;
// Stop observes completion through b.done rather than calling Wait itself,
// since concurrent Wait on one exec.Cmd is unsafe.
func (b *Bridge) monitor(exitCh chan error) {
	err := <-exitCh
	b.mu.Lock()
	b.running = false
	done := b.done
	b.mu.Unlock()
	close(done)
	if err != nil {
		b.emit(BridgeEvent{Kind: BridgeError, Err: err})
	} else {
		b.emit(BridgeEvent{Kind: BridgeStopped})
	}
}

// IsRunning reports whether the bridge subprocess is currently alive.
func (b *Bridge) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// PID returns the bridge subprocess's PID, or 0 if not running.
func (b *Bridge) PID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pid
}

// Stop sends SIGTERM, then SIGKILL after bridgeKillTimeout, per spec.md §4.4.
// It never calls cmd.Wait() itself — monitor is the sole owner of that call
// for the process's lifetime — and instead waits on the done channel monitor
// closes on exit.
func (b *Bridge) Stop() *result.Error {
	b.mu.Lock()
	cmd := b.cmd
	running := b.running
	done := b.done
	b.mu.Unlock()
	if !running || cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return result.Wrap(result.External, err, `failed to signal socat`)
	}

	select {
	case <-done:
	case <-time.After(bridgeKillTimeout):
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, syscall.ESRCH) {
			return result.Wrap(result.External, err, `failed to kill socat after grace period`)
		}
		<-done
	}
	return nil
}
