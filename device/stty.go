/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package device adapts the engine to the host's subprocess and hardware
// surfaces: stty (serial line configuration), socat (the TCP<->serial
// bridge) and a Modbus-TCP power supply. These are the only three I/O
// surfaces the orchestrator (C9) ever touches directly.
//
// The subprocess shape (exec.Cmd, SysProcAttr{Setpgid: true}, structured
// logging of exec/args/exit code, SIGTERM-then-SIGKILL teardown) is grounded
// on the teacher's manager/process.go (_examples/gravwell-gravwell), which
// supervises an arbitrary child process the same way. The socat-specific
// PID-tracking/stop-by-signal shape additionally draws on
// other_examples/554dee08_k3s-io-k3s__...-socat.go.go (rootlesskit's own
// socat port driver).
package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/profile"
	"github.com/s7tools/engine/result"
)

// CommandResult is the uniform carrier for a completed subprocess run.
type CommandResult struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// sttyAllowedTokens is the fixed vocabulary spec.md §6 permits after
// `stty -F <dev>`. Anything else in a composed command line is refused
// before exec, so no profile-derived string can smuggle shell metacharacters
// into the argv (there is no shell in between; exec.Command never invokes
// /bin/sh, but the allowlist is enforced anyway per spec.md's explicit
// requirement that the composed command string itself be validated).
var sttyAllowedTokens = map[string]bool{
	`raw`: true, `-echo`: true, `-echoe`: true, `-echok`: true, `-echoctl`: true,
	`-echoke`: true, `-isig`: true, `-icanon`: true, `-iexten`: true, `-opost`: true,
	`-onlcr`: true, `-ignbrk`: true, `-brkint`: true, `-icrnl`: true, `-imaxbel`: true,
	`parenb`: true, `-parenb`: true, `parodd`: true, `-parodd`: true,
	`cstopb`: true, `-cstopb`: true, `crtscts`: true, `-crtscts`: true,
	`ixon`: true, `-ixon`: true,
}

func isDataBitsToken(tok string) bool {
	switch tok {
	case `cs5`, `cs6`, `cs7`, `cs8`:
		return true
	}
	return false
}

func isBaudToken(tok string) bool {
	for _, b := range profile.AllowedBaudRates {
		if fmt.Sprintf("%d", b) == tok {
			return true
		}
	}
	return false
}

// BuildSttyArgs composes the `stty -F <dev> ...` argv for p, validating that
// every token after -F <dev> is in the spec's fixed allowlist.
func BuildSttyArgs(device string, p *profile.SerialPortProfile) ([]string, *result.Error) {
	args := []string{`-F`, device}
	args = append(args, fmt.Sprintf("cs%d", p.DataBits))
	args = append(args, fmt.Sprintf("%d", p.Baud))

	switch p.Parity {
	case profile.ParityNone:
		args = append(args, `-parenb`)
	case profile.ParityOdd:
		args = append(args, `parenb`, `parodd`)
	case profile.ParityEven:
		args = append(args, `parenb`, `-parodd`)
	default:
		return nil, result.New(result.Validation, fmt.Sprintf("stty cannot express parity %q", p.Parity)).WithProperty(`Parity`)
	}
	if p.StopBits == profile.StopBits2 {
		args = append(args, `cstopb`)
	} else {
		args = append(args, `-cstopb`)
	}
	if p.FlowControl == profile.FlowRTSCTS {
		args = append(args, `crtscts`)
	} else {
		args = append(args, `-crtscts`)
	}
	if p.FlowControl == profile.FlowXONXOFF {
		args = append(args, `ixon`)
	} else {
		args = append(args, `-ixon`)
	}
	args = append(args, `raw`, `-echo`, `-echoe`, `-echok`, `-echoctl`, `-echoke`,
		`-isig`, `-icanon`, `-iexten`, `-opost`, `-onlcr`, `-ignbrk`, `-brkint`,
		`-icrnl`, `-imaxbel`)

	for _, tok := range args[2:] {
		if sttyAllowedTokens[tok] || isDataBitsToken(tok) || isBaudToken(tok) {
			continue
		}
		return nil, result.New(result.Validation, fmt.Sprintf("refusing disallowed stty token %q", tok))
	}
	return args, nil
}

// SerialAdapter drives `stty` to apply a SerialPortProfile to a device.
type SerialAdapter struct {
	Binary string // defaults to "stty"
	lg     *logging.Logger
}

func NewSerialAdapter(binary string, lg *logging.Logger) *SerialAdapter {
	if binary == `` {
		binary = `stty`
	}
	return &SerialAdapter{Binary: binary, lg: lg}
}

// Apply runs `stty -F <device> ...` for p and returns the captured result.
// Exit code 0 is success; anything else is an External error, per spec.md §7.
func (a *SerialAdapter) Apply(ctx context.Context, device string, p *profile.SerialPortProfile) (*CommandResult, *result.Error) {
	args, verr := BuildSttyArgs(device, p)
	if verr != nil {
		return nil, verr
	}
	start := time.Now()
	cmd := exec.CommandContext(ctx, a.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	a.lg.Info("running stty", logging.KV(`device`, device), logging.KV(`args`, strings.Join(args, ` `)))
	err := cmd.Run()
	cr := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if ctx.Err() != nil {
		return cr, result.Wrap(result.Cancelled, ctx.Err(), `stty invocation cancelled`)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			cr.ExitCode = exitErr.ExitCode()
		} else {
			return cr, result.Wrap(result.External, err, `failed to run stty`)
		}
		return cr, result.Newf(result.External, "stty exited %d: %s", cr.ExitCode, cr.Stderr)
	}
	cr.Success = true
	return cr, nil
}
