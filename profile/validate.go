/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package profile

import (
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/s7tools/engine/result"
)

const (
	maxNameLen        = 100
	maxDescriptionLen = 500
	maxVersionLen     = 10
	maxHostnameLen    = 253
)

// ValidationResult carries a primary error plus a property->message map so a
// UI can light up individual fields without the engine depending on any UI
// type. No exceptions are thrown for expected validation failures.
type ValidationResult struct {
	Primary *result.Error
	Fields  map[string]string
}

func (v *ValidationResult) OK() bool { return v.Primary == nil }

func newValidation() *ValidationResult {
	return &ValidationResult{Fields: map[string]string{}}
}

func (v *ValidationResult) fail(property, msg string) *ValidationResult {
	v.Fields[property] = msg
	if v.Primary == nil {
		v.Primary = result.New(result.Validation, msg).WithProperty(property)
	}
	return v
}

// ValidateBase enforces the Name/Description/Version rules shared by every
// profile type.
func ValidateBase(b Base) *ValidationResult {
	v := newValidation()
	name := strings.TrimSpace(b.Name)
	if name == `` {
		v.fail(`Name`, `name must not be empty`)
	} else if len(name) > maxNameLen {
		v.fail(`Name`, fmt.Sprintf("name must be %d characters or fewer", maxNameLen))
	}
	if len(b.Description) > maxDescriptionLen {
		v.fail(`Description`, fmt.Sprintf("description must be %d characters or fewer", maxDescriptionLen))
	}
	if len(b.Version) > maxVersionLen {
		v.fail(`Version`, fmt.Sprintf("version must be %d characters or fewer", maxVersionLen))
	}
	return v
}

func isAllowedBaud(b int) bool {
	for _, v := range AllowedBaudRates {
		if v == b {
			return true
		}
	}
	return false
}

// ValidateSerialPortProfile applies SerialPortProfile-specific rules on top
// of ValidateBase.
func ValidateSerialPortProfile(p *SerialPortProfile) *ValidationResult {
	v := ValidateBase(p.Base)
	if strings.TrimSpace(p.Device) == `` {
		v.fail(`Device`, `device path must not be empty`)
	}
	if !isAllowedBaud(p.Baud) {
		v.fail(`Baud`, fmt.Sprintf("baud %d is not an allowed rate", p.Baud))
	}
	switch p.DataBits {
	case 5, 6, 7, 8:
	default:
		v.fail(`DataBits`, `data bits must be one of 5, 6, 7, 8`)
	}
	switch p.Parity {
	case ParityNone, ParityOdd, ParityEven, ParityMark, ParitySpace:
	default:
		v.fail(`Parity`, `invalid parity`)
	}
	switch p.StopBits {
	case StopBits1, StopBits1_5, StopBits2:
	default:
		v.fail(`StopBits`, `invalid stop bits`)
	}
	switch p.FlowControl {
	case FlowNone, FlowRTSCTS, FlowXONXOFF:
	default:
		v.fail(`FlowControl`, `invalid flow control`)
	}
	return v
}

// ValidateSocatProfile applies SocatProfile-specific rules.
func ValidateSocatProfile(p *SocatProfile) *ValidationResult {
	v := ValidateBase(p.Base)
	if p.ListenPort < 1 || p.ListenPort > 65535 {
		v.fail(`ListenPort`, `port must be between 1 and 65535`)
	}
	if p.BlockSize <= 0 {
		v.fail(`BlockSize`, `block size must be greater than zero`)
	}
	return v
}

func isValidHostname(h string) bool {
	if h == `` || len(h) > maxHostnameLen {
		return false
	}
	for _, r := range h {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '.':
		default:
			return false
		}
	}
	return true
}

func isValidHost(h string) bool {
	if ip := net.ParseIP(h); ip != nil && ip.To4() != nil {
		return true
	}
	return isValidHostname(h)
}

// ValidateModbusTcpConfiguration applies the Modbus-TCP power-supply rules,
// including the Base1-addressing coil invariant from spec.md §3.
func ValidateModbusTcpConfiguration(c ModbusTcpConfiguration) *ValidationResult {
	v := newValidation()
	if !isValidHost(c.Host) {
		v.fail(`Host`, `host must be a valid IPv4 address or hostname`)
	}
	if c.Port < 1 || c.Port > 65535 {
		v.fail(`Port`, `port must be between 1 and 65535`)
	}
	if c.DeviceId < 0 || c.DeviceId > 247 {
		v.fail(`DeviceId`, `device id must be between 0 and 247`)
	}
	if c.AddressingMode != Base0 && c.AddressingMode != Base1 {
		v.fail(`AddressingMode`, `addressing mode must be base0 or base1`)
	}
	if c.AddressingMode == Base1 && c.OnOffCoil < 1 {
		v.fail(`OnOffCoil`, `on/off coil must be >= 1 in Base1 addressing`)
	}
	for prop, ms := range map[string]int{
		`ConnectTimeoutMs`: c.ConnectTimeoutMs,
		`ReadTimeoutMs`:    c.ReadTimeoutMs,
		`WriteTimeoutMs`:   c.WriteTimeoutMs,
	} {
		if ms <= 0 || ms > 120000 {
			v.fail(prop, `timeout must be between 1 and 120000 ms`)
		}
	}
	if c.MaxRetryAttempts < 0 {
		v.fail(`MaxRetryAttempts`, `retry attempts must not be negative`)
	}
	return v
}

// ValidatePowerSupplyProfile applies PowerSupplyProfile-specific rules.
func ValidatePowerSupplyProfile(p *PowerSupplyProfile) *ValidationResult {
	v := ValidateBase(p.Base)
	if p.Modbus == nil {
		v.fail(`Modbus`, `a Modbus-TCP configuration is mandatory`)
		return v
	}
	mv := ValidateModbusTcpConfiguration(*p.Modbus)
	for k, msg := range mv.Fields {
		v.fail(k, msg)
	}
	return v
}

// ProfileResolver looks an existing profile up by Id; used to validate that
// a JobProfile's references actually resolve.
type ProfileResolver interface {
	SerialExists(id int) bool
	SocatExists(id int) bool
	PowerSupplyExists(id int) bool
}

// ValidateJobProfile applies JobProfile-specific rules, including reference
// resolution against an existing set of profiles.
func ValidateJobProfile(p *JobProfile, resolver ProfileResolver) *ValidationResult {
	v := ValidateBase(p.Base)
	if resolver != nil {
		if !resolver.SerialExists(p.SerialProfileId) {
			v.fail(`SerialProfileId`, `referenced serial profile does not exist`)
		}
		if !resolver.SocatExists(p.SocatProfileId) {
			v.fail(`SocatProfileId`, `referenced socat profile does not exist`)
		}
		if !resolver.PowerSupplyExists(p.PowerSupplyProfileId) {
			v.fail(`PowerSupplyProfileId`, `referenced power supply profile does not exist`)
		}
	}
	if p.MemoryRegion.Length == 0 {
		v.fail(`MemoryRegion.Length`, `memory length must be greater than zero`)
	}
	if dir := strings.TrimSpace(p.OutputDirectory); dir == `` {
		v.fail(`OutputDirectory`, `output directory must not be empty`)
	} else if !isWritableDir(dir) {
		v.fail(`OutputDirectory`, `output directory does not exist or is not writeable`)
	}
	return v
}

// isWritableDir probes, without creating or modifying anything, whether dir
// exists and the current process can write to it.
func isWritableDir(dir string) bool {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return false
	}
	return unix.Access(dir, unix.W_OK) == nil
}
