/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package profile holds the typed configuration objects (serial link, socat
// bridge, power supply, job) and the rules that keep a collection of them
// consistent: uniqueness, a single default, and read-only protection.
//
// Profile = Serial(...) | Socat(...) | PowerSupply(...) | Job(...) is modeled
// as a tagged variant: a shared Base carries the common fields and every
// concrete type satisfies the Profile interface, the way the spec's redesign
// notes ask for in place of the source's view-model inheritance.
package profile

import "time"

// Kind tags which concrete profile type a Profile value is.
type Kind int

const (
	KindSerial Kind = iota
	KindSocat
	KindPowerSupply
	KindJob
)

func (k Kind) String() string {
	switch k {
	case KindSerial:
		return `Serial`
	case KindSocat:
		return `Socat`
	case KindPowerSupply:
		return `PowerSupply`
	case KindJob:
		return `Job`
	default:
		return `Unknown`
	}
}

// Base carries the fields common to every profile type (spec.md §3).
type Base struct {
	Id          int               `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	IsDefault   bool              `json:"isDefault"`
	IsReadOnly  bool              `json:"isReadOnly"`
	CreatedAt   time.Time         `json:"createdAt"`
	ModifiedAt  time.Time         `json:"modifiedAt"`
	Version     string            `json:"version"`
	Options     string            `json:"options"`
	Flags       string            `json:"flags"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Profile is satisfied by every concrete profile type.
type Profile interface {
	Kind() Kind
	GetBase() *Base
}

func (b *Base) GetBase() *Base { return b }

// --- Serial ---------------------------------------------------------------

type Parity string

const (
	ParityNone  Parity = `none`
	ParityOdd   Parity = `odd`
	ParityEven  Parity = `even`
	ParityMark  Parity = `mark`
	ParitySpace Parity = `space`
)

type StopBits string

const (
	StopBits1   StopBits = `1`
	StopBits1_5 StopBits = `1.5`
	StopBits2   StopBits = `2`
)

type FlowControl string

const (
	FlowNone    FlowControl = `none`
	FlowRTSCTS  FlowControl = `rtscts`
	FlowXONXOFF FlowControl = `xonxoff`
)

// SerialPortProfile is a typed configuration driving the `stty` adapter.
type SerialPortProfile struct {
	Base
	Device      string      `json:"device"`
	Baud        int         `json:"baud"`
	DataBits    int         `json:"dataBits"`
	Parity      Parity      `json:"parity"`
	StopBits    StopBits    `json:"stopBits"`
	FlowControl FlowControl `json:"flowControl"`
	RawMode     bool        `json:"rawMode"`
}

func (p *SerialPortProfile) Kind() Kind { return KindSerial }

// AllowedBaudRates mirrors the POSIX termios baud constants reachable via stty.
var AllowedBaudRates = []int{50, 75, 110, 134, 150, 200, 300, 600, 1200, 1800,
	2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 500000,
	576000, 921600, 1000000, 1152000, 1500000, 2000000, 2500000, 3000000,
	3500000, 4000000}

// --- Socat ------------------------------------------------------------------

// SocatProfile configures the socat TCP<->serial bridge.
type SocatProfile struct {
	Base
	ListenPort      int    `json:"listenPort"`
	BlockSize       int    `json:"blockSize"`
	Verbose         bool   `json:"verbose"`
	HexDump         bool   `json:"hexDump"`
	Fork            bool   `json:"fork"`
	ReuseAddr       bool   `json:"reuseAddr"`
	DeviceOverride  string `json:"deviceOverride,omitempty"`
}

func (p *SocatProfile) Kind() Kind { return KindSocat }

// --- Power supply -----------------------------------------------------------

type AddressingMode string

const (
	Base0 AddressingMode = `base0`
	Base1 AddressingMode = `base1`
)

// ModbusTcpConfiguration is the mandatory power-supply configuration variant.
type ModbusTcpConfiguration struct {
	Host                string         `json:"host"`
	Port                int            `json:"port"`
	DeviceId            int            `json:"deviceId"`
	OnOffCoil           uint16         `json:"onOffCoil"`
	AddressingMode      AddressingMode `json:"addressingMode"`
	ConnectTimeoutMs    int            `json:"connectTimeoutMs"`
	ReadTimeoutMs       int            `json:"readTimeoutMs"`
	WriteTimeoutMs      int            `json:"writeTimeoutMs"`
	AutoReconnect       bool           `json:"autoReconnect"`
	MaxRetryAttempts    int            `json:"maxRetryAttempts"`
	ReconnectDelayMs    int            `json:"reconnectDelayMs"`
}

// WireCoil converts OnOffCoil to the 0-based address placed on the wire.
func (c ModbusTcpConfiguration) WireCoil() uint16 {
	if c.AddressingMode == Base1 && c.OnOffCoil > 0 {
		return c.OnOffCoil - 1
	}
	return c.OnOffCoil
}

// PowerSupplyProfile wraps a polymorphic Configuration. Modbus-TCP is the
// only variant this spec requires; the field is kept as a concrete pointer
// rather than an interface{} so profile JSON files round-trip exactly, with
// room for future variants to be added as additional optional pointers.
type PowerSupplyProfile struct {
	Base
	Modbus *ModbusTcpConfiguration `json:"modbus"`
}

func (p *PowerSupplyProfile) Kind() Kind { return KindPowerSupply }

// --- Job ---------------------------------------------------------------------

// MemoryRegion is the PLC address range to dump.
type MemoryRegion struct {
	StartAddress uint32 `json:"startAddress"`
	Length       uint32 `json:"length"`
}

// JobProfile references the serial, socat and power-supply profiles that
// together describe one dump job.
type JobProfile struct {
	Base
	SerialProfileId      int          `json:"serialProfileId"`
	SocatProfileId       int          `json:"socatProfileId"`
	PowerSupplyProfileId int          `json:"powerSupplyProfileId"`
	MemoryRegion         MemoryRegion `json:"memoryRegion"`
	OutputDirectory      string       `json:"outputDirectory"`
	IsTemplate           bool         `json:"isTemplate"`
}

func (p *JobProfile) Kind() Kind { return KindJob }

// System default profile names, per spec.md §6.
const (
	DefaultSerialName      = `SerialDefault`
	DefaultSocatName       = `SocatDefault`
	DefaultPowerSupplyName = `PowerSupplyDefault`
	DefaultJobName         = `S7Tools Default`
)
