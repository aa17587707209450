/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package engine

import "github.com/s7tools/engine/profile"

func defaultSerialProfile() *profile.SerialPortProfile {
	return &profile.SerialPortProfile{
		Base: profile.Base{Name: profile.DefaultSerialName, Description: `Factory default serial line configuration`, Version: `1`},
		Device:      `/dev/ttyUSB0`,
		Baud:        115200,
		DataBits:    8,
		Parity:      profile.ParityNone,
		StopBits:    profile.StopBits1,
		FlowControl: profile.FlowNone,
		RawMode:     true,
	}
}

func defaultSocatProfile() *profile.SocatProfile {
	return &profile.SocatProfile{
		Base:      profile.Base{Name: profile.DefaultSocatName, Description: `Factory default TCP bridge configuration`, Version: `1`},
		ListenPort: 9000,
		BlockSize:  256,
		Fork:       true,
		ReuseAddr:  true,
	}
}

func defaultPowerSupplyProfile() *profile.PowerSupplyProfile {
	return &profile.PowerSupplyProfile{
		Base: profile.Base{Name: profile.DefaultPowerSupplyName, Description: `Factory default Modbus-TCP power supply`, Version: `1`},
		Modbus: &profile.ModbusTcpConfiguration{
			Host:             `192.168.1.50`,
			Port:             502,
			DeviceId:         1,
			OnOffCoil:        1,
			AddressingMode:   profile.Base1,
			ConnectTimeoutMs: 2000,
			ReadTimeoutMs:    1000,
			WriteTimeoutMs:   1000,
			AutoReconnect:    true,
			MaxRetryAttempts: 2,
			ReconnectDelayMs: 500,
		},
	}
}

func defaultJobProfile(serialId, socatId, powerId int) *profile.JobProfile {
	return &profile.JobProfile{
		Base: profile.Base{Name: profile.DefaultJobName, Description: `Factory default dump job`, Version: `1`},
		SerialProfileId:      serialId,
		SocatProfileId:       socatId,
		PowerSupplyProfileId: powerId,
		MemoryRegion:         profile.MemoryRegion{StartAddress: 0, Length: 0x10000},
		OutputDirectory:      `dumps`,
	}
}
