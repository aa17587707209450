/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package device

import (
	"strings"
	"testing"

	"github.com/s7tools/engine/profile"
)

func sampleSerial() *profile.SerialPortProfile {
	return &profile.SerialPortProfile{
		Base:        profile.Base{Name: `p`},
		Device:      `/dev/ttyUSB0`,
		Baud:        115200,
		DataBits:    8,
		Parity:      profile.ParityEven,
		StopBits:    profile.StopBits2,
		FlowControl: profile.FlowRTSCTS,
	}
}

func TestBuildSttyArgsEveryTokenAllowed(t *testing.T) {
	args, rerr := BuildSttyArgs(`/dev/ttyUSB0`, sampleSerial())
	if rerr != nil {
		t.Fatal(rerr)
	}
	for _, tok := range args[2:] {
		if sttyAllowedTokens[tok] || isDataBitsToken(tok) || isBaudToken(tok) {
			continue
		}
		t.Fatalf("token %q not in allowlist", tok)
	}
	joined := strings.Join(args, ` `)
	if !strings.Contains(joined, `parenb`) || !strings.Contains(joined, `-parodd`) {
		t.Fatalf("expected even parity tokens in %q", joined)
	}
	if !strings.Contains(joined, `cstopb`) {
		t.Fatalf("expected 2 stop bits token in %q", joined)
	}
	if !strings.Contains(joined, `crtscts`) {
		t.Fatalf("expected rts/cts token in %q", joined)
	}
}

func TestBuildSttyArgsRejectsUnknownParity(t *testing.T) {
	p := sampleSerial()
	p.Parity = profile.Parity(`Mark`)
	if _, rerr := BuildSttyArgs(`/dev/ttyUSB0`, p); rerr == nil {
		t.Fatal("expected validation error for unsupported parity")
	}
}
