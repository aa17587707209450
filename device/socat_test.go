/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package device

import (
	"net"
	"strings"
	"testing"

	"github.com/s7tools/engine/profile"
)

func TestBuildSocatArgsWireFormat(t *testing.T) {
	p := &profile.SocatProfile{
		Base:       profile.Base{Name: `bridge`},
		ListenPort: 9000,
		BlockSize:  256,
	}
	args := BuildSocatArgs(p, `/dev/ttyUSB0`)
	joined := strings.Join(args, ` `)
	if !strings.Contains(joined, `TCP-LISTEN:9000,fork,reuseaddr`) {
		t.Fatalf("expected TCP-LISTEN clause in %q", joined)
	}
	if !strings.Contains(joined, `/dev/ttyUSB0,raw,echo=0`) {
		t.Fatalf("expected device clause in %q", joined)
	}
	if !strings.Contains(joined, `-b 256`) {
		t.Fatalf("expected block size flag in %q", joined)
	}
}

func TestPortInUseDetection(t *testing.T) {
	ln, err := net.Listen(`tcp`, `:0`)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	if !portInUse(port) {
		t.Fatal("expected port to be reported as in use")
	}
}
