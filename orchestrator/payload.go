/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package orchestrator

// PayloadProvider supplies the stager and dumper byte payloads the PLC
// client installs during a job. Real payloads are hardware- and
// firmware-version-specific and are not part of the available source
// material, so this is an interface: a concrete provider backed by real
// firmware images can be substituted without touching pipeline structure.
type PayloadProvider interface {
	StagerPayload() []byte
	DumperPayload() []byte
}

// StaticPayloadProvider returns fixed byte slices, for tests and for
// deployments where a single stager/dumper pair covers every job.
type StaticPayloadProvider struct {
	Stager []byte
	Dumper []byte
}

func (p StaticPayloadProvider) StagerPayload() []byte { return p.Stager }
func (p StaticPayloadProvider) DumperPayload() []byte { return p.Dumper }
