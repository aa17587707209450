/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package profilestore

import (
	"testing"

	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/profile"
)

func newSerialStore(t *testing.T) *Store[profile.SerialPortProfile, *profile.SerialPortProfile] {
	t.Helper()
	s, err := New[profile.SerialPortProfile](t.TempDir(), profile.KindSerial, profile.ValidateSerialPortProfile, logging.NewDiscard())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func sample(name string) *profile.SerialPortProfile {
	return &profile.SerialPortProfile{
		Base:        profile.Base{Name: name},
		Device:      `/dev/ttyUSB0`,
		Baud:        115200,
		DataBits:    8,
		Parity:      profile.ParityNone,
		StopBits:    profile.StopBits1,
		FlowControl: profile.FlowNone,
	}
}

func TestDefaultProfileBootstrap(t *testing.T) {
	s := newSerialStore(t)
	def, rerr := s.EnsureDefaultExists(func() *profile.SerialPortProfile {
		p := sample(profile.DefaultSerialName)
		p.Base.Name = profile.DefaultSerialName
		return p
	})
	if rerr != nil {
		t.Fatal(rerr)
	}
	if def.Id != 1 || !def.IsDefault || !def.IsReadOnly {
		t.Fatalf("expected Id=1, default, read-only; got %+v", def.Base)
	}
}

func TestUpdateDeleteReadOnlyUnauthorized(t *testing.T) {
	s := newSerialStore(t)
	def, rerr := s.EnsureDefaultExists(func() *profile.SerialPortProfile {
		return sample(profile.DefaultSerialName)
	})
	if rerr != nil {
		t.Fatal(rerr)
	}
	if _, uerr := s.Update(def); uerr == nil || uerr.Kind.String() != `Unauthorized` {
		t.Fatalf("expected Unauthorized on Update of read-only profile, got %v", uerr)
	}
	if derr := s.Delete(def.Id); derr == nil || derr.Kind.String() != `Unauthorized` {
		t.Fatalf("expected Unauthorized on Delete of read-only profile, got %v", derr)
	}
}

func TestIdGapFilling(t *testing.T) {
	s := newSerialStore(t)
	names := []string{`serial-a`, `serial-b`, `serial-c`}
	var ids []int
	for _, name := range names {
		p, rerr := s.Create(sample(name))
		if rerr != nil {
			t.Fatal(rerr)
		}
		ids = append(ids, p.Id)
	}
	if ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("expected ids 1,2,3 got %v", ids)
	}
	if derr := s.Delete(ids[1]); derr != nil {
		t.Fatal(derr)
	}
	fourth, rerr := s.Create(sample(`serial-d`))
	if rerr != nil {
		t.Fatal(rerr)
	}
	if fourth.Id != 2 {
		t.Fatalf("expected gap-filled id 2, got %d", fourth.Id)
	}
}

func TestResourceConflictCreateNameUnique(t *testing.T) {
	s := newSerialStore(t)
	if _, rerr := s.Create(sample(`dup`)); rerr != nil {
		t.Fatal(rerr)
	}
	if _, rerr := s.Create(sample(`dup`)); rerr == nil || rerr.Kind.String() != `Conflict` {
		t.Fatalf("expected Conflict on duplicate name, got %v", rerr)
	}
}

func TestSetDefaultIdempotent(t *testing.T) {
	s := newSerialStore(t)
	a, _ := s.Create(sample(`a`))
	b, _ := s.Create(sample(`b`))
	if rerr := s.SetDefault(a.Id); rerr != nil {
		t.Fatal(rerr)
	}
	if rerr := s.SetDefault(a.Id); rerr != nil {
		t.Fatal(rerr)
	}
	got, _ := s.GetById(a.Id)
	if !got.IsDefault {
		t.Fatal("expected a to remain default")
	}
	other, _ := s.GetById(b.Id)
	if other.IsDefault {
		t.Fatal("expected only one default")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newSerialStore(t)
	s.Create(sample(`a`))
	s.Create(sample(`b`))
	exported := s.Export()

	s2 := newSerialStore(t)
	if rerr := s2.Import(exported, true); rerr != nil {
		t.Fatal(rerr)
	}
	if len(s2.GetAll()) != len(exported) {
		t.Fatalf("expected %d profiles after import, got %d", len(exported), len(s2.GetAll()))
	}
}

func TestImportConflictWithoutReplace(t *testing.T) {
	s := newSerialStore(t)
	s.Create(sample(`a`))
	err := s.Import([]*profile.SerialPortProfile{sample(`a`)}, false)
	if err == nil || err.Kind.String() != `Conflict` {
		t.Fatalf("expected Conflict, got %v", err)
	}
}
