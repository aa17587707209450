/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package profilestore loads, validates, persists and indexes profile JSON
// files. One file per profile lives under a per-type directory
// (<base>/SerialPortProfiles/, .../SocatProfiles/, .../PowerSupplyProfiles/,
// .../JobProfiles/, per spec.md §6). Writes are atomic (write-temp-then-
// rename), grounded on the teacher's own atomic-state idiom in
// ingesters/utils/state.go (_examples/gravwell-gravwell), which uses
// github.com/dchest/safefile for exactly this write-commit-or-discard shape;
// this package uses the same library for the same reason, swapping gob for
// JSON since profile files are a JSON wire format (spec.md §6).
package profilestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dchest/safefile"

	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/profile"
	"github.com/s7tools/engine/result"
)

// ProfilePtr constrains T to a struct type whose pointer implements
// profile.Profile, the idiomatic Go stand-in for "every concrete profile
// type participates in the same store machinery" without inheritance.
type ProfilePtr[T any] interface {
	*T
	profile.Profile
}

// ChangeOp identifies what kind of mutation produced a ChangeEvent.
type ChangeOp int

const (
	OpCreate ChangeOp = iota
	OpUpdate
	OpDelete
)

func (o ChangeOp) String() string {
	switch o {
	case OpCreate:
		return `create`
	case OpUpdate:
		return `update`
	case OpDelete:
		return `delete`
	default:
		return `unknown`
	}
}

// ChangeEvent is published whenever a profile is created, updated or deleted.
type ChangeEvent struct {
	Kind profile.Kind
	Op   ChangeOp
	Id   int
}

const eventQueueDepth = 32

// Store is a generic, directory-backed, JSON profile store for one profile
// type T. PT is *T, carrying profile.Profile's methods.
type Store[T any, PT ProfilePtr[T]] struct {
	dir      string
	kind     profile.Kind
	validate func(PT) *profile.ValidationResult
	lg       *logging.Logger

	mu     sync.RWMutex
	byId   map[int]PT
	byName map[string]int // lowercased name -> id

	subMu sync.Mutex
	subs  []chan ChangeEvent
}

// New constructs a Store rooted at dir (created if missing), validating
// every mutation with validate.
func New[T any, PT ProfilePtr[T]](dir string, kind profile.Kind, validate func(PT) *profile.ValidationResult, lg *logging.Logger) (*Store[T, PT], error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating profile directory %s: %w", dir, err)
	}
	s := &Store[T, PT]{
		dir:      dir,
		kind:     kind,
		validate: validate,
		lg:       lg,
		byId:     map[int]PT{},
		byName:   map[string]int{},
	}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store[T, PT]) scan() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", s.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), `.json`) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			s.lg.Warn("failed to read profile file", logging.KV(`path`, path), logging.KVErr(err))
			continue
		}
		var p T
		if err := json.Unmarshal(b, &p); err != nil {
			s.lg.Warn("failed to parse profile file, skipping", logging.KV(`path`, path), logging.KVErr(err))
			continue
		}
		pt := PT(&p)
		base := pt.GetBase()
		if len(base.Version) > 10 {
			s.lg.Warn("profile has an unsupported schema version, skipping", logging.KV(`path`, path), logging.KV(`version`, base.Version))
			continue
		}
		s.byId[base.Id] = pt
		s.byName[strings.ToLower(base.Name)] = base.Id
	}
	return nil
}

func (s *Store[T, PT]) pathFor(id int) string {
	return filepath.Join(s.dir, strconv.Itoa(id)+`.json`)
}

func (s *Store[T, PT]) writeLocked(pt PT) error {
	b, err := json.MarshalIndent(pt, ``, `  `)
	if err != nil {
		return err
	}
	f, err := safefile.Create(s.pathFor(pt.GetBase().Id), 0640)
	if err != nil {
		return err
	}
	if _, err = f.Write(b); err != nil {
		f.File.Close()
		os.Remove(f.Name())
		return err
	}
	if err = f.Commit(); err != nil {
		f.File.Close()
		os.Remove(f.Name())
		return err
	}
	return nil
}

func (s *Store[T, PT]) removeLocked(id int) error {
	err := os.Remove(s.pathFor(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store[T, PT]) publish(ev ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.lg.Warn("dropping profile change event for slow subscriber", logging.KV(`kind`, ev.Kind.String()))
		}
	}
}

// Subscribe returns a bounded channel of change events. The caller must keep
// draining it; slow subscribers have events dropped rather than stalling
// store mutations (the same back-pressure policy spec.md §4.6 applies to
// scheduler events).
func (s *Store[T, PT]) Subscribe() <-chan ChangeEvent {
	ch := make(chan ChangeEvent, eventQueueDepth)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

// GetAll returns a snapshot slice of all profiles, sorted by Id.
func (s *Store[T, PT]) GetAll() []PT {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PT, 0, len(s.byId))
	for _, p := range s.byId {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetBase().Id < out[j].GetBase().Id })
	return out
}

func (s *Store[T, PT]) bases() []profile.Base {
	bs := make([]profile.Base, 0, len(s.byId))
	for _, p := range s.byId {
		bs = append(bs, *p.GetBase())
	}
	return bs
}

// GetById returns the profile with id, if present.
func (s *Store[T, PT]) GetById(id int) (PT, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byId[id]
	return p, ok
}

// GetByName looks a profile up case-insensitively by name.
func (s *Store[T, PT]) GetByName(name string) (PT, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.ToLower(name)]
	if !ok {
		var zero PT
		return zero, false
	}
	p := s.byId[id]
	return p, true
}

// GetDefault returns the profile with IsDefault=true, if any.
func (s *Store[T, PT]) GetDefault() (PT, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byId {
		if p.GetBase().IsDefault {
			return p, true
		}
	}
	var zero PT
	return zero, false
}

// IsNameUnique reports whether name is free, excluding excludeId.
func (s *Store[T, PT]) IsNameUnique(name string, excludeId int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return profile.IsNameUnique(s.bases(), name, excludeId)
}

// EnsureUniqueName returns a name guaranteed free in this store.
func (s *Store[T, PT]) EnsureUniqueName(base string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return profile.EnsureUniqueName(s.bases(), base)
}

// GetNextAvailableId returns the lowest unused positive id.
func (s *Store[T, PT]) GetNextAvailableId() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return profile.GetNextAvailableId(s.bases())
}

func clone[T any, PT ProfilePtr[T]](pt PT) PT {
	cp := *pt
	return PT(&cp)
}

// Create assigns the next available Id, stamps timestamps, validates,
// writes atomically and publishes a change event.
func (s *Store[T, PT]) Create(pt PT) (PT, *result.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := pt.GetBase()
	if !profile.IsNameUnique(s.bases(), base.Name, 0) {
		var zero PT
		return zero, result.New(result.Conflict, fmt.Sprintf("a profile named %q already exists", base.Name)).WithProperty(`Name`)
	}
	if v := s.validate(pt); !v.OK() {
		var zero PT
		return zero, v.Primary
	}
	now := time.Now().UTC()
	base.Id = profile.GetNextAvailableId(s.bases())
	base.CreatedAt = now
	base.ModifiedAt = now

	if err := s.writeLocked(pt); err != nil {
		var zero PT
		return zero, result.Wrap(result.Internal, err, `failed to persist profile`)
	}
	s.byId[base.Id] = pt
	s.byName[strings.ToLower(base.Name)] = base.Id
	s.publish(ChangeEvent{Kind: s.kind, Op: OpCreate, Id: base.Id})
	return pt, nil
}

// Update overwrites an existing profile by Id. Read-only profiles refuse
// Update with Unauthorized, per spec.md §4.2.
func (s *Store[T, PT]) Update(pt PT) (PT, *result.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := pt.GetBase()
	existing, ok := s.byId[base.Id]
	if !ok {
		var zero PT
		return zero, result.New(result.NotFound, fmt.Sprintf("no profile with id %d", base.Id))
	}
	if existing.GetBase().IsReadOnly {
		var zero PT
		return zero, result.New(result.Unauthorized, `cannot update a read-only profile`)
	}
	if !profile.IsNameUnique(s.bases(), base.Name, base.Id) {
		var zero PT
		return zero, result.New(result.Conflict, fmt.Sprintf("a profile named %q already exists", base.Name)).WithProperty(`Name`)
	}
	if v := s.validate(pt); !v.OK() {
		var zero PT
		return zero, v.Primary
	}
	base.CreatedAt = existing.GetBase().CreatedAt
	base.ModifiedAt = time.Now().UTC()

	if err := s.writeLocked(pt); err != nil {
		var zero PT
		return zero, result.Wrap(result.Internal, err, `failed to persist profile`)
	}
	delete(s.byName, strings.ToLower(existing.GetBase().Name))
	s.byId[base.Id] = pt
	s.byName[strings.ToLower(base.Name)] = base.Id
	s.publish(ChangeEvent{Kind: s.kind, Op: OpUpdate, Id: base.Id})
	return pt, nil
}

// Delete removes a profile. Read-only and default profiles refuse Delete
// with Unauthorized, per spec.md §4.2.
func (s *Store[T, PT]) Delete(id int) *result.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byId[id]
	if !ok {
		return result.New(result.NotFound, fmt.Sprintf("no profile with id %d", id))
	}
	base := existing.GetBase()
	if base.IsReadOnly {
		return result.New(result.Unauthorized, `cannot delete a read-only profile`)
	}
	if base.IsDefault {
		return result.New(result.Unauthorized, `cannot delete the default profile`)
	}
	if err := s.removeLocked(id); err != nil {
		return result.Wrap(result.Internal, err, `failed to remove profile file`)
	}
	delete(s.byId, id)
	delete(s.byName, strings.ToLower(base.Name))
	s.publish(ChangeEvent{Kind: s.kind, Op: OpDelete, Id: id})
	return nil
}

// Duplicate clones a profile under a fresh Id and a unique derived name.
func (s *Store[T, PT]) Duplicate(id int) (PT, *result.Error) {
	s.mu.RLock()
	existing, ok := s.byId[id]
	s.mu.RUnlock()
	if !ok {
		var zero PT
		return zero, result.New(result.NotFound, fmt.Sprintf("no profile with id %d", id))
	}
	cp := clone[T, PT](existing)
	base := cp.GetBase()
	base.Id = 0
	base.IsDefault = false
	base.IsReadOnly = false
	name, err := s.EnsureUniqueName(base.Name)
	if err != nil {
		var zero PT
		return zero, result.Wrap(result.Internal, err, `failed to derive a unique name`)
	}
	base.Name = name
	return s.Create(cp)
}

// SetDefault clears IsDefault on every other profile and sets it on id.
// Calling SetDefault twice with the same id is idempotent, per spec.md §8.
func (s *Store[T, PT]) SetDefault(id int) *result.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.byId[id]
	if !ok {
		return result.New(result.NotFound, fmt.Sprintf("no profile with id %d", id))
	}
	now := time.Now().UTC()
	for otherId, p := range s.byId {
		if otherId == id {
			continue
		}
		if p.GetBase().IsDefault {
			p.GetBase().IsDefault = false
			p.GetBase().ModifiedAt = now
			if err := s.writeLocked(p); err != nil {
				return result.Wrap(result.Internal, err, `failed to clear previous default`)
			}
		}
	}
	if !target.GetBase().IsDefault {
		target.GetBase().IsDefault = true
		target.GetBase().ModifiedAt = now
		if err := s.writeLocked(target); err != nil {
			return result.Wrap(result.Internal, err, `failed to set default`)
		}
	}
	s.publish(ChangeEvent{Kind: s.kind, Op: OpUpdate, Id: id})
	return nil
}

// EnsureDefaultExists materializes a hard-coded, read-only, default profile
// whenever the store holds no default profile (which includes the first open
// of an empty directory), per spec.md §4.3.
func (s *Store[T, PT]) EnsureDefaultExists(factory func() PT) (PT, *result.Error) {
	if existing, ok := s.GetDefault(); ok {
		return existing, nil
	}
	pt := factory()
	base := pt.GetBase()
	base.IsDefault = true
	base.IsReadOnly = true

	s.mu.Lock()
	base.Id = profile.GetNextAvailableId(s.bases())
	now := time.Now().UTC()
	base.CreatedAt, base.ModifiedAt = now, now
	if err := s.writeLocked(pt); err != nil {
		s.mu.Unlock()
		var zero PT
		return zero, result.Wrap(result.Internal, err, `failed to persist default profile`)
	}
	s.byId[base.Id] = pt
	s.byName[strings.ToLower(base.Name)] = base.Id
	s.mu.Unlock()

	s.publish(ChangeEvent{Kind: s.kind, Op: OpCreate, Id: base.Id})
	return pt, nil
}

// Import loads a batch of profiles. Unique-name and unique-id are enforced
// before any write (all-or-nothing), per spec.md §4.3. With
// replaceExisting=false a name conflict is a Conflict error for the whole
// batch; with true, incoming profiles overwrite by name.
func (s *Store[T, PT]) Import(items []PT, replaceExisting bool) *result.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := append([]profile.Base{}, s.bases()...)
	toWrite := make([]PT, 0, len(items))
	toDeleteNames := map[string]bool{}
	seenNames := map[string]bool{}

	for _, pt := range items {
		base := *pt.GetBase()
		if seenNames[strings.ToLower(base.Name)] {
			return result.New(result.Conflict, fmt.Sprintf("the import batch names %q more than once", base.Name)).WithProperty(`Name`)
		}
		seenNames[strings.ToLower(base.Name)] = true
		if existingId, ok := s.byName[strings.ToLower(base.Name)]; ok {
			if !replaceExisting {
				return result.New(result.Conflict, fmt.Sprintf("a profile named %q already exists", base.Name)).WithProperty(`Name`)
			}
			base.Id = existingId
			toDeleteNames[strings.ToLower(base.Name)] = true
		} else {
			base.Id = profile.GetNextAvailableId(working)
		}
		working = append(working, base)
		cp := clone[T, PT](pt)
		*cp.GetBase() = base
		toWrite = append(toWrite, cp)
	}

	now := time.Now().UTC()
	for _, pt := range toWrite {
		b := pt.GetBase()
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		b.ModifiedAt = now
		if v := s.validate(pt); !v.OK() {
			return v.Primary
		}
	}
	for _, pt := range toWrite {
		if err := s.writeLocked(pt); err != nil {
			return result.Wrap(result.Internal, err, `failed to persist imported profile`)
		}
		base := pt.GetBase()
		s.byId[base.Id] = pt
		s.byName[strings.ToLower(base.Name)] = base.Id
		s.publish(ChangeEvent{Kind: s.kind, Op: OpCreate, Id: base.Id})
	}
	return nil
}

// Export returns every profile in this store, for use with Import to form
// the round-trip law in spec.md §8.
func (s *Store[T, PT]) Export() []PT {
	return s.GetAll()
}
