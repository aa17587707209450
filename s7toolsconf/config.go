/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package s7toolsconf loads and persists the daemon's own INI configuration
// file (distinct from the per-profile JSON files the engine manages at
// runtime — see package profilestore). The loader/verify/atomic-rewrite
// shape is grounded on the teacher's ingest/config package
// (_examples/gravwell-gravwell), substituting github.com/gravwell/gcfg for
// INI parsing and github.com/google/go-write for the atomic rewrite, exactly
// as the teacher does.
package s7toolsconf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-write"
	"github.com/google/uuid"
	"github.com/gravwell/gcfg"

	"github.com/s7tools/engine/logging"
)

const maxConfigSize int64 = 1 * 1024 * 1024

var (
	ErrConfigFileTooLarge = errors.New(`configuration file is too large`)
	ErrMissingProfilePath = errors.New(`Profiles-Base-Path must be set`)
)

// Global mirrors the [global] section of the daemon's INI config file.
type Global struct {
	Profiles_Base_Path  string
	Stty_Binary         string
	Socat_Binary        string
	Max_Concurrent_Tasks int
	Log_File            string
	Log_Level           string
	Daemon_UUID         string
}

type Config struct {
	Global Global

	loadedFrom string
}

func defaults() Global {
	return Global{
		Stty_Binary:          `stty`,
		Socat_Binary:         `socat`,
		Max_Concurrent_Tasks: 2,
		Log_Level:            `INFO`,
	}
}

// Load reads and parses the INI file at path, applying defaults for any
// field the file leaves unset.
func Load(path string) (*Config, error) {
	fin, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fin.Close()
	fi, err := fin.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, ErrConfigFileTooLarge
	}
	bb := bytes.NewBuffer(nil)
	if _, err := io.Copy(bb, fin); err != nil {
		return nil, err
	}

	c := &Config{Global: defaults(), loadedFrom: path}
	if err := gcfg.ReadStringInto(c, bb.String()); err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", path, err)
	}
	return c, nil
}

// Verify checks that required fields are present and normalizes values,
// mirroring the teacher's IngestConfig.Verify.
func (c *Config) Verify() error {
	if c.Global.Profiles_Base_Path == `` {
		return ErrMissingProfilePath
	}
	if c.Global.Stty_Binary == `` {
		c.Global.Stty_Binary = `stty`
	}
	if c.Global.Socat_Binary == `` {
		c.Global.Socat_Binary = `socat`
	}
	if c.Global.Max_Concurrent_Tasks <= 0 {
		c.Global.Max_Concurrent_Tasks = 2
	}
	c.Global.Log_Level = strings.ToUpper(strings.TrimSpace(c.Global.Log_Level))
	if c.Global.Log_Level == `` {
		c.Global.Log_Level = `INFO`
	}
	if _, err := logging.LevelFromString(c.Global.Log_Level); err != nil {
		return fmt.Errorf("invalid Log-Level %q: %w", c.Global.Log_Level, err)
	}
	return nil
}

// DaemonUUID returns the config's stamped UUID, and whether it was already
// present (false means EnsureUUID should be called to mint and persist one).
func (c *Config) DaemonUUID() (id uuid.UUID, ok bool) {
	if c.Global.Daemon_UUID == `` {
		return
	}
	var err error
	if id, err = uuid.Parse(c.Global.Daemon_UUID); err == nil {
		ok = true
	}
	return
}

// EnsureUUID mints a UUID and rewrites the config file if one isn't already
// stamped, matching the teacher's IngesterUUID/SetIngesterUUID pattern.
func (c *Config) EnsureUUID() (uuid.UUID, error) {
	if id, ok := c.DaemonUUID(); ok {
		return id, nil
	}
	id := uuid.New()
	c.Global.Daemon_UUID = id.String()
	if err := c.rewriteUUIDLine(id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// rewriteUUIDLine appends/updates the Daemon-UUID parameter in the [global]
// section in place, atomically, without reserializing the whole struct
// (field ordering/comments in hand-edited config files are preserved this
// way, matching the teacher's line-level config rewrite).
func (c *Config) rewriteUUIDLine(id uuid.UUID) error {
	if c.loadedFrom == `` {
		return errors.New(`configuration was not loaded from a file, cannot update`)
	}
	raw, err := os.ReadFile(c.loadedFrom)
	if err != nil {
		return err
	}
	lines := strings.Split(string(raw), "\n")
	found := false
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), `Daemon-UUID`) {
			lines[i] = fmt.Sprintf("Daemon-UUID=%s", id.String())
			found = true
			break
		}
	}
	if !found {
		lines = appendUnderGlobal(lines, fmt.Sprintf("Daemon-UUID=%s", id.String()))
	}
	return atomicRewrite(c.loadedFrom, strings.Join(lines, "\n"))
}

func appendUnderGlobal(lines []string, newLine string) []string {
	for i, l := range lines {
		if strings.TrimSpace(l) == `[global]` {
			out := make([]string, 0, len(lines)+1)
			out = append(out, lines[:i+1]...)
			out = append(out, newLine)
			out = append(out, lines[i+1:]...)
			return out
		}
	}
	return append(lines, `[global]`, newLine)
}

func atomicRewrite(loc, content string) error {
	fout, err := write.TempFile(filepath.Dir(loc), loc)
	if err != nil {
		return err
	}
	if err := writeFull(fout, []byte(content)); err != nil {
		return err
	}
	return fout.CloseAtomicallyReplace()
}

func writeFull(w io.Writer, b []byte) error {
	written := 0
	for written < len(b) {
		n, err := w.Write(b[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New(`empty write`)
		}
		written += n
	}
	return nil
}

// GetLogger builds the daemon's structured logger from the config's
// Log-File/Log-Level fields.
func (c *Config) GetLogger() (*logging.Logger, error) {
	var lg *logging.Logger
	var err error
	if c.Global.Log_File == `` {
		lg = logging.NewDiscard()
	} else {
		lg, err = logging.NewFile(c.Global.Log_File)
	}
	if err != nil {
		return nil, err
	}
	if serr := lg.SetLevelString(c.Global.Log_Level); serr != nil {
		return nil, serr
	}
	return lg, nil
}
