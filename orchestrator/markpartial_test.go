/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMarkPartialRenamesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, `dump.bin`)
	if err := os.WriteFile(path, []byte(`partial bytes`), 0o644); err != nil {
		t.Fatal(err)
	}
	markPartial(path)
	if _, err := os.Stat(path); err == nil {
		t.Fatal("expected original path to be gone after marking partial")
	}
	if _, err := os.Stat(path + partialSuffix); err != nil {
		t.Fatalf("expected .partial file to exist: %v", err)
	}
}

func TestMarkPartialIsNoOpWhenNoFileWasCreated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, `never-created.bin`)
	markPartial(path) // must not panic or create anything
	if _, err := os.Stat(path + partialSuffix); err == nil {
		t.Fatal("expected no .partial file when nothing was ever written")
	}
}
