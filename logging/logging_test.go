/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package logging

import (
	"bytes"
	"io"
	"testing"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func newBufLogger() (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New(nopCloser{buf})
	return l, buf
}

var _ io.WriteCloser = nopCloser{}

func TestLevelFiltering(t *testing.T) {
	l, buf := newBufLogger()
	if err := l.SetLevel(WARN); err != nil {
		t.Fatal(err)
	}
	l.Info(`should not appear`)
	if buf.Len() != 0 {
		t.Fatalf("expected INFO to be filtered at WARN level, got %q", buf.String())
	}
	l.Warn(`should appear`)
	if buf.Len() == 0 {
		t.Fatal("expected WARN to be logged at WARN level")
	}
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString(`error`)
	if err != nil || lvl != ERROR {
		t.Fatalf("expected ERROR, got %v err=%v", lvl, err)
	}
	if _, err := LevelFromString(`bogus`); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestKVStructuredFieldsPresent(t *testing.T) {
	l, buf := newBufLogger()
	l.Info(`task started`, KV(`taskId`, `abc-123`), KVErr(nil))
	if !bytes.Contains(buf.Bytes(), []byte(`taskId`)) {
		t.Fatalf("expected structured field name in output, got %q", buf.String())
	}
}
