/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package logging is the engine-wide structured logger. It is independent of
// any UI log viewer (out of scope for the engine) and is taken by every
// subsystem at construction rather than reached for as a package global.
//
// Grounded on the teacher's ingest/log package (_examples/gravwell-gravwell),
// which layers leveled, key-value structured logging on top of
// github.com/crewjam/rfc5424 so log lines are syslog-shaped and can be
// shipped off-box later without a format change.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return `DEBUG`
	case INFO:
		return `INFO`
	case WARN:
		return `WARN`
	case ERROR:
		return `ERROR`
	case CRITICAL:
		return `CRITICAL`
	case FATAL:
		return `FATAL`
	default:
		return `OFF`
	}
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL, FATAL:
		return rfc5424.User | rfc5424.Crit
	default:
		return rfc5424.User | rfc5424.Debug
	}
}

func LevelFromString(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case `OFF`:
		return OFF, nil
	case `DEBUG`:
		return DEBUG, nil
	case `INFO`:
		return INFO, nil
	case `WARN`, `WARNING`:
		return WARN, nil
	case `ERROR`:
		return ERROR, nil
	case `CRITICAL`:
		return CRITICAL, nil
	case `FATAL`:
		return FATAL, nil
	}
	return OFF, fmt.Errorf("invalid log level %q", s)
}

const (
	defaultDepth = 3
	defaultID    = `s7@1`
	maxHostname  = 255
	maxAppname   = 48
)

var ErrNotOpen = errors.New("logger is not open")

type discardCloser struct{}

func (discardCloser) Close() error               { return nil }
func (discardCloser) Write(b []byte) (int, error) { return len(b), nil }

// Logger is a leveled, structured, multi-writer logger.
type Logger struct {
	wtrs     []io.WriteCloser
	mtx      sync.Mutex
	lvl      Level
	hot      bool
	hostname string
	appname  string
}

// New creates a Logger writing to wtr at level INFO.
func New(wtr io.WriteCloser) *Logger {
	l := &Logger{wtrs: []io.WriteCloser{wtr}, lvl: INFO, hot: true}
	l.guessHostnameAppname()
	return l
}

// NewFile opens (creating if necessary) f in append mode and returns a Logger for it.
func NewFile(f string) (*Logger, error) {
	fout, err := os.OpenFile(f, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0660)
	if err != nil {
		return nil, err
	}
	return New(fout), nil
}

func NewDiscard() *Logger {
	return New(discardCloser{})
}

func (l *Logger) guessHostnameAppname() {
	if h, err := os.Hostname(); err == nil {
		if len(h) > maxHostname {
			h = h[:maxHostname]
		}
		l.hostname = h
	}
	if args := os.Args; len(args) > 0 {
		exe := filepath.Base(args[0])
		if ext := filepath.Ext(exe); len(ext) > 0 && len(ext) < len(exe) {
			exe = strings.TrimSuffix(exe, ext)
		}
		if len(exe) > maxAppname {
			exe = exe[:maxAppname]
		}
		l.appname = exe
	}
}

func (l *Logger) ready() error {
	if !l.hot || len(l.wtrs) == 0 {
		return ErrNotOpen
	}
	return nil
}

func (l *Logger) Close() (err error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if err = l.ready(); err != nil {
		return
	}
	l.hot = false
	for _, w := range l.wtrs {
		if lerr := w.Close(); lerr != nil {
			err = lerr
		}
	}
	return
}

func (l *Logger) AddWriter(wtr io.WriteCloser) error {
	if wtr == nil {
		return errors.New("nil writer")
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if err := l.ready(); err != nil {
		return err
	}
	l.wtrs = append(l.wtrs, wtr)
	return nil
}

func (l *Logger) SetLevelString(s string) error {
	lvl, err := LevelFromString(s)
	if err != nil {
		return err
	}
	return l.SetLevel(lvl)
}

func (l *Logger) SetLevel(lvl Level) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if err := l.ready(); err != nil {
		return err
	}
	l.lvl = lvl
	return nil
}

// KV builds a structured field. Mirrors the teacher's log.KV helper.
func KV(name string, value interface{}) rfc5424.SDParam {
	var r rfc5424.SDParam
	r.Name = name
	if s, ok := value.(string); ok {
		r.Value = s
	} else {
		r.Value = fmt.Sprintf("%v", value)
	}
	return r
}

func KVErr(err error) rfc5424.SDParam {
	return KV(`error`, err)
}

func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam) error {
	return l.output(defaultDepth, DEBUG, msg, sds...)
}

func (l *Logger) Info(msg string, sds ...rfc5424.SDParam) error {
	return l.output(defaultDepth, INFO, msg, sds...)
}

func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam) error {
	return l.output(defaultDepth, WARN, msg, sds...)
}

func (l *Logger) Error(msg string, sds ...rfc5424.SDParam) error {
	return l.output(defaultDepth, ERROR, msg, sds...)
}

func (l *Logger) Critical(msg string, sds ...rfc5424.SDParam) error {
	return l.output(defaultDepth, CRITICAL, msg, sds...)
}

func (l *Logger) Fatal(msg string, sds ...rfc5424.SDParam) {
	l.output(defaultDepth, FATAL, msg, sds...)
	os.Exit(1)
}

func (l *Logger) output(depth int, lvl Level, msg string, sds ...rfc5424.SDParam) error {
	l.mtx.Lock()
	skip := l.lvl == OFF || lvl < l.lvl
	l.mtx.Unlock()
	if skip {
		return nil
	}
	ts := time.Now()
	ln := strings.TrimRight(l.genLine(ts, callLoc(depth), lvl, msg, sds...), "\n\t\r")
	return l.writeLine(ln)
}

func (l *Logger) genLine(ts time.Time, pfx string, lvl Level, msg string, sds ...rfc5424.SDParam) string {
	b, err := GenRFCMessage(ts, lvl.priority(), l.hostname, l.appname, pfx, msg, sds...)
	if err != nil {
		return ``
	}
	return string(b)
}

// GenRFCMessage frames a single log record per RFC5424. Field length limits
// (appname 48, msgid 32, hostname 255) follow the RFC and the teacher.
func GenRFCMessage(ts time.Time, prio rfc5424.Priority, hostname, appname, msgid, msg string, sds ...rfc5424.SDParam) ([]byte, error) {
	m := rfc5424.Message{
		Priority:  prio,
		Timestamp: ts,
		Hostname:  trim(hostname, maxHostname),
		AppName:   trim(appname, maxAppname),
		MessageID: trim(msgid, 32),
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{{ID: defaultID, Parameters: sds}}
	}
	return m.MarshalBinary()
}

func trim(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (l *Logger) writeLine(ln string) (err error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if rerr := l.ready(); rerr != nil {
		return rerr
	}
	for _, w := range l.wtrs {
		if _, lerr := io.WriteString(w, ln+"\n"); lerr != nil {
			err = lerr
		}
	}
	return
}

func callLoc(depth int) string {
	if _, file, line, ok := runtime.Caller(depth); ok {
		return fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return `?`
}
