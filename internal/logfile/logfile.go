// Package logfile implements the reference-counted append-only file handle
// shared between multiple log sinks (spec §4.6). A path of "LOG", "DEBUG",
// "STDOUT", or "STDERR" binds to a process-wide singleton instead of opening
// a new file; "LOG" and "DEBUG" share the two simulator-wide refs that every
// line targeting them bumps the refcount of.
package logfile

import (
	"fmt"
	"os"
	"sync"
)

const (
	sentinelLog    = "LOG"
	sentinelDebug  = "DEBUG"
	sentinelStdout = "STDOUT"
	sentinelStderr = "STDERR"
)

// Ref is one open append-only log target. Multiple lines may share the same
// Ref (the well-known sinks, or any two lines whose log_template expands to
// the same path); Close only performs the underlying close once the
// refcount reaches zero.
type Ref struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	refcount int
	closable bool // false for STDOUT/STDERR: never actually closed
}

// Registry holds the process-wide LOG and DEBUG singleton sinks, mirroring
// the simulator's sim_log / sim_deb globals (spec §9 "Process-wide state").
// The zero value is usable; both singletons start unbound, and Open of
// "LOG" or "DEBUG" fails until BindLog or BindDebug has been called.
type Registry struct {
	mu    sync.Mutex
	log   *Ref
	debug *Ref
}

// BindLog points the registry's shared LOG sink at a real file, opening it
// for append. Any line already holding a ref to the previous LOG target
// keeps writing to it until it releases that ref; new opens of "LOG" from
// this point on resolve to the new file.
func (reg *Registry) BindLog(path string, binary bool) error {
	f, err := openAppend(path, binary)
	if err != nil {
		return err
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.log = &Ref{path: path, file: f, refcount: 0, closable: true}
	return nil
}

// BindDebug is BindLog's counterpart for the DEBUG sink.
func (reg *Registry) BindDebug(path string, binary bool) error {
	f, err := openAppend(path, binary)
	if err != nil {
		return err
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.debug = &Ref{path: path, file: f, refcount: 0, closable: true}
	return nil
}

// UnbindLog detaches the registry's LOG singleton, so later opens of "LOG"
// fail until the next BindLog. It does not close the file and prints no
// message. Lines already holding a ref keep writing to the now-detached
// file until they release it.
func (reg *Registry) UnbindLog() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.log = nil
}

// UnbindDebug is UnbindLog's counterpart for DEBUG.
func (reg *Registry) UnbindDebug() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.debug = nil
}

func openAppend(path string, binary bool) (*os.File, error) {
	flag := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log %q: %w", path, err)
	}
	return f, nil
}

// Open resolves path to a Ref. The four sentinel tokens bind to process
// singletons (bumping refcount for LOG/DEBUG, never actually opening a file
// for STDOUT/STDERR); any other path is opened for append, binary or text.
func (reg *Registry) Open(path string, binary bool) (*Ref, error) {
	switch path {
	case sentinelStdout:
		return &Ref{path: sentinelStdout, file: os.Stdout, refcount: 1, closable: false}, nil
	case sentinelStderr:
		return &Ref{path: sentinelStderr, file: os.Stderr, refcount: 1, closable: false}, nil
	case sentinelLog:
		reg.mu.Lock()
		defer reg.mu.Unlock()
		if reg.log == nil {
			return nil, fmt.Errorf("open log %q: no LOG sink bound", path)
		}
		reg.log.mu.Lock()
		reg.log.refcount++
		reg.log.mu.Unlock()
		return reg.log, nil
	case sentinelDebug:
		reg.mu.Lock()
		defer reg.mu.Unlock()
		if reg.debug == nil {
			return nil, fmt.Errorf("open log %q: no DEBUG sink bound", path)
		}
		reg.debug.mu.Lock()
		reg.debug.refcount++
		reg.debug.mu.Unlock()
		return reg.debug, nil
	default:
		f, err := openAppend(path, binary)
		if err != nil {
			return nil, err
		}
		return &Ref{path: path, file: f, refcount: 1, closable: true}, nil
	}
}

// Path returns the ref's target path (or sentinel name).
func (r *Ref) Path() string {
	return r.path
}

// WrapFile builds a Ref around an already-open file, for callers (such as
// the transcript rotator) that manage their own filenames and rotation
// policy but still want the refcounted Close/Write surface every line log
// shares.
func WrapFile(path string, f *os.File, closable bool) *Ref {
	return &Ref{path: path, file: f, refcount: 1, closable: closable}
}

// Write appends a single byte, counted as one write call per spec §4.2's
// "every byte passed to put_char is additionally written to the log."
func (r *Ref) Write(c byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return fmt.Errorf("write to closed log %q", r.path)
	}
	_, err := r.file.Write([]byte{c})
	return err
}

// WriteBytes appends a run of bytes in one call, used for the initial
// greeting and mantra which are logged as a block rather than byte-by-byte.
func (r *Ref) WriteBytes(b []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return fmt.Errorf("write to closed log %q", r.path)
	}
	_, err := r.file.Write(b)
	return err
}

// Retain increments the refcount, used when a second line is configured
// to share an already-open Ref (e.g. two lines with the same expanded
// log_template path).
func (r *Ref) Retain() {
	r.mu.Lock()
	r.refcount++
	r.mu.Unlock()
}

// Close decrements the refcount and performs the real close once it
// reaches zero. Closing an already-closed Ref is a no-op.
func (r *Ref) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	r.refcount--
	if r.refcount > 0 {
		return nil
	}
	if !r.closable {
		r.file = nil
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
