// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package remotetest provides a recording fake of remote.Session, and helpers to build a remote.Registry
// of fakes, so that code using remote sessions can be tested without a Python interpreter.
package remotetest

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/gomlx/rapidsml/remote"
	"github.com/pkg/errors"
)

// Method names, used to count calls and to inject failures.
const (
	MethodExecuteScript  = "ExecuteScript"
	MethodVariableExists = "VariableExists"
	MethodVariableAsText = "VariableAsText"
	MethodVariableAsJSON = "VariableAsJSON"
	MethodPutCSV         = "PutCSV"
	MethodPutArrow       = "PutArrow"
	MethodOpenShared     = "OpenShared"
	MethodCloseShared    = "CloseShared"
)

// Frame is a data frame received by the fake.
type Frame struct {
	Method  string // MethodPutCSV, MethodPutArrow or MethodOpenShared.
	Header  remote.FrameHeader
	Payload []byte
	Shared  remote.SharedBuffer
}

// ScriptFunc is called by Session.ExecuteScript after the namespace bookkeeping. It may set values
// with Session.SetValue (the session lock is not held) and returns the script's output.
type ScriptFunc func(s *Session, script string) (stdout, stderr string, err error)

// Session is a fake remote.Session that keeps a namespace of variable names, records every call,
// and can be scripted.
//
// ExecuteScript emulates name binding: top-level lines of the form "name = ..." bind name, while
// "del name" and "name = None" unbind it, as the server treats None as unset. Values returned by VariableAsJSON and VariableAsText are set with SetValue
// and SetText, usually from an OnScript hook.
type Session struct {
	handle remote.Handle

	// OnScript, if set, is called on every ExecuteScript.
	OnScript ScriptFunc

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]error
	scripts  []string
	names    map[string]bool
	values   map[string]any
	texts    map[string]string
	frames   map[string]Frame
	shared   map[string]remote.SharedBuffer
	closed   int
	broken   bool
}

var _ remote.Session = (*Session)(nil)

// NewSession creates a fake session for handle.
func NewSession(handle remote.Handle) *Session {
	return &Session{
		handle:   handle,
		calls:    make(map[string]int),
		failures: make(map[string]error),
		names:    make(map[string]bool),
		values:   make(map[string]any),
		texts:    make(map[string]string),
		frames:   make(map[string]Frame),
		shared:   make(map[string]remote.SharedBuffer),
	}
}

// FailTransport makes the next call to method fail with an error wrapping remote.ErrTransport, and
// every call after it as well, like a real broken session.
func (s *Session) FailTransport(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = errors.WithMessagef(remote.ErrTransport, "injected failure on %s", method)
}

// Fail makes every call to method return err. A nil err removes the failure.
func (s *Session) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// enter records a call to method and returns the error it should fail with, if any.
// It must be called with s.mu held.
func (s *Session) enter(method string) error {
	s.calls[method]++
	if s.broken {
		return errors.WithMessagef(remote.ErrTransport, "session broken, %s failed", method)
	}
	if s.closed > 0 {
		return errors.WithMessagef(remote.ErrTransport, "session closed, %s failed", method)
	}
	if err, found := s.failures[method]; found {
		if errors.Is(err, remote.ErrTransport) {
			s.broken = true
		}
		return err
	}
	return nil
}

// Handle implements remote.Session.
func (s *Session) Handle() remote.Handle { return s.handle }

var (
	reAssignment = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=[^=]`)
	reDelete     = regexp.MustCompile(`^del\s+([A-Za-z_][A-Za-z0-9_]*)\s*$`)
	reAssignNone = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*None\s*$`)
)

// ExecuteScript implements remote.Session.
func (s *Session) ExecuteScript(script string) (stdout, stderr string, err error) {
	s.mu.Lock()
	if err = s.enter(MethodExecuteScript); err != nil {
		s.mu.Unlock()
		return
	}
	s.scripts = append(s.scripts, script)
	for _, line := range strings.Split(script, "\n") {
		m := reDelete.FindStringSubmatch(line)
		if m == nil {
			m = reAssignNone.FindStringSubmatch(line)
		}
		if m != nil {
			delete(s.names, m[1])
			delete(s.values, m[1])
			delete(s.texts, m[1])
		} else if m := reAssignment.FindStringSubmatch(line); m != nil {
			s.names[m[1]] = true
		}
	}
	onScript := s.OnScript
	s.mu.Unlock()
	if onScript != nil {
		return onScript(s, script)
	}
	return "", "", nil
}

// VariableExists implements remote.Session.
func (s *Session) VariableExists(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodVariableExists); err != nil {
		return false, err
	}
	return s.names[name], nil
}

// VariableAsText implements remote.Session. Names bound without a text value return their JSON value
// formatted with fmt, or the name itself.
func (s *Session) VariableAsText(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodVariableAsText); err != nil {
		return "", err
	}
	if !s.names[name] {
		return "", errors.Errorf("name '%s' is not defined", name)
	}
	if text, found := s.texts[name]; found {
		return text, nil
	}
	if value, found := s.values[name]; found {
		return fmt.Sprint(value), nil
	}
	return name, nil
}

// VariableAsJSON implements remote.Session.
func (s *Session) VariableAsJSON(name string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodVariableAsJSON); err != nil {
		return nil, err
	}
	if !s.names[name] {
		return nil, errors.Errorf("name '%s' is not defined", name)
	}
	return s.values[name], nil
}

// PutCSV implements remote.Session.
func (s *Session) PutCSV(header remote.FrameHeader, csv []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodPutCSV); err != nil {
		return err
	}
	s.frames[header.Name] = Frame{Method: MethodPutCSV, Header: header, Payload: append([]byte(nil), csv...)}
	s.names[header.Name] = true
	return nil
}

// PutArrow implements remote.Session.
func (s *Session) PutArrow(frame string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodPutArrow); err != nil {
		return err
	}
	s.frames[frame] = Frame{Method: MethodPutArrow, Header: remote.FrameHeader{Name: frame}, Payload: append([]byte(nil), payload...)}
	s.names[frame] = true
	return nil
}

// OpenShared implements remote.Session.
func (s *Session) OpenShared(buf remote.SharedBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodOpenShared); err != nil {
		return err
	}
	s.frames[buf.Frame] = Frame{Method: MethodOpenShared, Header: remote.FrameHeader{Name: buf.Frame, NumRows: buf.Shape[0]}, Shared: buf}
	s.shared[buf.Frame] = buf
	s.names[buf.Frame] = true
	return nil
}

// CloseShared implements remote.Session.
func (s *Session) CloseShared(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(MethodCloseShared); err != nil {
		return err
	}
	if _, found := s.shared[frame]; !found {
		return errors.Errorf("no shared frame %q is open", frame)
	}
	delete(s.shared, frame)
	delete(s.names, frame)
	return nil
}

// Close implements remote.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// SetValue binds name in the fake namespace to a JSON-like value.
func (s *Session) SetValue(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[name] = true
	s.values[name] = value
}

// SetText binds name in the fake namespace, with the given textual representation.
func (s *Session) SetText(name, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[name] = true
	s.texts[name] = text
}

// Unset removes name from the fake namespace, as if the remote process had been recycled.
func (s *Session) Unset(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.names, name)
	delete(s.values, name)
	delete(s.texts, name)
}

// Calls returns the number of calls made to method.
func (s *Session) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls returns the number of calls made to any method except Handle and Close.
func (s *Session) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, count := range s.calls {
		total += count
	}
	return total
}

// Scripts returns a copy of the scripts executed so far.
func (s *Session) Scripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scripts...)
}

// Frame returns the last frame received under name.
func (s *Session) Frame(name string) (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, found := s.frames[name]
	return f, found
}

// OpenSharedFrames returns the number of shared frames opened and not yet closed.
func (s *Session) OpenSharedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shared)
}

// Closed returns how many times Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
