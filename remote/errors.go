// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package remote

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrEnvironmentUnavailable is returned (wrapped in an *EnvironmentError) when the remote interpreter
	// can't be started or lacks the required modules.
	ErrEnvironmentUnavailable = errors.New("remote environment unavailable")

	// ErrTransport is returned when the channel to the remote environment is broken: the process died,
	// the connection was lost, or a deadline expired. A session that returned ErrTransport is unusable
	// and should be discarded from its Registry.
	ErrTransport = errors.New("remote transport error")

	// ErrRemoteScript is returned (wrapped in a *ScriptError) when a remote script wrote to its error
	// stream and the caller doesn't tolerate it.
	ErrRemoteScript = errors.New("remote script error")
)

// EnvironmentError reports a failure to start or validate a remote environment.
type EnvironmentError struct {
	Handle Handle

	// Report is a human-readable diagnostics report, meant to be displayed as is.
	Report string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements error.
func (e *EnvironmentError) Error() string {
	msg := fmt.Sprintf("unable to start remote environment %q", e.Handle.String())
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Report != "" {
		msg = msg + "\n\n" + e.Report
	}
	return msg
}

// Is makes errors.Is(err, ErrEnvironmentUnavailable) true.
func (e *EnvironmentError) Is(target error) bool {
	return target == ErrEnvironmentUnavailable
}

// Unwrap returns the cause.
func (e *EnvironmentError) Unwrap() error { return e.Cause }

// ScriptError is the content of a remote script's error stream.
type ScriptError struct {
	Stderr string
}

// Error implements error.
func (e *ScriptError) Error() string {
	return "remote script failed:\n" + e.Stderr
}

// Is makes errors.Is(err, ErrRemoteScript) true.
func (e *ScriptError) Is(target error) bool {
	return target == ErrRemoteScript
}

// TransportErrorf returns a new error wrapping ErrTransport with the formatted message.
func TransportErrorf(cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return errors.WithMessage(ErrTransport, msg)
}

// IsTransportError returns whether err (or any error it wraps) is a transport error.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}
