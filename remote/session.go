// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package remote defines the contract between the host and an out-of-process machine-learning
// environment (a Python interpreter running the cuML engine): the Handle that identifies an environment,
// the Session that talks to it, the Registry that pools sessions, and the error taxonomy shared by
// everything that uses them.
//
// The concrete Session implementation lives in the subpackage pyserver, and a recording fake for tests
// in remotetest.
package remote

// Session is a live channel to one remote environment.
//
// Implementations must be safe for concurrent use: each method is executed atomically with respect to
// the others. Any method may return an error wrapping ErrTransport, after which the session is broken
// and should be discarded (see Registry.Discard).
type Session interface {
	// Handle returns the handle the session was started for.
	Handle() Handle

	// ExecuteScript runs one script in the remote namespace and returns its captured output.
	// A script that fails at runtime is not an error: its traceback is returned in stderr.
	ExecuteScript(script string) (stdout, stderr string, err error)

	// VariableExists returns whether name is bound in the remote namespace.
	VariableExists(name string) (bool, error)

	// VariableAsText returns the textual representation of a remote value.
	VariableAsText(name string) (string, error)

	// VariableAsJSON returns a remote value decoded from JSON: nested []any, float64, string, bool or nil.
	VariableAsJSON(name string) (any, error)

	// PutCSV binds a data frame parsed from CSV text to header.Name.
	PutCSV(header FrameHeader, csv []byte) error

	// PutArrow binds a data frame read from an Arrow IPC stream to frame.
	PutArrow(frame string, payload []byte) error

	// OpenShared imports a shared buffer and binds a data frame over it to buf.Frame.
	OpenShared(buf SharedBuffer) error

	// CloseShared unbinds a frame created by OpenShared and closes the remote side of the import.
	CloseShared(frame string) error

	// Close terminates the session and frees its resources. It is safe to call more than once.
	Close() error
}

// FrameHeader describes a CSV payload sent with Session.PutCSV.
type FrameHeader struct {
	// Name of the remote variable to bind the frame to.
	Name string

	// NumRows is the number of data rows, excluding the header line.
	NumRows int

	// DateColumns lists the columns to be parsed as dates on the remote side.
	DateColumns []string
}

// SharedBuffer describes a row-major buffer exported for Session.OpenShared.
type SharedBuffer struct {
	// Frame is the name of the remote variable to bind the data frame to.
	Frame string

	// IPCHandle is the base64 encoded export handle of the buffer.
	IPCHandle string

	// DType is the element type, e.g. "float32".
	DType string

	// Shape is [rows, columns].
	Shape [2]int

	// Columns are the column names, len(Columns) == Shape[1].
	Columns []string

	// Device is the ordinal of the accelerator the buffer is attached to.
	Device int
}

// StartFunc starts a new session for handle. It is responsible for validating the environment, and
// should return an *EnvironmentError if it is not usable.
type StartFunc func(handle Handle) (Session, error)
