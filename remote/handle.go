// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package remote

import (
	"strings"
)

// DefaultExecutable is the interpreter used when a Handle doesn't name one.
const DefaultExecutable = "python"

// Handle identifies one remote environment: an interpreter executable, plus an optional server id
// used to force a separate server (or to share one among specific classifiers).
//
// Two equal handles share the same Session in a Registry. Handle is comparable and can be used as a
// map key.
type Handle struct {
	// Executable is the path to (or PATH name of) the interpreter. Empty means DefaultExecutable.
	Executable string

	// ServerID optionally disambiguates servers using the same executable. Empty means none.
	ServerID string
}

// NewHandle returns a normalized Handle. The words "default" (for the executable) and "none" (for the
// server id), in any case, are equivalent to leaving them empty.
func NewHandle(executable, serverID string) Handle {
	executable = strings.TrimSpace(executable)
	if strings.EqualFold(executable, "default") || executable == DefaultExecutable {
		executable = ""
	}
	serverID = strings.TrimSpace(serverID)
	if strings.EqualFold(serverID, "none") {
		serverID = ""
	}
	return Handle{Executable: executable, ServerID: serverID}
}

// Command returns the executable to run.
func (h Handle) Command() string {
	if h.Executable == "" {
		return DefaultExecutable
	}
	return h.Executable
}

// IsDefault returns whether the handle refers to the default interpreter with no server id.
func (h Handle) IsDefault() bool {
	return h.Executable == "" && h.ServerID == ""
}

// String implements fmt.Stringer, e.g. "python" or "/opt/conda/bin/python@gpu0".
func (h Handle) String() string {
	if h.ServerID == "" {
		return h.Command()
	}
	return h.Command() + "@" + h.ServerID
}
