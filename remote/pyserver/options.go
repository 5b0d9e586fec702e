// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pyserver

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/rapidsml/remote"
)

// DefaultRequiredModules are the Python modules checked before a server is started.
var DefaultRequiredModules = []string{"pandas", "pyarrow", "cudf", "cuml", "cupy"}

// Options configure how servers are started and talked to.
type Options struct {
	// PathPrefix is prepended to PATH when running the interpreter, and searched for the interpreter
	// when the handle names it without a directory. Empty or "default" leaves PATH unchanged.
	PathPrefix string

	// StartTimeout bounds environment validation plus the time for the server to connect back.
	StartTimeout time.Duration

	// ScriptTimeout bounds each command round trip. Zero means unbounded.
	// A command that times out leaves the session broken.
	ScriptTimeout time.Duration

	// RequiredModules are checked for importability before starting a server.
	RequiredModules []string

	// Debug asks the server to print what it receives to its debug buffer, and logs the commands sent.
	Debug bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		StartTimeout:    30 * time.Second,
		RequiredModules: DefaultRequiredModules,
	}
}

// environ returns the environment for the interpreter process.
func (o Options) environ() []string {
	env := os.Environ()
	prefix := strings.TrimSpace(o.PathPrefix)
	if prefix == "" || strings.EqualFold(prefix, "default") {
		return env
	}
	for ii, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[ii] = "PATH=" + prefix + string(filepath.ListSeparator) + strings.TrimPrefix(kv, "PATH=")
			return env
		}
	}
	return append(env, "PATH="+prefix)
}

// command returns the interpreter to run for handle. A bare name is first looked up in the PathPrefix
// directories, so the prefix also selects the interpreter, and not only the PATH of its children.
func (o Options) command(handle remote.Handle) string {
	name := handle.Command()
	prefix := strings.TrimSpace(o.PathPrefix)
	if prefix == "" || strings.EqualFold(prefix, "default") || strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	for _, dir := range filepath.SplitList(prefix) {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0 {
			return path
		}
	}
	return name
}

// StartFunc returns a remote.StartFunc that starts servers with these options, to be used with
// remote.NewRegistry.
func (o Options) StartFunc() remote.StartFunc {
	return func(handle remote.Handle) (remote.Session, error) {
		s, err := Start(handle, o)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
