// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pyserver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/rapidsml/remote"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbe(t *testing.T) {
	output := `cuml: some import-time banner
{"version": "3.11.4", "executable": "/opt/conda/bin/python", "modules": [` +
		`{"name": "pandas", "version": "2.2.1"}, ` +
		`{"name": "cuml", "error": "ModuleNotFoundError: No module named 'cuml'"}]}
`
	report := &Report{Handle: remote.NewHandle("/opt/conda/bin/python", "")}
	parseProbe(report, []byte(output))
	require.False(t, report.OK())
	assert.Equal(t, "3.11.4", report.PythonVersion)
	require.Len(t, report.Modules, 2)
	assert.Equal(t, "2.2.1", report.Modules[0].Version)
	assert.Contains(t, report.Err.Error(), "cuml")

	text := report.String()
	assert.Contains(t, text, "UNAVAILABLE")
	assert.Contains(t, text, "pandas")
	assert.Contains(t, text, "No module named 'cuml'")

	ok := &Report{Handle: remote.Handle{}}
	parseProbe(ok, []byte(`{"version": "3.10.0", "executable": "python", "modules": [{"name": "pandas", "version": "2.0"}]}`))
	require.True(t, ok.OK())
	assert.Contains(t, ok.String(), "OK")

	garbage := &Report{}
	parseProbe(garbage, []byte("Segmentation fault"))
	require.False(t, garbage.OK())
}

func TestCheckEnvironmentMissingInterpreter(t *testing.T) {
	handle := remote.NewHandle("/nonexistent/rapidsml/python", "")
	report := CheckEnvironment(context.Background(), handle, DefaultOptions())
	require.False(t, report.OK())
	assert.True(t, strings.Contains(report.String(), "not run"))

	_, err := Start(handle, Options{StartTimeout: time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrEnvironmentUnavailable))
	var envErr *remote.EnvironmentError
	require.True(t, errors.As(err, &envErr))
	assert.Equal(t, handle, envErr.Handle)
	assert.NotEmpty(t, envErr.Report)
}

func TestOptionsEnviron(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	env := Options{PathPrefix: "/opt/conda/bin"}.environ()
	assert.Contains(t, env, "PATH=/opt/conda/bin:/usr/bin")
	env = Options{PathPrefix: "default"}.environ()
	assert.Contains(t, env, "PATH=/usr/bin")
}

func TestOptionsCommand(t *testing.T) {
	envDir, otherDir := t.TempDir(), t.TempDir()
	interpreter := filepath.Join(envDir, "python")
	require.NoError(t, os.WriteFile(interpreter, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(otherDir, "python"), []byte("not executable"), 0o644))

	opts := Options{PathPrefix: otherDir + string(filepath.ListSeparator) + envDir}
	assert.Equal(t, interpreter, opts.command(remote.NewHandle("", "")))
	assert.Equal(t, interpreter, opts.command(remote.NewHandle("python", "gpu0")))
	assert.Equal(t, "python3.11", opts.command(remote.NewHandle("python3.11", "")), "not found in the prefix")
	assert.Equal(t, "/usr/bin/python", opts.command(remote.NewHandle("/usr/bin/python", "")))
	assert.Equal(t, "python", Options{PathPrefix: "default"}.command(remote.NewHandle("", "")))
}
