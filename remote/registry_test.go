// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package remote_test

import (
	"sync"
	"testing"

	"github.com/gomlx/rapidsml/remote"
	"github.com/gomlx/rapidsml/remote/remotetest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestHandle(t *testing.T) {
	assert.Equal(t, remote.Handle{}, remote.NewHandle("default", "none"))
	assert.Equal(t, remote.Handle{}, remote.NewHandle(" python ", "NONE"))
	assert.True(t, remote.NewHandle("", "").IsDefault())
	h := remote.NewHandle("/opt/conda/bin/python", "gpu0")
	assert.Equal(t, "/opt/conda/bin/python@gpu0", h.String())
	assert.Equal(t, "python", remote.Handle{}.String())
	assert.Equal(t, h, remote.NewHandle("/opt/conda/bin/python", "gpu0"))
	assert.NotEqual(t, h, remote.NewHandle("/opt/conda/bin/python", "gpu1"))
}

func TestRegistryConcurrentAcquire(t *testing.T) {
	registry, starter := remotetest.NewRegistry()
	starter.Gate = make(chan struct{})
	handle := remote.NewHandle("", "")

	var wg sync.WaitGroup
	sessions := make([]remote.Session, 2)
	errs := make([]error, 2)
	for ii, requester := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sessions[ii], errs[ii] = registry.Acquire(handle, requester)
		}()
	}
	// Only one start may be in flight: let it through.
	starter.Gate <- struct{}{}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Same(t, sessions[0], sessions[1])
	assert.Equal(t, 1, starter.Starts())
	assert.Equal(t, 2, registry.RefCount(handle))
	assert.True(t, registry.Live(handle))

	require.NoError(t, registry.Release(handle, "a"))
	assert.Equal(t, 1, registry.RefCount(handle))
	require.NoError(t, registry.Release(handle, "b"))
	assert.Equal(t, 0, registry.RefCount(handle))

	// Releasing again never drives the count negative.
	require.Error(t, registry.Release(handle, "b"))
	assert.Equal(t, 0, registry.RefCount(handle))

	// Kept idle by default, and reused.
	assert.True(t, registry.Live(handle))
	assert.Zero(t, starter.Last().Closed())
	again, err := registry.Acquire(handle, "c")
	require.NoError(t, err)
	assert.Same(t, sessions[0], again)
	require.NoError(t, registry.Release(handle, "c"))

	require.NoError(t, registry.Close())
	assert.Equal(t, 1, starter.Last().Closed())
	assert.False(t, registry.Live(handle))
}

func TestRegistryDistinctHandles(t *testing.T) {
	registry, starter := remotetest.NewRegistry()
	s0, err := registry.Acquire(remote.NewHandle("", "x"), "a")
	require.NoError(t, err)
	s1, err := registry.Acquire(remote.NewHandle("", "y"), "a")
	require.NoError(t, err)
	assert.NotSame(t, s0, s1)
	assert.Equal(t, 2, starter.Starts())
	assert.Equal(t, remote.NewHandle("", "y"), s1.Handle())
}

func TestRegistryNoKeepIdle(t *testing.T) {
	registry, starter := remotetest.NewRegistry(remote.WithKeepIdle(false))
	handle := remote.NewHandle("", "")
	_, err := registry.Acquire(handle, "a")
	require.NoError(t, err)
	_, err = registry.Acquire(handle, "a")
	require.NoError(t, err)
	require.NoError(t, registry.Release(handle, "a"))
	assert.Zero(t, starter.Last().Closed())
	require.NoError(t, registry.Release(handle, "a"))
	assert.Equal(t, 1, starter.Last().Closed())
	assert.False(t, registry.Live(handle))

	_, err = registry.Acquire(handle, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, starter.Starts())
}

func TestRegistryFailedStart(t *testing.T) {
	registry, starter := remotetest.NewRegistry()
	handle := remote.NewHandle("/no/such/python", "")
	starter.Err = &remote.EnvironmentError{Handle: handle, Report: "python: not found"}

	_, err := registry.Acquire(handle, "a")
	require.Error(t, err)
	require.True(t, errors.Is(err, remote.ErrEnvironmentUnavailable))
	var envErr *remote.EnvironmentError
	require.True(t, errors.As(err, &envErr))
	assert.Contains(t, envErr.Error(), "python: not found")
	assert.False(t, registry.Live(handle))
	assert.Equal(t, 0, registry.RefCount(handle))
	require.Error(t, registry.Release(handle, "a"))

	// Next acquire tries again.
	starter.Err = nil
	_, err = registry.Acquire(handle, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, starter.Starts())
}

func TestRegistryDiscard(t *testing.T) {
	registry, starter := remotetest.NewRegistry()
	handle := remote.NewHandle("", "")
	broken, err := registry.Acquire(handle, "a")
	require.NoError(t, err)
	_, err = registry.Acquire(handle, "b")
	require.NoError(t, err)

	registry.Discard(handle, broken)
	assert.False(t, registry.Live(handle))
	assert.Zero(t, starter.Last().Closed(), "still borrowed")

	fresh, err := registry.Acquire(handle, "c")
	require.NoError(t, err)
	assert.NotSame(t, broken, fresh)

	brokenFake := broken.(*remotetest.Session)
	require.NoError(t, registry.Release(handle, "a"))
	assert.Zero(t, brokenFake.Closed())
	require.NoError(t, registry.Release(handle, "b"))
	assert.Equal(t, 1, brokenFake.Closed())

	// Discarding a session that isn't pooled anymore changes nothing.
	registry.Discard(handle, broken)
	assert.Equal(t, 1, registry.RefCount(handle))
	require.NoError(t, registry.Release(handle, "c"))
}

func TestErrorTaxonomy(t *testing.T) {
	err := remote.TransportErrorf(errors.New("EOF"), "reading response to %q", "execute_script")
	assert.True(t, remote.IsTransportError(err))
	assert.Contains(t, err.Error(), "EOF")

	scriptErr := error(&remote.ScriptError{Stderr: "NameError: X"})
	assert.True(t, errors.Is(scriptErr, remote.ErrRemoteScript))
	assert.False(t, remote.IsTransportError(scriptErr))
	assert.Contains(t, errors.Wrap(scriptErr, "training").Error(), "NameError: X")
}
