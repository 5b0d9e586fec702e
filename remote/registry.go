// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package remote

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Registry pools sessions: at most one live Session per Handle, shared by every requester that acquires
// it, and reference counted per requester.
//
// Sessions are started lazily on the first Acquire. It is safe for concurrent use.
type Registry struct {
	start    StartFunc
	keepIdle bool

	mu      sync.Mutex
	entries map[Handle]*poolEntry

	// retired holds discarded sessions still borrowed by someone: they are closed once released.
	retired []*poolEntry
}

type poolEntry struct {
	handle Handle

	// ready is closed once start returned, session and err are only read after that.
	ready   chan struct{}
	session Session
	err     error

	counts map[string]int
	total  int
}

// RegistryOption configures a Registry.
type RegistryOption func(r *Registry)

// WithKeepIdle sets whether sessions whose reference count drops to zero are kept for reuse (the
// default) or closed immediately.
func WithKeepIdle(keepIdle bool) RegistryOption {
	return func(r *Registry) {
		r.keepIdle = keepIdle
	}
}

// NewRegistry creates a Registry that uses start to create new sessions.
func NewRegistry(start StartFunc, options ...RegistryOption) *Registry {
	r := &Registry{
		start:    start,
		keepIdle: true,
		entries:  make(map[Handle]*poolEntry),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Acquire returns the session for handle, starting it if needed, and increments the reference count
// of requester on it. Every successful Acquire must be matched by a Release.
//
// Concurrent first acquires of the same handle wait for a single start and share its result: if it
// fails, they all get the same error and no session is pooled.
func (r *Registry) Acquire(handle Handle, requester string) (Session, error) {
	r.mu.Lock()
	e, found := r.entries[handle]
	if !found {
		e = &poolEntry{
			handle: handle,
			ready:  make(chan struct{}),
			counts: make(map[string]int),
		}
		r.entries[handle] = e
	}
	e.counts[requester]++
	e.total++
	r.mu.Unlock()

	if found {
		<-e.ready
		if e.err != nil {
			return nil, e.err
		}
		return e.session, nil
	}

	klog.V(1).Infof("remote: starting session for %s", handle)
	session, err := r.start(handle)
	if err == nil && session == nil {
		err = errors.Errorf("remote: start of %s returned no session", handle)
	}
	r.mu.Lock()
	e.session, e.err = session, err
	if err != nil {
		delete(r.entries, handle)
	}
	close(e.ready)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Release decrements the reference count of requester on the session for handle.
// It returns an error if requester holds no reference, in which case nothing changes.
//
// When the session's count drops to zero it is closed if it was discarded, or if the registry was
// created WithKeepIdle(false).
func (r *Registry) Release(handle Handle, requester string) error {
	r.mu.Lock()
	e, retiredIdx := r.findHeldLocked(handle, requester)
	if e == nil {
		r.mu.Unlock()
		return errors.Errorf("remote: release of %s by %q without a matching acquire", handle, requester)
	}
	e.counts[requester]--
	if e.counts[requester] == 0 {
		delete(e.counts, requester)
	}
	e.total--
	var toClose Session
	if e.total == 0 {
		switch {
		case retiredIdx >= 0:
			r.retired = slices.Delete(r.retired, retiredIdx, retiredIdx+1)
			toClose = e.session
		case !r.keepIdle:
			delete(r.entries, handle)
			toClose = e.session
		}
	}
	r.mu.Unlock()

	if toClose != nil {
		klog.V(1).Infof("remote: closing idle session for %s", handle)
		if err := toClose.Close(); err != nil {
			klog.Warningf("remote: failed to close session for %s: %+v", handle, err)
		}
	}
	return nil
}

// findHeldLocked finds the entry for handle on which requester holds a reference: the pooled one first,
// then the retired ones. It returns the index in r.retired, or -1 for a pooled entry.
func (r *Registry) findHeldLocked(handle Handle, requester string) (*poolEntry, int) {
	if e, found := r.entries[handle]; found && e.counts[requester] > 0 {
		return e, -1
	}
	for ii, e := range r.retired {
		if e.handle == handle && e.counts[requester] > 0 {
			return e, ii
		}
	}
	return nil, -1
}

// Discard removes session from the pool, so the next Acquire of handle starts a new one.
// It is used after a session returned ErrTransport.
//
// Current borrowers keep their references and must still Release them: the session is closed when
// the last one does (or immediately if no one holds it). Discarding a session that is no longer pooled
// is a no-op.
func (r *Registry) Discard(handle Handle, session Session) {
	r.mu.Lock()
	e, found := r.entries[handle]
	if !found || e.session != session {
		r.mu.Unlock()
		return
	}
	delete(r.entries, handle)
	if e.total > 0 {
		r.retired = append(r.retired, e)
		r.mu.Unlock()
		klog.Warningf("remote: session for %s discarded, %d reference(s) still held", handle, e.total)
		return
	}
	r.mu.Unlock()
	klog.Warningf("remote: session for %s discarded", handle)
	if err := session.Close(); err != nil {
		klog.Warningf("remote: failed to close discarded session for %s: %+v", handle, err)
	}
}

// RefCount returns the total number of references held on the pooled session for handle.
func (r *Registry) RefCount(handle Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, found := r.entries[handle]; found {
		return e.total
	}
	return 0
}

// Live returns whether a started session for handle is pooled, in use or idle.
func (r *Registry) Live(handle Handle) bool {
	r.mu.Lock()
	e, found := r.entries[handle]
	r.mu.Unlock()
	if !found {
		return false
	}
	select {
	case <-e.ready:
		return e.err == nil
	default:
		return false
	}
}

// Close closes every session in the pool, including the ones still referenced and the discarded ones.
// Sessions being started are left alone. It returns the first error encountered.
func (r *Registry) Close() error {
	r.mu.Lock()
	var sessions []Session
	for handle, e := range r.entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.total > 0 {
			klog.Warningf("remote: closing session for %s with %d reference(s) still held", handle, e.total)
		}
		sessions = append(sessions, e.session)
		delete(r.entries, handle)
	}
	for _, e := range r.retired {
		sessions = append(sessions, e.session)
	}
	r.retired = nil
	r.mu.Unlock()

	var firstErr error
	for _, session := range sessions {
		if err := session.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				klog.Errorf("remote: failed to close session for %s: %+v", session.Handle(), err)
			}
		}
	}
	return firstErr
}
