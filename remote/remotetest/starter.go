// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package remotetest

import (
	"sync"

	"github.com/gomlx/rapidsml/remote"
)

// Starter creates fake sessions for a remote.Registry and keeps track of them.
type Starter struct {
	// Err, if set, is returned by every start instead of a session.
	Err error

	// Configure, if set, is called on every new session before it is returned.
	Configure func(s *Session)

	// Gate, if set, is received from before each start returns, to let tests hold starts in flight.
	Gate chan struct{}

	mu       sync.Mutex
	sessions []*Session
}

// Start implements remote.StartFunc.
func (st *Starter) Start(handle remote.Handle) (remote.Session, error) {
	if st.Gate != nil {
		<-st.Gate
	}
	if st.Err != nil {
		st.mu.Lock()
		st.sessions = append(st.sessions, nil)
		st.mu.Unlock()
		return nil, st.Err
	}
	s := NewSession(handle)
	if st.Configure != nil {
		st.Configure(s)
	}
	st.mu.Lock()
	st.sessions = append(st.sessions, s)
	st.mu.Unlock()
	return s, nil
}

// Starts returns the number of starts attempted, failed ones included.
func (st *Starter) Starts() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Last returns the last session started, or nil.
func (st *Starter) Last() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.sessions) == 0 {
		return nil
	}
	return st.sessions[len(st.sessions)-1]
}

// NewRegistry returns a registry of fake sessions along with its Starter.
func NewRegistry(options ...remote.RegistryOption) (*remote.Registry, *Starter) {
	st := &Starter{}
	return remote.NewRegistry(st.Start, options...), st
}
