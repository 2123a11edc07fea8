// Copyright 2023 Trustplane Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rtr

import (
	"os"
	"sort"
	"strconv"

	"github.com/trustplane/trustd/pkg/log"
	"github.com/trustplane/trustd/wire"
)

// Session is one router session descriptor. The wire protocol spoken on
// the attached connection is owned by session management; the engine only
// hands over accepted connections and signals snapshot changes.
type Session struct {
	ID     uint32
	Params wire.SessionParams

	file   *os.File
	marked bool
}

// Open reports whether the session has an attached connection.
func (s *Session) Open() bool {
	return s.file != nil
}

// Registry tracks the router sessions declared by the configuration.
// Reconciliation across a reconfiguration is mark and sweep: MarkAll when
// staging begins, Keep or New per declared session, Sweep at cut-over.
type Registry struct {
	// OnSnapshot, if set, is invoked for every open session after a new
	// snapshot has been published.
	OnSnapshot func(*Session)
	// OnDestroy, if set, is invoked before a session is torn down.
	OnDestroy func(*Session)

	sessions map[uint32]*Session
	logger   log.Logger
}

// NewRegistry returns an empty session registry.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.Root()
	}
	return &Registry{
		sessions: make(map[uint32]*Session),
		logger:   logger,
	}
}

// Get returns the session with the given id, or nil.
func (r *Registry) Get(id uint32) *Session {
	return r.sessions[id]
}

// Count returns the number of known sessions.
func (r *Registry) Count() int {
	return len(r.sessions)
}

// All returns all sessions ordered by id.
func (r *Registry) All() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// New registers a session declared by the configuration.
func (r *Registry) New(id uint32, params wire.SessionParams) *Session {
	s := &Session{ID: id, Params: params}
	r.sessions[id] = s
	r.logger.Debug("session registered", "id", id, "descr", params.Descr)
	return s
}

// Keep clears the teardown mark of a live session and updates its
// parameters. The attached connection is left untouched.
func (r *Registry) Keep(s *Session, params wire.SessionParams) {
	s.Params = params
	s.marked = false
}

// MarkAll marks every session for teardown. Sessions not re-declared
// before the next Sweep are destroyed.
func (r *Registry) MarkAll() {
	for _, s := range r.sessions {
		s.marked = true
	}
}

// Sweep destroys every still-marked session and returns the number of
// destroyed sessions.
func (r *Registry) Sweep() int {
	var n int
	for id, s := range r.sessions {
		if !s.marked {
			continue
		}
		r.destroy(s)
		delete(r.sessions, id)
		n++
	}
	r.updateOpenGauge()
	return n
}

// Attach hands an accepted router connection to the session. An already
// attached connection is replaced.
func (r *Registry) Attach(s *Session, fd int) {
	if s.file != nil {
		r.logger.Warn("replacing session connection", "id", s.ID)
		s.file.Close()
	}
	s.file = os.NewFile(uintptr(fd), "rtr-session-"+strconv.FormatUint(uint64(s.ID), 10))
	r.logger.Info("session connected", "id", s.ID, "descr", s.Params.Descr)
	r.updateOpenGauge()
}

// NotifyAll signals every open session that a new snapshot is available.
func (r *Registry) NotifyAll() {
	if r.OnSnapshot == nil {
		return
	}
	for _, s := range r.sessions {
		if s.Open() {
			r.OnSnapshot(s)
		}
	}
}

// CloseAll tears down every session, open or not.
func (r *Registry) CloseAll() {
	for id, s := range r.sessions {
		r.destroy(s)
		delete(r.sessions, id)
	}
	r.updateOpenGauge()
}

func (r *Registry) destroy(s *Session) {
	if r.OnDestroy != nil {
		r.OnDestroy(s)
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	r.logger.Debug("session destroyed", "id", s.ID)
}

func (r *Registry) updateOpenGauge() {
	var open int
	for _, s := range r.sessions {
		if s.Open() {
			open++
		}
	}
	metrics.openSessions.Set(float64(open))
}
