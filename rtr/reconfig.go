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
	"encoding/binary"
	"errors"

	"github.com/trustplane/trustd/pkg/serrors"
	"github.com/trustplane/trustd/trust"
	"github.com/trustplane/trustd/wire"
)

// staging holds a replacement configuration while it is assembled from the
// parent's message stream. It is invisible to recalculation and sessions
// until the commit cut-over.
type staging struct {
	generation uint64
	store      *trust.Store
	pending    *pendingASPA
}

// pendingASPA collects the fragments of one ASPA set.
type pendingASPA struct {
	header    wire.AspaHeader
	providers []uint32
	families  []trust.Family
}

// handleParent processes one parent-channel message. A returned error is a
// protocol violation that indicates channel desynchronization; the caller
// must terminate.
func (e *Engine) handleParent(m wire.Msg) error {
	metrics.parentMessages.WithLabelValues(m.Type.String()).Inc()
	switch m.Type {
	case wire.TypeNewSessionFd:
		e.handleSessionFd(m)
	case wire.TypePeerChannelFd:
		e.handlePeerFd(m)
	case wire.TypeBeginConfig:
		return e.handleBegin(m)
	case wire.TypeRoaItem:
		return e.handleRoaItem(m)
	case wire.TypeAspaHeader:
		return e.handleAspaHeader(m)
	case wire.TypeAspaProviders:
		return e.handleAspaProviders(m)
	case wire.TypeAspaFamilyMask:
		return e.handleAspaFamilyMask(m)
	case wire.TypeAspaDone:
		return e.handleAspaDone(m)
	case wire.TypeSessionConfig:
		return e.handleSessionConfig(m)
	case wire.TypeDrain:
		e.sendParent(wire.Msg{Type: wire.TypeDrain, FD: -1})
	case wire.TypeCommitConfig:
		return e.handleCommit()
	case wire.TypeShowSession:
		e.handleShowSession(m)
	case wire.TypeListEnd:
		e.sendParent(wire.Msg{Type: wire.TypeListEnd, FD: -1})
	default:
		e.logger.Warn("unknown parent message", "type", uint32(m.Type))
	}
	return nil
}

func (e *Engine) handleSessionFd(m wire.Msg) {
	if m.FD < 0 {
		e.logger.Warn("expected to receive session fd but didn't receive any",
			"id", m.Session)
		return
	}
	s := e.sessions.Get(m.Session)
	if s == nil {
		e.logger.Warn("connection for unknown session", "id", m.Session)
		closeFD(m.FD)
		return
	}
	e.sessions.Attach(s, m.FD)
}

func (e *Engine) handlePeerFd(m wire.Msg) {
	if m.FD < 0 {
		e.logger.Warn("expected to receive peer channel fd but didn't receive any")
		return
	}
	if e.peer != nil {
		e.logger.Warn("unexpected new peer channel, replacing current")
		e.peer.Close()
		e.peer = nil
	}
	conn, err := e.peerConnFunc(m.FD)
	if err != nil {
		e.logger.Warn("opening peer channel", "err", err)
		closeFD(m.FD)
		return
	}
	e.setPeer(conn)
}

func (e *Engine) handleBegin(m wire.Msg) error {
	if len(m.Data) != 8 {
		return serrors.New("bad begin config length", "len", len(m.Data), "expected", 8)
	}
	if e.staged != nil {
		// A fresh begin cancels any unfinished reconfiguration.
		e.logger.Warn("discarding unfinished staged configuration",
			"generation", e.staged.generation)
	}
	e.staged = &staging{
		generation: binary.BigEndian.Uint64(m.Data),
		store:      trust.NewStore(),
	}
	e.sessions.MarkAll()
	return nil
}

func (e *Engine) handleRoaItem(m wire.Msg) error {
	if e.staged == nil {
		return serrors.New("roa item without begin config")
	}
	roa, err := wire.UnmarshalROA(m.Data)
	if err != nil {
		return serrors.Wrap("roa item", err)
	}
	// Exact duplicates are silently ignored.
	e.staged.store.InsertROA(roa)
	return nil
}

func (e *Engine) handleAspaHeader(m wire.Msg) error {
	if e.staged == nil {
		return serrors.New("aspa header without begin config")
	}
	if e.staged.pending != nil {
		return serrors.New("unexpected aspa header",
			"pending", e.staged.pending.header.CustomerAS)
	}
	header, err := wire.UnmarshalAspaHeader(m.Data)
	if err != nil {
		return serrors.Wrap("aspa header", err)
	}
	e.staged.pending = &pendingASPA{header: header}
	return nil
}

func (e *Engine) handleAspaProviders(m wire.Msg) error {
	p := e.pendingASPA()
	if p == nil {
		return serrors.New("unexpected aspa providers")
	}
	providers, err := wire.UnmarshalASList(m.Data, int(p.header.Count))
	if err != nil {
		return serrors.Wrap("aspa providers", err, "customer", p.header.CustomerAS)
	}
	p.providers = providers
	return nil
}

func (e *Engine) handleAspaFamilyMask(m wire.Msg) error {
	p := e.pendingASPA()
	if p == nil {
		return serrors.New("unexpected aspa family mask")
	}
	families, err := wire.UnmarshalFamilyList(m.Data, int(p.header.Count))
	if err != nil {
		return serrors.Wrap("aspa family mask", err, "customer", p.header.CustomerAS)
	}
	p.families = families
	return nil
}

func (e *Engine) handleAspaDone(m wire.Msg) error {
	p := e.pendingASPA()
	if p == nil {
		return serrors.New("unexpected aspa done")
	}
	if p.header.Count > 0 && p.providers == nil {
		return serrors.New("aspa set without providers",
			"customer", p.header.CustomerAS)
	}
	set := &trust.ASPASet{
		CustomerAS: p.header.CustomerAS,
		Expires:    p.header.Expires,
	}
	for i, as := range p.providers {
		// Absence of the family mask means no provider is constrained.
		fam := trust.FamilyBoth
		if p.families != nil {
			fam = p.families[i]
		}
		set.AddProvider(as, fam)
	}
	if err := e.staged.store.AddASPA(set); errors.Is(err, trust.ErrDuplicateASPA) {
		e.logger.Warn("duplicate aspa set received", "customer", set.CustomerAS)
	}
	e.staged.pending = nil
	return nil
}

func (e *Engine) pendingASPA() *pendingASPA {
	if e.staged == nil {
		return nil
	}
	return e.staged.pending
}

func (e *Engine) handleSessionConfig(m wire.Msg) error {
	params, err := wire.UnmarshalSessionParams(m.Data)
	if err != nil {
		return serrors.Wrap("session config", err, "id", m.Session)
	}
	if s := e.sessions.Get(m.Session); s != nil {
		e.sessions.Keep(s, params)
	} else {
		e.sessions.New(m.Session, params)
	}
	return nil
}

// handleCommit performs the cut-over: the staged content replaces the
// active store, sessions are reconciled, entries that arrived already
// expired are cleaned, and the new snapshot is published.
func (e *Engine) handleCommit() error {
	if e.staged == nil {
		return serrors.New("commit config without begin config")
	}
	if e.staged.pending != nil {
		return serrors.New("commit config with incomplete aspa set",
			"customer", e.staged.pending.header.CustomerAS)
	}
	e.generation = e.staged.generation
	e.active.Swap(e.staged.store)
	e.staged = nil
	if n := e.sessions.Sweep(); n > 0 {
		e.logger.Info("sessions torn down", "count", n)
	}
	e.expireROAs()
	e.expireASPAs()
	e.recalc()
	metrics.reconfigurations.Inc()
	e.logger.Info("rtr engine reconfigured", "generation", e.generation)
	e.sendParent(wire.Msg{Type: wire.TypeCommitConfig, FD: -1})
	return nil
}

func (e *Engine) handleShowSession(m wire.Msg) {
	s := e.sessions.Get(m.Session)
	if s == nil {
		e.logger.Warn("status query for unknown session", "id", m.Session)
		return
	}
	e.sendParent(wire.Msg{
		Type:    wire.TypeSessionStatus,
		Session: s.ID,
		Data: wire.MarshalSessionStatus(wire.SessionStatus{
			Params: s.Params,
			Open:   s.Open(),
		}),
		FD: -1,
	})
}

func (e *Engine) sendParent(m wire.Msg) {
	if err := e.parent.Send(m); err != nil {
		e.logger.Warn("sending to parent", "type", m.Type, "err", err)
	}
}
