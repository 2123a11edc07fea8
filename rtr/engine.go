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

// Package rtr implements the trust distribution engine: it keeps the
// active ROA/ASPA configuration, assembles staged replacement
// configurations from the parent process, expires stale entries on a
// periodic timer, and publishes merged snapshots to the decision-engine
// peer and the registered router sessions.
package rtr

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/trustplane/trustd/pkg/log"
	"github.com/trustplane/trustd/pkg/serrors"
	"github.com/trustplane/trustd/trust"
	"github.com/trustplane/trustd/wire"
)

// DefaultExpireInterval is the period of the expiry sweep.
const DefaultExpireInterval = 300 * time.Second

// Conn is a control channel endpoint.
type Conn interface {
	Recv() (wire.Msg, error)
	Send(wire.Msg) error
	Close() error
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Parent is the control channel to the parent process. Required.
	Parent Conn
	// Sessions is the router session registry. Required.
	Sessions *Registry
	// ExpireInterval overrides the expiry sweep period.
	ExpireInterval time.Duration
	// PeerConnFunc turns a received peer channel fd into a Conn. Defaults
	// to the wire implementation.
	PeerConnFunc func(fd int) (Conn, error)
	// Logger overrides the root logger.
	Logger log.Logger
}

// Engine is the trust distribution engine. All state is owned by the
// event loop goroutine running in Run; nothing else may touch it.
type Engine struct {
	parent       Conn
	sessions     *Registry
	peerConnFunc func(fd int) (Conn, error)
	logger       log.Logger

	expireInterval time.Duration
	generation     uint64
	active         *trust.Store
	staged         *staging
	peer           Conn
	peerDown       chan Conn
}

// NewEngine creates an engine with an empty active configuration.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		parent:         cfg.Parent,
		sessions:       cfg.Sessions,
		peerConnFunc:   cfg.PeerConnFunc,
		logger:         cfg.Logger,
		expireInterval: cfg.ExpireInterval,
		active:         trust.NewStore(),
		peerDown:       make(chan Conn, 4),
	}
	if e.expireInterval <= 0 {
		e.expireInterval = DefaultExpireInterval
	}
	if e.peerConnFunc == nil {
		e.peerConnFunc = func(fd int) (Conn, error) {
			return wire.FromFD(fd, "peer-channel")
		}
	}
	if e.logger == nil {
		e.logger = log.Root()
	}
	if e.sessions == nil {
		e.sessions = NewRegistry(e.logger)
	}
	return e
}

// Run drives the engine until ctx is cancelled or a fatal protocol
// violation occurs. Cancellation tears down sessions and channels and
// returns nil; the store is a derived cache rebuilt by the parent on the
// next start, so no state is persisted.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("rtr engine ready")
	defer e.logger.Info("rtr engine exiting")

	msgs := make(chan wire.Msg)
	readErr := make(chan error, 1)
	go func() {
		defer log.HandlePanic()
		for {
			m, err := e.parent.Recv()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				if m.FD >= 0 {
					closeFD(m.FD)
				}
				return
			}
		}
	}()

	timer := time.NewTimer(e.expireInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case err := <-readErr:
			e.shutdown()
			return serrors.Wrap("lost connection to parent", err)
		case m := <-msgs:
			if err := e.handleParent(m); err != nil {
				if m.FD >= 0 {
					closeFD(m.FD)
				}
				e.shutdown()
				return err
			}
		case c := <-e.peerDown:
			if c == e.peer {
				e.logger.Warn("lost connection to peer")
				e.peer.Close()
				e.peer = nil
			}
		case <-timer.C:
			timer.Reset(e.expireInterval)
			if e.expireROAs() != 0 {
				e.recalc()
			}
			if e.expireASPAs() != 0 {
				e.recalc()
			}
		}
	}
}

// setPeer installs the peer channel and starts draining it. Peer messages
// carry no meaning yet and are discarded.
func (e *Engine) setPeer(c Conn) {
	e.peer = c
	e.logger.Info("peer channel established")
	go func() {
		defer log.HandlePanic()
		for {
			if _, err := c.Recv(); err != nil {
				select {
				case e.peerDown <- c:
				default:
				}
				return
			}
		}
	}()
}

func (e *Engine) expireROAs() int {
	n := e.active.ExpireROAs()
	if n != 0 {
		metrics.roaExpired.Add(float64(n))
		e.logger.Info("roa entries expired", "count", n)
	}
	return n
}

func (e *Engine) expireASPAs() int {
	n := e.active.ExpireASPAs()
	if n != 0 {
		metrics.aspaExpired.Add(float64(n))
		e.logger.Info("aspa sets expired", "count", n)
	}
	return n
}

func (e *Engine) shutdown() {
	e.sessions.CloseAll()
	if e.peer != nil {
		e.peer.Close()
		e.peer = nil
	}
	e.parent.Close()
}

func closeFD(fd int) {
	unix.Close(fd)
}
