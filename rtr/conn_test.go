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
	"io"
	"sync"
	"testing"

	"github.com/trustplane/trustd/pkg/log"
	"github.com/trustplane/trustd/wire"
)

// testConn is an in-memory control channel endpoint recording everything
// sent through it.
type testConn struct {
	in chan wire.Msg

	mu     sync.Mutex
	sent   []wire.Msg
	closed bool
}

func newTestConn() *testConn {
	return &testConn{in: make(chan wire.Msg, 64)}
}

func (c *testConn) Recv() (wire.Msg, error) {
	m, ok := <-c.in
	if !ok {
		return wire.Msg{}, io.EOF
	}
	return m, nil
}

func (c *testConn) Send(m wire.Msg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *testConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

func (c *testConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *testConn) msgs() []wire.Msg {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Msg, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *testConn) ofType(t wire.Type) []wire.Msg {
	var out []wire.Msg
	for _, m := range c.msgs() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (c *testConn) countType(t wire.Type) int {
	return len(c.ofType(t))
}

// newTestEngine returns an engine with in-memory parent and peer channels.
// The peer is attached directly; no drain goroutine is running.
func newTestEngine(t *testing.T) (*Engine, *testConn, *testConn) {
	t.Helper()
	log.Discard()
	parent := newTestConn()
	peer := newTestConn()
	e := NewEngine(EngineConfig{
		Parent:   parent,
		Sessions: NewRegistry(log.Root()),
	})
	e.peer = peer
	return e, parent, peer
}

func beginMsg(generation uint64) wire.Msg {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, generation)
	return wire.Msg{Type: wire.TypeBeginConfig, Data: data, FD: -1}
}
