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
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustplane/trustd/pkg/log"
	"github.com/trustplane/trustd/trust"
	"github.com/trustplane/trustd/wire"
)

// startEngine runs the event loop in the background and returns a channel
// that yields the Run result.
func startEngine(ctx context.Context, e *Engine) chan error {
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx)
	}()
	return done
}

func waitErr(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop in time")
		return nil
	}
}

func TestRunShutdownOnCancel(t *testing.T) {
	e, parent, peer := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := startEngine(ctx, e)

	cancel()
	require.NoError(t, waitErr(t, done))
	assert.True(t, parent.isClosed())
	assert.True(t, peer.isClosed())
}

func TestRunParentLoss(t *testing.T) {
	e, parent, _ := newTestEngine(t)
	done := startEngine(context.Background(), e)

	parent.Close()
	err := waitErr(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lost connection to parent")
}

func TestRunFatalMessage(t *testing.T) {
	e, parent, _ := newTestEngine(t)
	done := startEngine(context.Background(), e)

	// A ROA item with no open staged configuration is a protocol
	// violation and must tear down the engine.
	parent.in <- wire.Msg{Type: wire.TypeRoaItem, FD: -1}
	require.Error(t, waitErr(t, done))
	assert.True(t, parent.isClosed())
}

func TestRunReconfigOverChannel(t *testing.T) {
	e, parent, peer := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startEngine(ctx, e)

	parent.in <- beginMsg(7)
	parent.in <- roaMsg(t, "192.0.2.0/24", 24, 64500)
	parent.in <- wire.Msg{Type: wire.TypeCommitConfig, FD: -1}

	require.Eventually(t, func() bool {
		return parent.countType(wire.TypeCommitConfig) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, peer.countType(wire.TypeRoaSetBegin))
	assert.Equal(t, 1, peer.countType(wire.TypeRecalcDone))

	cancel()
	require.NoError(t, waitErr(t, done))
}

func TestRunExpiryTriggersRecalc(t *testing.T) {
	log.Discard()
	parent := newTestConn()
	peer := newTestConn()
	e := NewEngine(EngineConfig{
		Parent:         parent,
		Sessions:       NewRegistry(log.Root()),
		ExpireInterval: 25 * time.Millisecond,
	})
	e.peer = peer

	stale := trust.ROA{
		Prefix:    netip.MustParsePrefix("10.0.0.0/8"),
		MaxLength: 24,
		OriginAS:  64500,
		Expires:   time.Now().Add(-time.Second).Unix(),
	}
	keeper := trust.ROA{
		Prefix:    netip.MustParsePrefix("192.0.2.0/24"),
		MaxLength: 24,
		OriginAS:  64501,
	}
	require.True(t, e.active.InsertROA(stale))
	require.True(t, e.active.InsertROA(keeper))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startEngine(ctx, e)

	require.Eventually(t, func() bool {
		return peer.countType(wire.TypeRecalcDone) == 1
	}, 5*time.Second, 5*time.Millisecond)

	items := peer.ofType(wire.TypeRoaSetItem)
	require.Len(t, items, 1)
	got, err := wire.UnmarshalROA(items[0].Data)
	require.NoError(t, err)
	assert.Equal(t, keeper.Prefix, got.Prefix)

	// Later sweeps find nothing expired and must not publish again.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, peer.countType(wire.TypeRoaSetBegin))

	cancel()
	require.NoError(t, waitErr(t, done))
}

func TestRunPeerLossKeepsEngineAlive(t *testing.T) {
	e, parent, _ := newTestEngine(t)
	peer := newTestConn()
	e.setPeer(peer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startEngine(ctx, e)

	peer.Close()

	// The engine must keep serving the parent after the peer drops.
	parent.in <- beginMsg(1)
	parent.in <- wire.Msg{Type: wire.TypeCommitConfig, FD: -1}
	require.Eventually(t, func() bool {
		return parent.countType(wire.TypeCommitConfig) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, waitErr(t, done))
}
