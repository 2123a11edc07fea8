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
	"github.com/trustplane/trustd/trust"
	"github.com/trustplane/trustd/wire"
)

// recalc merges the active trust data into de-duplicated snapshots and
// streams them to the decision-engine peer, then signals the open router
// sessions. It only reads the active store and writes a disposable scratch
// union, so a failure can never corrupt live state. Without a peer channel
// the push is dropped; a later reconfiguration or expiry tick re-triggers
// a full recalculation.
func (e *Engine) recalc() {
	metrics.recalculations.Inc()

	union := trust.NewStore()
	for _, roa := range e.active.ROAs() {
		union.InsertROA(roa)
	}
	roas := union.ROAs()
	trust.SortROAs(roas)

	e.sendPeer(wire.Msg{Type: wire.TypeRoaSetBegin, FD: -1})
	for _, roa := range roas {
		e.sendPeer(wire.Msg{
			Type: wire.TypeRoaSetItem,
			Data: wire.MarshalROA(roa),
			FD:   -1,
		})
	}

	for _, set := range e.active.ASPAs() {
		union.InsertOrMergeASPA(set)
	}
	sets := union.ASPAs()
	trust.SortASPAs(sets)

	// Declare the total transfer size up front. The receiver is a separate
	// process and the configuration size is attacker influenced, so it
	// pre-sizes its storage instead of growing it on the fly.
	var prep wire.AspaPrep
	for _, set := range sets {
		prep.Entries++
		prep.DataSize += 4 * uint64(len(set.Providers))
		if _, needed := wire.PackFamilyMask(set.Providers); needed {
			prep.DataSize += 4 * uint64(wire.MaskWords(len(set.Providers)))
		}
	}
	e.sendPeer(wire.Msg{
		Type: wire.TypeAspaPrep,
		Data: wire.MarshalAspaPrep(prep),
		FD:   -1,
	})

	for _, set := range sets {
		providers := make([]uint32, len(set.Providers))
		for i, p := range set.Providers {
			providers[i] = p.AS
		}
		e.sendPeer(wire.Msg{
			Type: wire.TypeAspaSetBegin,
			Data: wire.MarshalAspaSetBegin(wire.AspaSetBegin{
				CustomerAS: set.CustomerAS,
				Count:      uint32(len(set.Providers)),
			}),
			FD: -1,
		})
		e.sendPeer(wire.Msg{
			Type: wire.TypeAspaSetProviders,
			Data: wire.MarshalASList(providers),
			FD:   -1,
		})
		if words, needed := wire.PackFamilyMask(set.Providers); needed {
			e.sendPeer(wire.Msg{
				Type: wire.TypeAspaSetFamilyMask,
				Data: wire.MarshalMaskWords(words),
				FD:   -1,
			})
		}
		e.sendPeer(wire.Msg{Type: wire.TypeAspaSetDone, FD: -1})
	}

	e.sendPeer(wire.Msg{Type: wire.TypeRecalcDone, FD: -1})

	metrics.snapshotROAs.Set(float64(len(roas)))
	metrics.snapshotASPAs.Set(float64(len(sets)))

	e.sessions.NotifyAll()
}

// sendPeer sends one snapshot message to the peer. Messages are dropped
// without retry if the channel is missing; a send failure tears the
// channel down.
func (e *Engine) sendPeer(m wire.Msg) {
	if e.peer == nil {
		metrics.peerDrops.Inc()
		return
	}
	if err := e.peer.Send(m); err != nil {
		e.logger.Warn("lost connection to peer", "err", err)
		e.peer.Close()
		e.peer = nil
		metrics.peerDrops.Inc()
	}
}
