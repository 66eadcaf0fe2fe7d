package node

import (
	"math/rand"
	"time"

	"github.com/softadastra/softadastra-net/internal/registry"
	"github.com/softadastra/softadastra-net/internal/telemetry"
	"github.com/softadastra/softadastra-net/internal/wire"
)

// gossipLoop sends a bounded random sample of known-alive peers to every
// session at a fixed interval, and opens a fresh sync round alongside it.
// The PeerList doubles as our heartbeat; the periodic sync round catches
// anything a broadcast missed.
func (n *Node) gossipLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.GossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			sample := n.peerSample()
			n.mu.RLock()
			for _, s := range n.sessions {
				n.sendPeerList(s, sample)
				n.sendSyncRequest(s)
			}
			n.mu.RUnlock()
		}
	}
}

// peerSample picks up to GossipFanout alive peers, shuffled so repeated
// ticks spread different subsets of the membership.
func (n *Node) peerSample() []wire.PeerInfo {
	alive := n.reg.ListAlive()
	rand.Shuffle(len(alive), func(i, j int) { alive[i], alive[j] = alive[j], alive[i] })

	out := make([]wire.PeerInfo, 0, n.cfg.GossipFanout)
	for _, rec := range alive {
		if len(out) >= n.cfg.GossipFanout {
			break
		}
		if rec.Addr == "" {
			continue
		}
		out = append(out, wire.PeerInfo{ID: rec.ID, Addr: string(rec.Addr), Name: rec.Name})
	}
	return out
}

func (n *Node) sendPeerList(s *session, sample []wire.PeerInfo) {
	n.sendAsync(s, wire.Frame{
		Type:    wire.FramePeerList,
		From:    n.id.ID,
		Payload: wire.MustMarshal(wire.PeerList{Peers: sample}),
	})
}

func (n *Node) sendSyncRequest(s *session) {
	n.sendAsync(s, wire.Frame{
		Type:    wire.FrameSyncRequest,
		From:    n.id.ID,
		Payload: wire.MustMarshal(n.engine.Request()),
	})
}

// sweepLoop drives registry liveness transitions and keeps the telemetry
// gauges current. Peers the sweep declares Dead lose their session.
func (n *Node) sweepLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			for _, id := range n.reg.Sweep(time.Now()) {
				n.mu.RLock()
				s := n.sessions[id]
				n.mu.RUnlock()
				if s != nil {
					n.removeSession(s)
				}
			}

			counts := n.reg.CountByState()
			for _, st := range []registry.State{registry.StateAlive, registry.StateSuspect, registry.StateDead} {
				telemetry.PeersByState.WithLabelValues(st.String()).Set(float64(counts[st]))
			}
		}
	}
}
