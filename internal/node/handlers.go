package node

import (
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/softadastra/softadastra-net/internal/netx"
	"github.com/softadastra/softadastra-net/internal/registry"
	"github.com/softadastra/softadastra-net/internal/wire"
)

// handleFrame dispatches one inbound frame. A non-nil error is a protocol
// violation and closes the session. Any frame at all counts as liveness.
func (n *Node) handleFrame(s *session, f wire.Frame) error {
	n.reg.MarkSeen(s.id)

	switch f.Type {
	case wire.FrameHello:
		// Hello is only valid during session setup.
		return ErrUnexpectedFrame

	case wire.FramePeerList:
		var pl wire.PeerList
		if err := json.Unmarshal(f.Payload, &pl); err != nil {
			return errors.Wrap(err, "decode peer list")
		}
		n.mergePeerList(pl)
		return nil

	case wire.FrameSyncRequest:
		var req wire.SyncRequest
		if err := json.Unmarshal(f.Payload, &req); err != nil {
			return errors.Wrap(err, "decode sync request")
		}
		for _, batch := range n.engine.Respond(req) {
			n.sendAsync(s, wire.Frame{
				Type:    wire.FrameSyncData,
				From:    n.id.ID,
				Payload: wire.MustMarshal(batch),
			})
		}
		return nil

	case wire.FrameSyncData:
		var d wire.SyncData
		if err := json.Unmarshal(f.Payload, &d); err != nil {
			return errors.Wrap(err, "decode sync data")
		}
		if applied := n.engine.Apply(d); applied > 0 {
			n.emit(Event{Type: EventEntriesApplied, PeerID: s.id, Count: applied})
		}
		return nil

	default:
		return errors.Wrapf(ErrUnexpectedFrame, "type %d", f.Type)
	}
}

// mergePeerList folds gossiped peers into the registry and grows the mesh
// toward a bounded number of the newcomers. Peers we already have a
// session with are never redialed; Dead peers wait out their grace
// period.
func (n *Node) mergePeerList(pl wire.PeerList) {
	dialed := 0
	for _, pi := range pl.Peers {
		if pi.ID == "" || pi.ID == n.id.ID {
			continue
		}
		n.reg.Upsert(registry.Record{ID: pi.ID, Addr: netx.Addr(pi.Addr), Name: pi.Name})

		if dialed >= n.cfg.MaxDialsPerTick {
			continue
		}
		if pi.Addr == "" || n.hasSession(pi.ID) || !n.reg.Dialable(pi.ID) {
			continue
		}
		n.log.Debug("discovery dial",
			zap.String("peer", shortID(pi.ID)),
			zap.String("addr", pi.Addr))
		go func(addr string) { _ = n.ConnectTo(netx.Addr(addr)) }(pi.Addr)
		dialed++
	}
}
