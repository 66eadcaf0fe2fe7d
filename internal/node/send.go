package node

import (
	"github.com/pkg/errors"

	"github.com/softadastra/softadastra-net/internal/netx"
	"github.com/softadastra/softadastra-net/internal/wire"
)

// sendAsync queues a frame without blocking. A full buffer means the peer
// has stopped draining; the session is torn down rather than letting one
// slow link stall the node.
func (n *Node) sendAsync(s *session, f wire.Frame) {
	select {
	case s.sendCh <- f:
	default:
		n.log.Debug("send buffer full, dropping session")
		go n.removeSession(s)
	}
}

// SendToPeer queues a frame for a connected peer by ID.
func (n *Node) SendToPeer(id netx.PeerID, f wire.Frame) error {
	n.mu.RLock()
	s, ok := n.sessions[id]
	n.mu.RUnlock()
	if !ok {
		return errors.Errorf("unknown peer %q", id)
	}
	n.sendAsync(s, f)
	return nil
}
