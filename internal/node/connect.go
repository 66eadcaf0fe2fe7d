package node

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/softadastra/softadastra-net/internal/netx"
	"github.com/softadastra/softadastra-net/internal/telemetry"
)

// ConnectTo dials addr once. Concurrent dials to the same address are
// collapsed into one.
func (n *Node) ConnectTo(addr netx.Addr) error {
	if !n.beginDial(addr) {
		return nil
	}
	defer n.endDial(addr)

	conn, err := n.cfg.Network.Dial(addr, n.cfg.DialTimeout)
	if err != nil {
		n.log.Debug("dial failed", zap.String("addr", string(addr)), zap.Error(err))
		return err
	}
	go n.handleConn(conn, false)
	return nil
}

func (n *Node) beginDial(addr netx.Addr) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, busy := n.dialing[addr]; busy {
		return false
	}
	n.dialing[addr] = struct{}{}
	return true
}

func (n *Node) endDial(addr netx.Addr) {
	n.mu.Lock()
	delete(n.dialing, addr)
	n.mu.Unlock()
}

// dialWithBackoff keeps a bootstrap address connected, retrying with
// capped exponential backoff plus jitter so a restarting mesh does not
// thunder back in lockstep.
func (n *Node) dialWithBackoff(addr netx.Addr) {
	defer n.wg.Done()

	retry := n.cfg.RetryBase
	attempt := 0

	for {
		select {
		case <-n.ctx.Done():
			return
		default:
		}

		if n.hasSessionForAddr(addr) {
			retry = n.cfg.RetryBase
			attempt = 0
		} else if !n.reg.DialableAddr(addr) {
			// peer at this address is Dead; wait out its grace period
		} else {
			if attempt > 0 {
				telemetry.DialRetries.Inc()
			}
			attempt++
			_ = n.ConnectTo(addr)

			retry *= 2
			if retry > n.cfg.RetryMax {
				retry = n.cfg.RetryMax
			}
		}

		// full jitter over the current interval
		wait := n.cfg.RetryBase + time.Duration(rand.Int63n(int64(retry)))
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (n *Node) hasSessionForAddr(addr netx.Addr) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, s := range n.sessions {
		if s.addr == addr {
			return true
		}
	}
	return false
}
