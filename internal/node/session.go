package node

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/softadastra/softadastra-net/internal/crypto/noiseconn"
	"github.com/softadastra/softadastra-net/internal/netx"
	"github.com/softadastra/softadastra-net/internal/registry"
	"github.com/softadastra/softadastra-net/internal/telemetry"
	"github.com/softadastra/softadastra-net/internal/wire"
)

const handshakeTimeout = 10 * time.Second

var (
	ErrUnexpectedFrame  = errors.New("node: frame type unexpected for session state")
	ErrSenderMismatch   = errors.New("node: frame sender does not match handshake identity")
	ErrProtocolMismatch = errors.New("node: protocol version mismatch")
)

type sessionState uint8

const (
	stateConnecting sessionState = iota
	stateHandshaking
	stateActive
	stateClosing
)

// identityPayload rides inside the Noise handshake, bound to the static
// key that authenticates it.
type identityPayload struct {
	Name string `json:"name"`
}

type session struct {
	id   netx.PeerID
	name string
	addr netx.Addr // advertised listen address

	raw  netx.Conn // for deadlines
	conn io.ReadWriteCloser
	r    *bufio.Reader

	sendCh chan wire.Frame

	mu    sync.Mutex
	state sessionState

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *session) setState(st sessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) getState() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.setState(stateClosing)
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.conn.Close()
	})
}

// handleConn runs the whole life of one connection: handshake, session
// registration, read loop, teardown. Both inbound and outbound links end
// up here.
func (n *Node) handleConn(rawConn netx.Conn, inbound bool) {
	s, err := n.establishSession(rawConn, inbound)
	if err != nil {
		n.log.Debug("session setup failed",
			zap.Bool("inbound", inbound),
			zap.Error(err))
		_ = rawConn.Close()
		return
	}
	if s == nil {
		// duplicate of an existing session
		_ = rawConn.Close()
		return
	}

	defer n.removeSession(s)

	// Open a sync round and introduce our peers.
	n.sendSyncRequest(s)
	n.sendPeerList(s, n.peerSample())

	n.runReadLoop(s)
}

// establishSession takes a raw connection through Connecting ->
// Handshaking -> Active. A nil session with nil error means the peer was
// already connected and this link should be dropped.
func (n *Node) establishSession(rawConn netx.Conn, inbound bool) (*session, error) {
	s := &session{raw: rawConn, state: stateConnecting}

	payload, err := json.Marshal(identityPayload{Name: n.cfg.Name})
	if err != nil {
		return nil, err
	}

	s.setState(stateHandshaking)
	_ = rawConn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	var hs *noiseconn.HandshakeResult
	if inbound {
		hs, err = noiseconn.NewSecureServer(rawConn, n.id.NoisePriv, n.id.NoisePub, payload)
	} else {
		hs, err = noiseconn.NewSecureClient(rawConn, n.id.NoisePriv, n.id.NoisePub, payload)
	}
	if err != nil {
		return nil, errors.Wrap(err, "noise handshake")
	}

	peerID := IDFromStatic(hs.RemoteStatic)
	if peerID == n.id.ID {
		return nil, errors.New("node: connected to self")
	}

	var remote identityPayload
	if len(hs.RemotePayload) > 0 {
		if err := json.Unmarshal(hs.RemotePayload, &remote); err != nil {
			_ = hs.Conn.Close()
			return nil, errors.Wrap(err, "handshake payload")
		}
	}

	s.id = peerID
	s.name = remote.Name
	s.conn = hs.Conn
	s.r = bufio.NewReader(hs.Conn)

	// Hello exchange: advertise our listen address, check protocol.
	if err := wire.WriteFrame(hs.Conn, wire.Frame{
		Type: wire.FrameHello,
		From: n.id.ID,
		Payload: wire.MustMarshal(wire.Hello{
			Name:     n.cfg.Name,
			Listen:   string(n.addr),
			Protocol: n.cfg.Protocol,
		}),
	}); err != nil {
		_ = hs.Conn.Close()
		return nil, err
	}

	f, err := wire.ReadFrame(s.r, n.cfg.MaxFrameSize)
	if err != nil {
		_ = hs.Conn.Close()
		return nil, errors.Wrap(err, "read hello")
	}
	if f.Type != wire.FrameHello {
		_ = hs.Conn.Close()
		return nil, ErrUnexpectedFrame
	}
	if f.From != peerID {
		_ = hs.Conn.Close()
		return nil, ErrSenderMismatch
	}
	var hello wire.Hello
	if err := json.Unmarshal(f.Payload, &hello); err != nil {
		_ = hs.Conn.Close()
		return nil, errors.Wrap(err, "decode hello")
	}
	if hello.Protocol != n.cfg.Protocol {
		_ = hs.Conn.Close()
		return nil, ErrProtocolMismatch
	}
	_ = rawConn.SetReadDeadline(time.Time{})

	s.addr = netx.Addr(hello.Listen)
	if hello.Name != "" {
		s.name = hello.Name
	}
	s.sendCh = make(chan wire.Frame, 128)
	s.ctx, s.cancel = context.WithCancel(n.ctx)

	if !n.addSession(s) {
		s.cancel()
		_ = hs.Conn.Close()
		return nil, nil
	}
	s.setState(stateActive)

	go s.writeLoop(n)

	n.log.Debug("session established",
		zap.String("peer", shortID(s.id)),
		zap.String("name", s.name),
		zap.Bool("inbound", inbound))
	return s, nil
}

func (n *Node) addSession(s *session) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.sessions[s.id]; exists {
		return false
	}
	n.sessions[s.id] = s

	n.reg.Upsert(registry.Record{ID: s.id, Addr: s.addr, Name: s.name})
	n.reg.MarkSeen(s.id)

	telemetry.Sessions.Inc()
	n.emit(Event{
		Type:     EventPeerConnected,
		PeerID:   s.id,
		PeerAddr: string(s.addr),
		PeerName: s.name,
	})
	return true
}

// removeSession tears a session down. Partial sync state already applied
// stays applied; anything unsent waits for reconnect. A disconnect is a
// liveness signal, so the peer drops to Suspect.
func (n *Node) removeSession(s *session) {
	n.mu.Lock()
	cur, ok := n.sessions[s.id]
	if ok && cur == s {
		delete(n.sessions, s.id)
	}
	n.mu.Unlock()

	s.close()
	if !ok || cur != s {
		return
	}

	telemetry.Sessions.Dec()
	n.reg.MarkSuspect(s.id)
	n.emit(Event{
		Type:     EventPeerDisconnected,
		PeerID:   s.id,
		PeerAddr: string(s.addr),
		PeerName: s.name,
	})
}

// runReadLoop processes frames in arrival order until the connection
// fails or the node shuts down. Each read carries its own deadline; a
// silent peer times out and gets marked Suspect via removeSession.
func (n *Node) runReadLoop(s *session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_ = s.raw.SetReadDeadline(time.Now().Add(n.cfg.ReadTimeout))
		f, err := wire.ReadFrame(s.r, n.cfg.MaxFrameSize)
		if err != nil {
			if s.getState() != stateClosing {
				n.log.Debug("read failed",
					zap.String("peer", shortID(s.id)),
					zap.Error(err))
			}
			return
		}
		if f.From != s.id {
			n.log.Warn("sender mismatch, closing",
				zap.String("peer", shortID(s.id)))
			return
		}
		telemetry.FramesTotal.WithLabelValues("in", f.Type.String()).Inc()
		if err := n.handleFrame(s, f); err != nil {
			n.log.Warn("protocol error, closing",
				zap.String("peer", shortID(s.id)),
				zap.Error(err))
			return
		}
	}
}

func (s *session) writeLoop(n *Node) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case f, ok := <-s.sendCh:
			if !ok {
				return
			}
			if err := wire.WriteFrame(s.conn, f); err != nil {
				n.log.Debug("write failed",
					zap.String("peer", shortID(s.id)),
					zap.Error(err))
				go n.removeSession(s)
				return
			}
			telemetry.FramesTotal.WithLabelValues("out", f.Type.String()).Inc()
		}
	}
}
