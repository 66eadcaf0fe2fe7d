package noiseconn

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/flynn/noise"
	"github.com/pkg/errors"
)

const maxHandshakeMsg = 65535

// SecureConn wraps an underlying stream with Noise cipher states.
// Ciphertext travels as length-prefixed records; decrypted bytes are
// buffered so callers can read in whatever sizes they like.
type SecureConn struct {
	underlying io.ReadWriteCloser

	readCS  *noise.CipherState
	writeCS *noise.CipherState

	readBuf []byte
}

// HandshakeResult bundles the secured connection with what the remote
// side proved during the handshake.
type HandshakeResult struct {
	Conn *SecureConn
	// RemoteStatic is the remote peer's authenticated static public key.
	RemoteStatic []byte
	// RemotePayload is the application payload the remote side attached
	// to its handshake message.
	RemotePayload []byte
}

// Read returns decrypted bytes, pulling and decrypting the next record
// from the underlying stream when the buffer runs dry.
func (c *SecureConn) Read(p []byte) (int, error) {
	if len(c.readBuf) == 0 {
		var lenBuf [4]byte
		if _, err := io.ReadFull(c.underlying, lenBuf[:]); err != nil {
			return 0, err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n == 0 {
			return 0, errors.New("noiseconn: invalid record length")
		}

		ct := make([]byte, n)
		if _, err := io.ReadFull(c.underlying, ct); err != nil {
			return 0, err
		}

		pt, err := c.readCS.Decrypt(nil, nil, ct)
		if err != nil {
			return 0, errors.Wrap(err, "noiseconn: decrypt")
		}
		c.readBuf = pt
	}

	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

// Write encrypts p as a single record and writes it with a length prefix.
func (c *SecureConn) Write(p []byte) (int, error) {
	ct, err := c.writeCS.Encrypt(nil, nil, p)
	if err != nil {
		return 0, err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ct)))

	if _, err := c.underlying.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := c.underlying.Write(ct); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *SecureConn) Close() error {
	return c.underlying.Close()
}

func newConfig(staticPriv, staticPub []byte, initiator bool) noise.Config {
	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)
	return noise.Config{
		CipherSuite:   cs,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: noise.DHKey{Private: staticPriv, Public: staticPub},
	}
}

// Handshake messages are length-prefixed so they never coalesce with
// whatever either side writes immediately after the handshake.
func writeHandshakeMsg(w io.Writer, msg []byte) error {
	if len(msg) > maxHandshakeMsg {
		return errors.New("noiseconn: handshake message too large")
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

func readHandshakeMsg(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	buf := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// NewSecureClient runs a Noise XX handshake as initiator. payload is
// attached to the final handshake message, after the channel keys exist.
func NewSecureClient(underlying io.ReadWriteCloser, staticPriv, staticPub, payload []byte) (*HandshakeResult, error) {
	hs, err := noise.NewHandshakeState(newConfig(staticPriv, staticPub, true))
	if err != nil {
		return nil, err
	}

	// -> e
	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeMsg(underlying, msg); err != nil {
		return nil, err
	}

	// <- e, ee, s, es (+ remote payload)
	in, err := readHandshakeMsg(underlying)
	if err != nil {
		return nil, err
	}
	remotePayload, _, _, err := hs.ReadMessage(nil, in)
	if err != nil {
		return nil, errors.Wrap(err, "noiseconn: handshake read")
	}

	// -> s, se (+ our payload)
	msg2, cs1, cs2, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeMsg(underlying, msg2); err != nil {
		return nil, err
	}

	// Initiator reads with cs2 and writes with cs1.
	return &HandshakeResult{
		Conn: &SecureConn{
			underlying: underlying,
			readCS:     cs2,
			writeCS:    cs1,
		},
		RemoteStatic:  hs.PeerStatic(),
		RemotePayload: remotePayload,
	}, nil
}

// NewSecureServer runs a Noise XX handshake as responder.
func NewSecureServer(underlying io.ReadWriteCloser, staticPriv, staticPub, payload []byte) (*HandshakeResult, error) {
	hs, err := noise.NewHandshakeState(newConfig(staticPriv, staticPub, false))
	if err != nil {
		return nil, err
	}

	// <- e
	in, err := readHandshakeMsg(underlying)
	if err != nil {
		return nil, err
	}
	if _, _, _, err := hs.ReadMessage(nil, in); err != nil {
		return nil, errors.Wrap(err, "noiseconn: handshake read")
	}

	// -> e, ee, s, es (+ our payload)
	msg, _, _, err := hs.WriteMessage(nil, payload)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakeMsg(underlying, msg); err != nil {
		return nil, err
	}

	// <- s, se (+ remote payload)
	in2, err := readHandshakeMsg(underlying)
	if err != nil {
		return nil, err
	}
	remotePayload, cs1, cs2, err := hs.ReadMessage(nil, in2)
	if err != nil {
		return nil, errors.Wrap(err, "noiseconn: handshake read")
	}

	// Responder cipher state order is swapped relative to the initiator.
	return &HandshakeResult{
		Conn: &SecureConn{
			underlying: underlying,
			readCS:     cs1,
			writeCS:    cs2,
		},
		RemoteStatic:  hs.PeerStatic(),
		RemotePayload: remotePayload,
	}, nil
}
