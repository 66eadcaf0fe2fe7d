package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/softadastra/softadastra-net/internal/netx"
)

type FrameType uint8

const (
	FrameHello FrameType = iota + 1
	FramePeerList
	FrameSyncRequest
	FrameSyncData
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FramePeerList:
		return "peer_list"
	case FrameSyncRequest:
		return "sync_request"
	case FrameSyncData:
		return "sync_data"
	default:
		return "unknown"
	}
}

// DefaultMaxFrameSize bounds a single frame (type byte + sender + payload).
const DefaultMaxFrameSize = 1 << 20

var (
	ErrZeroLength    = errors.New("wire: zero-length frame")
	ErrFrameTooLarge = errors.New("wire: frame exceeds max size")
	ErrTruncated     = errors.New("wire: truncated frame")
	ErrUnknownType   = errors.New("wire: unknown frame type")
)

// Frame is a single protocol message. From is the sender's peer ID as
// claimed on the wire; sessions cross-check it against the authenticated
// handshake identity.
type Frame struct {
	Type    FrameType
	From    netx.PeerID
	Payload []byte
}

// WriteFrame writes f as a length-prefixed frame:
// 4-byte big-endian length, 1 type byte, 1 sender-length byte,
// sender ID bytes, payload.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.From) > 255 {
		return errors.Errorf("wire: sender id too long (%d bytes)", len(f.From))
	}
	body := 1 + 1 + len(f.From) + len(f.Payload)
	if body > DefaultMaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 4+body)
	binary.BigEndian.PutUint32(buf[:4], uint32(body))
	buf[4] = byte(f.Type)
	buf[5] = byte(len(f.From))
	copy(buf[6:], f.From)
	copy(buf[6+len(f.From):], f.Payload)

	_, err := w.Write(buf)
	return errors.Wrap(err, "wire: write frame")
}

// ReadFrame reads one frame from r. maxSize of 0 falls back to
// DefaultMaxFrameSize. A zero or oversized length is a hard error; the
// caller is expected to close the connection.
func ReadFrame(r io.Reader, maxSize uint32) (Frame, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return Frame{}, ErrZeroLength
	}
	if n > maxSize {
		return Frame{}, ErrFrameTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, errors.Wrap(err, "wire: read frame body")
	}

	if len(body) < 2 {
		return Frame{}, ErrTruncated
	}
	ft := FrameType(body[0])
	if ft < FrameHello || ft > FrameSyncData {
		return Frame{}, ErrUnknownType
	}
	idLen := int(body[1])
	if 2+idLen > len(body) {
		return Frame{}, ErrTruncated
	}

	f := Frame{
		Type: ft,
		From: netx.PeerID(body[2 : 2+idLen]),
	}
	if payload := body[2+idLen:]; len(payload) > 0 {
		f.Payload = payload
	}
	return f, nil
}
