package wire

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

func TestFrameRoundTripAllTypes(t *testing.T) {
	frames := []Frame{
		{Type: FrameHello, From: "peer-a", Payload: MustMarshal(Hello{Name: "a", Listen: ":4001", Protocol: "softnet/1"})},
		{Type: FramePeerList, From: "peer-b", Payload: MustMarshal(PeerList{Peers: []PeerInfo{{ID: "x", Addr: "127.0.0.1:9"}}})},
		{Type: FrameSyncRequest, From: "peer-c", Payload: MustMarshal(SyncRequest{Vector: Vector{"x": 3}})},
		{Type: FrameSyncData, From: "peer-d", Payload: MustMarshal(SyncData{Done: true})},
		{Type: FrameSyncData, From: "peer-e"}, // empty payload
	}

	for _, want := range frames {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, want); err != nil {
			t.Fatalf("WriteFrame(%v): %v", want.Type, err)
		}
		got, err := ReadFrame(&buf, 0)
		if err != nil {
			t.Fatalf("ReadFrame(%v): %v", want.Type, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
		}
	}
}

func TestReadFrameZeroLength(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	buf.Write(lenBuf[:]) // length 0

	if _, err := ReadFrame(&buf, 0); !errors.Is(err, ErrZeroLength) {
		t.Fatalf("err = %v, want ErrZeroLength", err)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 1<<24)
	buf.Write(lenBuf[:])

	if _, err := ReadFrame(&buf, 1<<20); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestReadFrameUnknownType(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 2)
	buf.Write(lenBuf[:])
	buf.Write([]byte{0xFF, 0x00})

	if _, err := ReadFrame(&buf, 0); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestReadFrameTruncatedSender(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 2)
	buf.Write(lenBuf[:])
	// claims a 10-byte sender ID but the body ends immediately
	buf.Write([]byte{byte(FrameHello), 10})

	if _, err := ReadFrame(&buf, 0); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestWriteFrameRejectsOversize(t *testing.T) {
	big := make([]byte, DefaultMaxFrameSize)
	err := WriteFrame(&bytes.Buffer{}, Frame{Type: FrameSyncData, From: "p", Payload: big})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestVectorCoversObserve(t *testing.T) {
	v := make(Vector)
	if v.Covers("a", 1) {
		t.Fatal("empty vector should not cover anything")
	}
	v.Observe("a", 5)
	if !v.Covers("a", 5) || !v.Covers("a", 3) {
		t.Fatal("vector should cover counters at or below the watermark")
	}
	if v.Covers("a", 6) {
		t.Fatal("vector should not cover counters above the watermark")
	}
	v.Observe("a", 2) // lower, must not regress
	if v["a"] != 5 {
		t.Fatalf("watermark regressed to %d", v["a"])
	}
}
