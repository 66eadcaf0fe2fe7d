package node

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/flynn/noise"
	"golang.org/x/crypto/blake2b"

	"github.com/softadastra/softadastra-net/internal/netx"
)

// peerIDSize is the digest length of a peer ID in bytes.
const peerIDSize = 20

// Identity is the node's Noise static keypair. The peer ID is derived
// from the public key, so it cannot be claimed without the matching
// private key completing the handshake.
type Identity struct {
	NoisePriv []byte
	NoisePub  []byte
	ID        netx.PeerID
}

func NewIdentity() (*Identity, error) {
	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)
	key, err := cs.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{
		NoisePriv: key.Private,
		NoisePub:  key.Public,
		ID:        IDFromStatic(key.Public),
	}, nil
}

// IDFromStatic derives the canonical peer ID from a Noise static public
// key: hex of a truncated BLAKE2b digest.
func IDFromStatic(pub []byte) netx.PeerID {
	sum := blake2b.Sum256(pub)
	return netx.PeerID(hex.EncodeToString(sum[:peerIDSize]))
}

func shortID(id netx.PeerID) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}
