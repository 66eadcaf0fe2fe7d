package node

import (
	"time"

	"go.uber.org/zap"

	"github.com/softadastra/softadastra-net/internal/netx"
	"github.com/softadastra/softadastra-net/internal/registry"
)

// Config is fixed at startup; the node never mutates it.
type Config struct {
	Name       string       // user-facing node name
	Network    netx.Network // transport implementation
	BindAddr   string       // e.g. ":0" to choose a random port
	Bootstraps []netx.Addr  // known peers to try on startup
	Protocol   string       // protocol version string
	Logger     *zap.Logger  // system logger
	Identity   *Identity    // nil means generate a fresh keypair

	// Gossip knobs.
	GossipInterval  time.Duration // how often to send PeerList samples
	GossipFanout    int           // max peers per PeerList sample
	MaxDialsPerTick int           // bound on new connections per merge

	// Transport knobs.
	MaxFrameSize uint32
	ReadTimeout  time.Duration // per-frame; expiry marks the peer Suspect
	DialTimeout  time.Duration

	// Reconnect backoff.
	RetryBase time.Duration
	RetryMax  time.Duration

	// Liveness timing, handed to the registry.
	Liveness registry.Config
}

func (c *Config) applyDefaults() {
	if c.Protocol == "" {
		c.Protocol = "softnet/1"
	}
	if c.GossipInterval <= 0 {
		c.GossipInterval = 10 * time.Second
	}
	if c.GossipFanout <= 0 {
		c.GossipFanout = 8
	}
	if c.MaxDialsPerTick <= 0 {
		c.MaxDialsPerTick = 4
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = 1 << 20
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 45 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 2 * time.Minute
	}
	if c.Liveness == (registry.Config{}) {
		c.Liveness = registry.DefaultConfig()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
