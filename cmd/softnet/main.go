package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/softadastra/softadastra-net/internal/antientropy"
	"github.com/softadastra/softadastra-net/internal/netx"
	"github.com/softadastra/softadastra-net/internal/node"
	"github.com/softadastra/softadastra-net/internal/state"
	"github.com/softadastra/softadastra-net/internal/storage/statebolt"
	"github.com/softadastra/softadastra-net/internal/telemetry"
)

type options struct {
	Name           string        `long:"name" default:"anon" description:"Display name for this node"`
	Bind           string        `long:"bind" default:":0" description:"Listen address (\":0\" picks a random port)"`
	Bootstrap      string        `long:"bootstrap" description:"Comma-separated bootstrap addresses host:port"`
	DataDir        string        `long:"datadir" description:"State database directory (default ~/.softnet)"`
	MetricsAddr    string        `long:"metricsaddr" description:"Expose prometheus metrics on this address"`
	GossipInterval time.Duration `long:"gossipinterval" default:"10s" description:"Peer list gossip interval"`
	GossipFanout   int           `long:"gossipfanout" default:"8" description:"Max peers per gossip sample"`
	MaxFrameSize   uint32        `long:"maxframesize" default:"1048576" description:"Max wire frame size in bytes"`
	Ephemeral      bool          `long:"ephemeral" description:"Skip persistence, keep state in memory only"`
	Debug          bool          `long:"debug" description:"Verbose logging"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(opts.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	id, err := node.NewIdentity()
	if err != nil {
		logger.Fatal("identity", zap.Error(err))
	}

	var db *statebolt.Store
	var disk antientropy.Persistence
	if !opts.Ephemeral {
		dir := opts.DataDir
		if dir == "" {
			dir = defaultDataDir()
		}
		db, err = statebolt.Open(filepath.Join(dir, "state.db"))
		if err != nil {
			logger.Fatal("open state db", zap.Error(err))
		}
		disk = db
	}

	store := state.NewStore(id.ID)
	engine := antientropy.New(store, disk, logger)
	if err := engine.Load(); err != nil {
		logger.Fatal("restore state", zap.Error(err))
	}

	n, err := node.New(node.Config{
		Name:           opts.Name,
		Network:        netx.NewTCPNetwork(),
		BindAddr:       opts.Bind,
		Bootstraps:     parseBootstraps(opts.Bootstrap),
		Identity:       id,
		Logger:         logger,
		GossipInterval: opts.GossipInterval,
		GossipFanout:   opts.GossipFanout,
		MaxFrameSize:   opts.MaxFrameSize,
	}, engine)
	if err != nil {
		logger.Fatal("create node", zap.Error(err))
	}

	if err := n.Start(); err != nil {
		logger.Fatal("start node", zap.Error(err))
	}

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		go func() {
			if err := http.ListenAndServe(opts.MetricsAddr, mux); err != nil {
				logger.Warn("metrics server", zap.Error(err))
			}
		}()
	}

	printBanner(n)

	go func() {
		for ev := range n.Events() {
			switch ev.Type {
			case node.EventPeerConnected:
				fmt.Printf("[NET] peer connected: %s (%s)\n", ev.PeerName, ev.PeerAddr)
			case node.EventPeerDisconnected:
				fmt.Printf("[NET] peer disconnected: %s\n", ev.PeerID)
			case node.EventEntriesApplied:
				fmt.Printf("[SYNC] applied %d entries from %s\n", ev.Count, ev.PeerID)
			}
		}
	}()

	// Single teardown path: the node stops and the state db closes no
	// matter how we exit.
	shutdown := func() {
		_ = n.Stop()
		if db != nil {
			_ = db.Close()
		}
		_ = logger.Sync()
		os.Exit(0)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nshutting down...")
		shutdown()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			fmt.Println("quitting...")
			break
		}
		runCommand(n, store, line)
	}
	shutdown()
}

func runCommand(n *node.Node, store *state.Store, line string) {
	switch {
	case strings.HasPrefix(line, "/set "):
		rest := strings.TrimSpace(strings.TrimPrefix(line, "/set"))
		key, val, ok := strings.Cut(rest, " ")
		if !ok {
			fmt.Println("usage: /set <key> <value>")
			return
		}
		n.Put(key, []byte(val))
		fmt.Printf("set %q\n", key)

	case strings.HasPrefix(line, "/get "):
		key := strings.TrimSpace(strings.TrimPrefix(line, "/get"))
		if v, ok := store.Get(key); ok {
			fmt.Printf("%s\n", v)
		} else {
			fmt.Println("(not found)")
		}

	case strings.HasPrefix(line, "/del "):
		key := strings.TrimSpace(strings.TrimPrefix(line, "/del"))
		n.Delete(key)
		fmt.Printf("deleted %q\n", key)

	case line == "/keys":
		for _, k := range store.Keys() {
			fmt.Println(k)
		}

	case line == "/peers":
		for _, rec := range n.Registry().All() {
			fmt.Printf("%-44s %-22s %-8s %s\n", rec.ID, rec.Addr, rec.State, rec.Name)
		}

	default:
		fmt.Println("unknown command")
	}
}
