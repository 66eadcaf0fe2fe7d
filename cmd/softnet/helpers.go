package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/softadastra/softadastra-net/internal/netx"
	"github.com/softadastra/softadastra-net/internal/node"
)

func parseBootstraps(s string) []netx.Addr {
	var out []netx.Addr
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, netx.Addr(part))
		}
	}
	return out
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".softnet")
}

func printBanner(n *node.Node) {
	fmt.Printf("Node started.\n")
	fmt.Printf("ID:   %s\n", n.ID())
	fmt.Printf("Addr: %s\n\n", n.ListenAddr())
	fmt.Println("Commands:")
	fmt.Println("  /set <key> <value>  - write a value")
	fmt.Println("  /get <key>          - read a value")
	fmt.Println("  /del <key>          - delete a key")
	fmt.Println("  /keys               - list live keys")
	fmt.Println("  /peers              - show the peer registry")
	fmt.Println("  /quit               - exit")
	fmt.Println()
}
