package netx

import (
	"io"
	"time"
)

type PeerID string
type Addr string

type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() Addr
	SetReadDeadline(t time.Time) error
}

type Network interface {
	Listen(bindAddr string) (listenAddr Addr, err error)
	Accept() (Conn, error)
	Dial(addr Addr, timeout time.Duration) (Conn, error)
	Close() error
}
