// Package chunkconn supplies the TCP transport the write chain (C6),
// read service (C7 peer pulls), replicator (C8) and wrong-CRC notifier
// (C9) use to reach other chunkservers — the `ChunkConnector` contract
// spec.md's overview describes as an external collaborator the core
// merely consumes.
package chunkconn

import (
	"context"
	"fmt"
	"net"
	"time"
)

// NetworkAddress is the wire (ip:u32, port:u16) pair wireproto carries
// inside WRITE_INIT chains; chunkconn converts it to/from net.Conn
// addressing.
type NetworkAddress struct {
	IP   uint32
	Port uint16
}

func (a NetworkAddress) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d",
		byte(a.IP>>24), byte(a.IP>>16), byte(a.IP>>8), byte(a.IP), a.Port)
}

// ChunkConnector dials another chunkserver. The write chain, replicator
// and wrong-CRC notifier all take one injected, so tests can supply an
// in-memory fake instead of a real socket.
type ChunkConnector interface {
	Dial(ctx context.Context, addr NetworkAddress, timeout time.Duration) (net.Conn, error)
}

// TCPConnector is the production ChunkConnector.
type TCPConnector struct {
	dialer net.Dialer
}

func NewTCPConnector() *TCPConnector {
	return &TCPConnector{}
}

// Dial connects within timeout, satisfying spec.md §4.6's "if the
// downstream peer never connects within 1s, the write fails
// CONNECTION_TIMEOUT" rule — callers translate net.Error.Timeout()
// into status.ErrConnectionTimeout.
func (c *TCPConnector) Dial(ctx context.Context, addr NetworkAddress, timeout time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.dialer.DialContext(dialCtx, "tcp", addr.String())
}
