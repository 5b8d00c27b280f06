// Package arq implements the Selective-Repeat session protocol: handshake,
// sliding-window sender and sliding-window receiver over an unreliable
// datagram Link.
package arq

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/httpnio/internal/protocol"
	"github.com/1ureka/httpnio/internal/util"
)

// Link is the datagram path of one session. Writes are addressed to the
// session's peer; reads return packets that belong to the session.
type Link interface {
	Write(pkt protocol.Packet) error
	// Read waits up to wait for the next packet. ok is false on timeout.
	Read(ctx context.Context, wait time.Duration) (pkt protocol.Packet, ok bool, err error)
}

// route holds the addressing shared by both Link implementations. With a
// router configured every datagram goes to the router and Peer names the
// final destination; without one it goes straight to the peer.
type route struct {
	conn   *net.UDPConn
	peer   netip.AddrPort
	router netip.AddrPort
	stats  *util.Stats
}

func (r *route) write(pkt protocol.Packet) error {
	pkt = pkt.WithPeer(r.peer)
	data, err := protocol.Encode(pkt)
	if err != nil {
		return err
	}

	dest := r.peer
	if r.router.IsValid() {
		dest = r.router
	}
	if _, err := r.conn.WriteToUDPAddrPort(data, dest); err != nil {
		return errors.Wrapf(err, "write %s to %s", pkt.Kind, dest)
	}
	r.stats.AddSent(pkt.Kind.String(), len(data))
	return nil
}

// ---------------------------------------------------------------------------
// Socket-backed link (one socket per session)
// ---------------------------------------------------------------------------

// ConnLink reads and writes a UDP socket owned by a single session, which is
// how a client talks to a server.
type ConnLink struct {
	route
	buf []byte
}

// NewConnLink wraps conn. router may be the zero AddrPort.
func NewConnLink(conn *net.UDPConn, peer, router netip.AddrPort, stats *util.Stats) *ConnLink {
	return &ConnLink{
		route: route{conn: conn, peer: peer, router: router, stats: stats},
		buf:   make([]byte, protocol.MaxPacketSize+1),
	}
}

func (l *ConnLink) Write(pkt protocol.Packet) error {
	return l.write(pkt)
}

// Read drops datagrams that fail to decode and keeps waiting until the
// deadline.
func (l *ConnLink) Read(ctx context.Context, wait time.Duration) (protocol.Packet, bool, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Packet{}, false, err
	}

	deadline := time.Now().Add(wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return protocol.Packet{}, false, errors.Wrap(err, "set read deadline")
	}

	for {
		n, src, err := l.conn.ReadFromUDPAddrPort(l.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if err := ctx.Err(); err != nil {
					return protocol.Packet{}, false, err
				}
				return protocol.Packet{}, false, nil
			}
			return protocol.Packet{}, false, errors.Wrap(err, "read datagram")
		}

		pkt, err := protocol.Decode(l.buf[:n])
		if err != nil {
			util.LogDebug("dropping datagram from %s: %v", src, err)
			l.stats.AddDrop("format")
			continue
		}
		if !l.router.IsValid() {
			pkt = pkt.WithPeer(protocol.NormalizePeer(src))
		}
		l.stats.AddRecv(pkt.Kind.String(), n)
		return pkt, true, nil
	}
}

// ---------------------------------------------------------------------------
// Inbox-backed link (server sessions behind a demultiplexer)
// ---------------------------------------------------------------------------

// InboxLink reads packets that a demultiplexer already decoded and routed to
// this session, and writes through the session's private socket.
type InboxLink struct {
	route
	inbox <-chan protocol.Packet
}

// NewInboxLink wraps a routed inbox. conn is the session's private outbound
// socket.
func NewInboxLink(inbox <-chan protocol.Packet, conn *net.UDPConn, peer, router netip.AddrPort, stats *util.Stats) *InboxLink {
	return &InboxLink{
		route: route{conn: conn, peer: peer, router: router, stats: stats},
		inbox: inbox,
	}
}

func (l *InboxLink) Write(pkt protocol.Packet) error {
	return l.write(pkt)
}

func (l *InboxLink) Read(ctx context.Context, wait time.Duration) (protocol.Packet, bool, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case pkt := <-l.inbox:
		return pkt, true, nil
	case <-timer.C:
		return protocol.Packet{}, false, nil
	case <-ctx.Done():
		return protocol.Packet{}, false, ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Push-back
// ---------------------------------------------------------------------------

// pushbackLink lets the session return a packet it read too early so that the
// next Read yields it again.
type pushbackLink struct {
	Link
	pending []protocol.Packet
}

func (l *pushbackLink) Unread(pkt protocol.Packet) {
	l.pending = append(l.pending, pkt)
}

func (l *pushbackLink) Read(ctx context.Context, wait time.Duration) (protocol.Packet, bool, error) {
	if len(l.pending) > 0 {
		pkt := l.pending[0]
		l.pending = l.pending[1:]
		return pkt, true, nil
	}
	return l.Link.Read(ctx, wait)
}
