package demux

import (
	"context"
	"net"
	"net/netip"
	"sync"

	"github.com/pkg/errors"

	"github.com/1ureka/httpnio/internal/arq"
	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/protocol"
	"github.com/1ureka/httpnio/internal/util"
)

// Listener owns the shared server socket. One goroutine reads it, decodes
// every datagram and routes it by peer; each new SYN becomes a Session handed
// out by Accept.
type Listener struct {
	conn       *net.UDPConn
	addr       netip.AddrPort
	router     netip.AddrPort
	cfg        config.Config
	dispatcher *Dispatcher
	stats      *util.Stats

	backlog   chan pending
	done      chan struct{}
	closeOnce sync.Once
}

type pending struct {
	peer  netip.AddrPort
	inbox chan protocol.Packet
}

// Listen binds addr ("host:port", IPv4) and starts the read loop. The
// listener closes when ctx is cancelled.
func Listen(ctx context.Context, addr string, cfg config.Config, stats *util.Stats) (*Listener, error) {
	router, err := cfg.Router()
	if err != nil {
		return nil, err
	}
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}

	l := &Listener{
		conn:       conn,
		addr:       protocol.NormalizePeer(conn.LocalAddr().(*net.UDPAddr).AddrPort()),
		router:     router,
		cfg:        cfg,
		dispatcher: NewDispatcher(cfg.InboxSize, cfg.TombstoneTTL),
		stats:      stats,
		backlog:    make(chan pending, cfg.Workers),
		done:       make(chan struct{}),
	}

	go l.loop()

	// Close the socket when context is done so the read loop returns.
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.done:
		}
	}()

	return l, nil
}

// Addr is the bound server endpoint.
func (l *Listener) Addr() netip.AddrPort { return l.addr }

// Close stops the read loop. Sessions already accepted keep their private
// sockets until they are closed.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()
	})
	return err
}

// Accept waits for the next new peer and opens its session on a private
// socket bound to an ephemeral port.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	var p pending
	select {
	case p = <-l.backlog:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, net.ErrClosed
	}

	local := l.conn.LocalAddr().(*net.UDPAddr)
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: local.IP})
	if err != nil {
		l.dispatcher.Unregister(p.peer)
		return nil, errors.Wrap(err, "bind session socket")
	}

	id := util.SessionID(l.addr, p.peer)
	link := arq.NewInboxLink(p.inbox, conn, p.peer, l.router, l.stats)
	s := &Session{
		Session:    arq.NewSession(arq.RoleServer, link, l.cfg.Protocol, util.SessionLog(id), l.stats),
		Peer:       p.peer,
		Log:        util.SessionLog(id),
		conn:       conn,
		dispatcher: l.dispatcher,
	}
	s.Log.Debug("session opened for %s on %s", p.peer, conn.LocalAddr())
	return s, nil
}

// ---------------------------------------------------------------------------
// Read loop
// ---------------------------------------------------------------------------

func (l *Listener) loop() {
	buf := make([]byte, protocol.MaxPacketSize+1)
	for {
		n, src, err := l.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-l.done:
				return // normal shutdown
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			util.LogWarning("listener read error: %v", err)
			continue
		}

		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			util.LogDebug("dropping datagram from %s: %v", src, err)
			l.stats.AddDrop("format")
			continue
		}
		l.stats.AddRecv(pkt.Kind.String(), n)

		// Behind a router the source is the router itself and Peer already
		// names the origin.
		peer := protocol.NormalizePeer(src)
		if l.router.IsValid() {
			peer = protocol.NormalizePeer(pkt.Peer)
		}
		l.dispatch(peer, pkt.WithPeer(peer))
	}
}

func (l *Listener) dispatch(peer netip.AddrPort, pkt protocol.Packet) {
	if pkt.Kind == protocol.KindSYN {
		if _, live := l.dispatcher.Route(peer); !live && l.dispatcher.Tombstoned(peer) {
			util.LogDebug("ignoring stale SYN from finished peer %s", peer)
			l.stats.AddDrop("stale_syn")
			return
		}

		inbox, exists := l.dispatcher.GetOrCreate(peer)
		if !exists {
			inbox <- pkt
			select {
			case l.backlog <- pending{peer: peer, inbox: inbox}:
			default:
				// every worker is busy; the client will retry its SYN
				l.dispatcher.Unregister(peer)
				util.LogWarning("accept backlog full, dropping SYN from %s", peer)
				l.stats.AddDrop("backlog_full")
			}
			return
		}
	}

	switch l.dispatcher.Deliver(peer, pkt) {
	case NoRoute:
		util.LogDebug("no session for %s, dropping %s", peer, pkt.Kind)
		l.stats.AddDrop("no_session")
	case InboxFull:
		util.LogWarning("inbox full for %s, dropping %s", peer, pkt.Kind)
		l.stats.AddDrop("inbox_full")
	}
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// Session is a server-side arq.Session bound to its peer's inbox and a
// private outbound socket. It is owned by one worker goroutine.
type Session struct {
	*arq.Session
	Peer netip.AddrPort
	Log  util.SessionLog

	conn       *net.UDPConn
	dispatcher *Dispatcher
	closeOnce  sync.Once
}

// Close releases the private socket and the route exactly once, and
// tombstones the peer.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Session.Close()
		s.conn.Close()
		s.dispatcher.Retire(s.Peer)
		s.Log.Debug("session cleanup complete")
	})
}
