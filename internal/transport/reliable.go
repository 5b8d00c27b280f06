package transport

import (
	"context"
	"net"

	"github.com/pkg/errors"

	"github.com/1ureka/httpnio/internal/arq"
	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/demux"
	"github.com/1ureka/httpnio/internal/httpmsg"
	"github.com/1ureka/httpnio/internal/protocol"
	"github.com/1ureka/httpnio/internal/util"
)

// ---------------------------------------------------------------------------
// Reliable transport: Selective-Repeat sessions over UDP
// ---------------------------------------------------------------------------

// A buffered message is only handed up once it parses; until then the
// receiver keeps waiting for missing fragments.
func acceptRequest(b []byte) error {
	_, err := httpmsg.ParseRequest(b)
	return err
}

func acceptResponse(b []byte) error {
	_, err := httpmsg.ParseResponse(b)
	return err
}

// reliableClient owns a fresh UDP socket for a single exchange.
type reliableClient struct {
	conn    *net.UDPConn
	session *arq.Session
}

func dialReliable(ctx context.Context, cfg config.Config, addr string) (ClientConn, error) {
	router, err := cfg.Router()
	if err != nil {
		return nil, err
	}
	serverAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}
	server := protocol.NormalizePeer(serverAddr.AddrPort())

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, errors.Wrap(err, "bind client socket")
	}
	local := protocol.NormalizePeer(conn.LocalAddr().(*net.UDPAddr).AddrPort())

	log := util.SessionLog(util.SessionID(local, server))
	link := arq.NewConnLink(conn, server, router, nil)
	session := arq.NewSession(arq.RoleClient, link, cfg.Protocol, log, nil)

	log.Debug("connecting to %s from %s", server, local)
	if err := session.Handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &reliableClient{conn: conn, session: session}, nil
}

func (c *reliableClient) SendRequest(ctx context.Context, req *httpmsg.Request) error {
	return c.session.Send(ctx, req.Marshal())
}

func (c *reliableClient) ReceiveResponse(ctx context.Context) (*httpmsg.Response, error) {
	raw, err := c.session.Receive(ctx, acceptResponse)
	if err != nil {
		return nil, err
	}
	return httpmsg.ParseResponse(raw)
}

func (c *reliableClient) Close() error {
	c.session.Close()
	return c.conn.Close()
}

type reliableListener struct {
	l     *demux.Listener
	stats *util.Stats
}

func listenReliable(ctx context.Context, cfg config.Config, addr string, stats *util.Stats) (Listener, error) {
	l, err := demux.Listen(ctx, addr, cfg, stats)
	if err != nil {
		return nil, err
	}
	return &reliableListener{l: l, stats: stats}, nil
}

func (l *reliableListener) Accept(ctx context.Context) (ServerConn, error) {
	s, err := l.l.Accept(ctx)
	if err != nil {
		return nil, err
	}
	l.stats.AddSession()
	return &reliableServerConn{s: s, stats: l.stats}, nil
}

func (l *reliableListener) Addr() string { return l.l.Addr().String() }
func (l *reliableListener) Close() error { return l.l.Close() }

type reliableServerConn struct {
	s     *demux.Session
	stats *util.Stats
	err   error
}

// ReceiveRequest completes the handshake first if it has not run yet.
func (c *reliableServerConn) ReceiveRequest(ctx context.Context) (*httpmsg.Request, error) {
	if c.s.State() == arq.StateHandshaking {
		if err := c.s.Handshake(ctx); err != nil {
			c.err = err
			return nil, err
		}
	}
	raw, err := c.s.Receive(ctx, acceptRequest)
	if err != nil {
		c.err = err
		return nil, err
	}
	req, err := httpmsg.ParseRequest(raw)
	c.err = err
	return req, err
}

func (c *reliableServerConn) SendResponse(ctx context.Context, resp *httpmsg.Response) error {
	err := c.s.Send(ctx, resp.Marshal())
	if err != nil {
		c.err = err
	}
	return err
}

func (c *reliableServerConn) RemoteAddr() string { return c.s.Peer.String() }

func (c *reliableServerConn) Close() error {
	c.s.Close()
	c.stats.RemoveSession(outcome(c.err))
	return nil
}
