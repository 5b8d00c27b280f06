package transport

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/httpmsg"
	"github.com/1ureka/httpnio/internal/util"
)

// ---------------------------------------------------------------------------
// Stream transport: one request per TCP connection, HTTP/1.0 style
// ---------------------------------------------------------------------------

// bindDeadline applies ctx's deadline to conn and interrupts blocked I/O when
// ctx is cancelled. The returned func detaches the cancellation hook.
func bindDeadline(ctx context.Context, conn net.Conn) func() bool {
	if d, ok := ctx.Deadline(); ok {
		conn.SetDeadline(d)
	}
	return context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
}

type streamClient struct {
	conn net.Conn
	br   *bufio.Reader
}

func dialStream(ctx context.Context, addr string) (ClientConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &streamClient{conn: conn, br: bufio.NewReader(conn)}, nil
}

func (c *streamClient) SendRequest(ctx context.Context, req *httpmsg.Request) error {
	defer bindDeadline(ctx, c.conn)()
	_, err := c.conn.Write(req.Marshal())
	return err
}

// ReceiveResponse reads until Content-Length, or to EOF when the server sent
// none.
func (c *streamClient) ReceiveResponse(ctx context.Context) (*httpmsg.Response, error) {
	defer bindDeadline(ctx, c.conn)()
	raw, err := httpmsg.ReadMessage(c.br, true)
	if err != nil {
		return nil, err
	}
	return httpmsg.ParseResponse(raw)
}

func (c *streamClient) Close() error {
	return c.conn.Close()
}

type streamListener struct {
	ln      net.Listener
	timeout time.Duration
	stats   *util.Stats
}

func listenStream(ctx context.Context, cfg config.Config, addr string, stats *util.Stats) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return &streamListener{ln: ln, timeout: cfg.RequestTimeout, stats: stats}, nil
}

// Accept blocks in the kernel; Serve closes the listener to interrupt it.
func (l *streamListener) Accept(ctx context.Context) (ServerConn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	l.stats.AddSession()
	return &streamServerConn{
		conn:  conn,
		br:    bufio.NewReader(conn),
		until: time.Now().Add(l.timeout),
		stats: l.stats,
	}, nil
}

func (l *streamListener) Addr() string { return l.ln.Addr().String() }
func (l *streamListener) Close() error { return l.ln.Close() }

type streamServerConn struct {
	conn  net.Conn
	br    *bufio.Reader
	until time.Time
	stats *util.Stats
	err   error
}

func (c *streamServerConn) ReceiveRequest(ctx context.Context) (*httpmsg.Request, error) {
	c.conn.SetDeadline(c.until)
	defer bindDeadline(ctx, c.conn)()

	raw, err := httpmsg.ReadMessage(c.br, false)
	if err != nil {
		c.err = err
		return nil, err
	}
	req, err := httpmsg.ParseRequest(raw)
	c.err = err
	return req, err
}

func (c *streamServerConn) SendResponse(ctx context.Context, resp *httpmsg.Response) error {
	defer bindDeadline(ctx, c.conn)()
	_, err := c.conn.Write(resp.Marshal())
	if err != nil {
		c.err = err
	}
	return err
}

func (c *streamServerConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *streamServerConn) Close() error {
	c.stats.RemoveSession(outcome(c.err))
	return c.conn.Close()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
