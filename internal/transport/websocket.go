package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/httpmsg"
	"github.com/1ureka/httpnio/internal/util"
)

// ---------------------------------------------------------------------------
// WebSocket transport: one binary message per request and per response
// ---------------------------------------------------------------------------

const wsPath = "/ws"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn applies ctx to gorilla's deadline-based API.
type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) bind(ctx context.Context) func() bool {
	if d, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(d)
		c.conn.SetWriteDeadline(d)
	}
	return context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
		c.conn.SetWriteDeadline(time.Now())
	})
}

func (c wsConn) write(ctx context.Context, data []byte) error {
	defer c.bind(ctx)()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c wsConn) read(ctx context.Context) ([]byte, error) {
	defer c.bind(ctx)()
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c wsConn) close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

type wsClient struct {
	wsConn
}

func dialWebSocket(ctx context.Context, addr string) (ClientConn, error) {
	url := "ws://" + addr + wsPath
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", url)
	}
	return &wsClient{wsConn{conn}}, nil
}

func (c *wsClient) SendRequest(ctx context.Context, req *httpmsg.Request) error {
	return c.write(ctx, req.Marshal())
}

func (c *wsClient) ReceiveResponse(ctx context.Context) (*httpmsg.Response, error) {
	data, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	return httpmsg.ParseResponse(data)
}

func (c *wsClient) Close() error { return c.close() }

// wsListener serves the upgrade route on a chi mux and queues upgraded
// connections for Accept.
type wsListener struct {
	ln      net.Listener
	srv     *http.Server
	connCh  chan *websocket.Conn
	timeout time.Duration
	stats   *util.Stats

	done      chan struct{}
	closeOnce sync.Once
}

func listenWebSocket(ctx context.Context, cfg config.Config, addr string, stats *util.Stats) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}

	l := &wsListener{
		ln:      ln,
		connCh:  make(chan *websocket.Conn),
		timeout: cfg.RequestTimeout,
		stats:   stats,
		done:    make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(wsPath, l.handleWS)
	l.srv = &http.Server{Handler: r, ReadHeaderTimeout: cfg.RequestTimeout}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("websocket server stopped: %v", err)
		}
	}()

	return l, nil
}

// handleWS upgrades and waits for a worker to take the connection.
func (l *wsListener) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	select {
	case l.connCh <- conn:
	case <-l.done:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
	}
}

func (l *wsListener) Accept(ctx context.Context) (ServerConn, error) {
	select {
	case conn := <-l.connCh:
		l.stats.AddSession()
		return &wsServerConn{wsConn: wsConn{conn}, until: time.Now().Add(l.timeout), stats: l.stats}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Addr() string { return l.ln.Addr().String() }

func (l *wsListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

type wsServerConn struct {
	wsConn
	until time.Time
	stats *util.Stats
	err   error
}

func (c *wsServerConn) ReceiveRequest(ctx context.Context) (*httpmsg.Request, error) {
	c.conn.SetReadDeadline(c.until)
	data, err := c.read(ctx)
	if err != nil {
		c.err = err
		return nil, err
	}
	req, err := httpmsg.ParseRequest(data)
	c.err = err
	return req, err
}

func (c *wsServerConn) SendResponse(ctx context.Context, resp *httpmsg.Response) error {
	err := c.write(ctx, resp.Marshal())
	if err != nil {
		c.err = err
	}
	return err
}

func (c *wsServerConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *wsServerConn) Close() error {
	c.stats.RemoveSession(outcome(c.err))
	return c.close()
}
