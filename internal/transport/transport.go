// Package transport carries one HTTP request and its response over the
// configured wire: a stream socket, the reliable datagram protocol, or a
// websocket message stream.
//
// The kind is chosen once, at Dial or Listen time. Everything above this
// package works with ClientConn, ServerConn and Listener only.
package transport

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/httpmsg"
	"github.com/1ureka/httpnio/internal/util"
)

// ErrRequestTimeout is returned by Do when the whole exchange outlives
// Config.RequestTimeout.
var ErrRequestTimeout = errors.New("request timed out")

// ClientConn sends one request and receives its response.
type ClientConn interface {
	SendRequest(ctx context.Context, req *httpmsg.Request) error
	ReceiveResponse(ctx context.Context) (*httpmsg.Response, error)
	Close() error
}

// ServerConn is the server end of one exchange.
type ServerConn interface {
	ReceiveRequest(ctx context.Context) (*httpmsg.Request, error)
	SendResponse(ctx context.Context, resp *httpmsg.Response) error
	RemoteAddr() string
	Close() error
}

// Listener produces a ServerConn per client exchange.
type Listener interface {
	Accept(ctx context.Context) (ServerConn, error)
	Addr() string
	Close() error
}

// Handler turns a request into a response. It is called from several
// worker goroutines at once.
type Handler interface {
	Respond(req *httpmsg.Request) *httpmsg.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *httpmsg.Request) *httpmsg.Response

func (f HandlerFunc) Respond(req *httpmsg.Request) *httpmsg.Response { return f(req) }

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Dial opens a client connection of cfg.Transport kind to addr ("host:port").
func Dial(ctx context.Context, cfg config.Config, addr string) (ClientConn, error) {
	switch cfg.Transport {
	case config.TransportStream:
		return dialStream(ctx, addr)
	case config.TransportReliable:
		return dialReliable(ctx, cfg, addr)
	case config.TransportWebSocket:
		return dialWebSocket(ctx, addr)
	default:
		return nil, errors.Wrapf(config.ErrInvalidConfig, "unknown transport %q", cfg.Transport)
	}
}

// Do performs one complete exchange within cfg.RequestTimeout.
func Do(ctx context.Context, cfg config.Config, addr string, req *httpmsg.Request) (*httpmsg.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	resp, err := do(ctx, cfg, addr, req)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, errors.Wrapf(ErrRequestTimeout, "%s %s via %s after %s", req.Method, addr, cfg.Transport, cfg.RequestTimeout)
	}
	return resp, err
}

func do(ctx context.Context, cfg config.Config, addr string, req *httpmsg.Request) (*httpmsg.Response, error) {
	conn, err := Dial(ctx, cfg, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SendRequest(ctx, req); err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	resp, err := conn.ReceiveResponse(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "receive response")
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Listen binds addr with the cfg.Transport kind.
func Listen(ctx context.Context, cfg config.Config, addr string, stats *util.Stats) (Listener, error) {
	switch cfg.Transport {
	case config.TransportStream:
		return listenStream(ctx, cfg, addr, stats)
	case config.TransportReliable:
		return listenReliable(ctx, cfg, addr, stats)
	case config.TransportWebSocket:
		return listenWebSocket(ctx, cfg, addr, stats)
	default:
		return nil, errors.Wrapf(config.ErrInvalidConfig, "unknown transport %q", cfg.Transport)
	}
}

// Serve accepts exchanges from ln and answers each with h on at most
// workers concurrent goroutines. It returns nil once ctx is cancelled or ln
// is closed, after every running worker finished.
func Serve(ctx context.Context, ln Listener, h Handler, workers int) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	sem := semaphore.NewWeighted(int64(workers))
	// wait for running workers on the way out
	defer func() { _ = sem.Acquire(context.Background(), int64(workers)) }()

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		conn, err := ln.Accept(ctx)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			util.LogWarning("accept failed: %v", err)
			continue
		}

		go func() {
			defer sem.Release(1)
			serveConn(ctx, conn, h)
		}()
	}
}

// serveConn runs one exchange. Requests the transport could not validate
// get a 400 where the transport is able to deliver one.
func serveConn(ctx context.Context, conn ServerConn, h Handler) {
	defer conn.Close()

	var resp *httpmsg.Response
	req, err := conn.ReceiveRequest(ctx)
	var verr *httpmsg.ValidationError
	switch {
	case errors.As(err, &verr):
		util.LogWarning("bad request from %s: %v", conn.RemoteAddr(), err)
		resp = httpmsg.NewResponse(400, []byte("BAD REQUEST"))
		resp.Header.Set("Content-Type", "text/plain")
	case err != nil:
		util.LogWarning("receive from %s failed: %v", conn.RemoteAddr(), err)
		return
	default:
		resp = h.Respond(req)
		util.LogInfo("%s %s from %s -> %d", req.Method, req.Path, conn.RemoteAddr(), resp.StatusCode)
	}

	if err := conn.SendResponse(ctx, resp); err != nil {
		util.LogWarning("send to %s failed: %v", conn.RemoteAddr(), err)
	}
}
