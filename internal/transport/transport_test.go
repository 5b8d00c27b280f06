package transport_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/httpmsg"
	"github.com/1ureka/httpnio/internal/router"
	"github.com/1ureka/httpnio/internal/transport"
)

func testConfig(kind config.TransportKind) config.Config {
	cfg := config.Default()
	cfg.Transport = kind
	cfg.PacketTimeout = 50 * time.Millisecond
	cfg.TombstoneTTL = time.Second
	cfg.RequestTimeout = 20 * time.Second
	return cfg
}

// echo answers with the method, path and body it received.
var echo = transport.HandlerFunc(func(req *httpmsg.Request) *httpmsg.Response {
	body := fmt.Sprintf("%s %s\n%s", req.Method, req.Path, req.Body)
	resp := httpmsg.NewResponse(200, []byte(body))
	resp.Header.Set("Content-Type", "text/plain")
	return resp
})

func startServer(t *testing.T, cfg config.Config, h transport.Handler) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	ln, err := transport.Listen(ctx, cfg, "127.0.0.1:0", nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- transport.Serve(ctx, ln, h, cfg.Workers) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return ln.Addr()
}

var allKinds = []config.TransportKind{
	config.TransportStream,
	config.TransportReliable,
	config.TransportWebSocket,
}

func TestRoundTrip(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			cfg := testConfig(kind)
			addr := startServer(t, cfg, echo)

			resp, err := transport.Do(context.Background(), cfg, addr,
				httpmsg.NewRequest(httpmsg.MethodGet, addr, "/hello?x=1", nil))
			require.NoError(t, err)
			require.Equal(t, 200, resp.StatusCode)
			require.Equal(t, "GET /hello?x=1\n", string(resp.Body))

			body := bytes.Repeat([]byte("0123456789"), 1000) // many fragments
			resp, err = transport.Do(context.Background(), cfg, addr,
				httpmsg.NewRequest(httpmsg.MethodPost, addr, "/upload", body))
			require.NoError(t, err)
			require.Equal(t, "POST /upload\n"+string(body), string(resp.Body))
		})
	}
}

func TestConcurrentClients(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			cfg := testConfig(kind)
			addr := startServer(t, cfg, echo)

			var g errgroup.Group
			for i := range 4 {
				g.Go(func() error {
					path := fmt.Sprintf("/client/%d", i)
					body := bytes.Repeat([]byte{byte('a' + i)}, 3000)
					resp, err := transport.Do(context.Background(), cfg, addr,
						httpmsg.NewRequest(httpmsg.MethodPost, addr, path, body))
					if err != nil {
						return err
					}
					if want := "POST " + path + "\n" + string(body); string(resp.Body) != want {
						return fmt.Errorf("client %d got a foreign response", i)
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
		})
	}
}

func TestReliableThroughRouter(t *testing.T) {
	r, err := router.Listen(context.Background(), "127.0.0.1:0",
		router.Options{DropRate: 0.05, MaxDelay: 2 * time.Millisecond, Seed: 7}, nil)
	require.NoError(t, err)
	defer r.Close()

	cfg := testConfig(config.TransportReliable)
	cfg.RouterAddr = r.Addr().String()
	cfg.MaxRetries = 50
	cfg.DrainRounds = 10
	addr := startServer(t, cfg, echo)

	body := strings.Repeat("lossy ", 2000)
	resp, err := transport.Do(context.Background(), cfg, addr,
		httpmsg.NewRequest(httpmsg.MethodPost, addr, "/via-router", []byte(body)))
	require.NoError(t, err)
	require.Equal(t, "POST /via-router\n"+body, string(resp.Body))
}

func TestStreamRequestTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		// accept and never answer
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	cfg := testConfig(config.TransportStream)
	cfg.RequestTimeout = 200 * time.Millisecond
	addr := ln.Addr().String()

	_, err = transport.Do(context.Background(), cfg, addr, httpmsg.NewRequest(httpmsg.MethodGet, addr, "/", nil))
	require.ErrorIs(t, err, transport.ErrRequestTimeout)
}

func TestReliableRequestTimeout(t *testing.T) {
	// nobody answers on this port
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	cfg := testConfig(config.TransportReliable)
	cfg.RequestTimeout = 200 * time.Millisecond
	addr := conn.LocalAddr().String()

	_, err = transport.Do(context.Background(), cfg, addr, httpmsg.NewRequest(httpmsg.MethodGet, addr, "/", nil))
	require.ErrorIs(t, err, transport.ErrRequestTimeout)
}

func TestStreamBadRequest(t *testing.T) {
	cfg := testConfig(config.TransportStream)
	addr := startServer(t, cfg, echo)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, "BREW /pot HTTP/1.0\r\nHost: x\r\n\r\n")
	require.NoError(t, err)

	raw, err := httpmsg.ReadMessage(bufio.NewReader(conn), true)
	require.NoError(t, err)
	resp, err := httpmsg.ParseResponse(raw)
	require.NoError(t, err)
	require.Equal(t, 400, resp.StatusCode)
}

func TestServeStopsOnCancel(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			ln, err := transport.Listen(ctx, testConfig(kind), "127.0.0.1:0", nil)
			require.NoError(t, err)

			done := make(chan error, 1)
			go func() { done <- transport.Serve(ctx, ln, echo, 2) }()

			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("Serve did not return after cancel")
			}
		})
	}
}

func TestUnknownTransport(t *testing.T) {
	cfg := testConfig("carrier-pigeon")
	_, err := transport.Dial(context.Background(), cfg, "127.0.0.1:1")
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = transport.Listen(context.Background(), cfg, "127.0.0.1:0", nil)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}
