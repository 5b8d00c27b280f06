package router_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/httpnio/internal/arq"
	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/demux"
	"github.com/1ureka/httpnio/internal/protocol"
	"github.com/1ureka/httpnio/internal/router"
)

func startRouter(t *testing.T, opts router.Options) *router.Router {
	t.Helper()
	r, err := router.Listen(context.Background(), "127.0.0.1:0", opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func endpoint(t *testing.T) (*net.UDPConn, netip.AddrPort) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, protocol.NormalizePeer(conn.LocalAddr().(*net.UDPAddr).AddrPort())
}

func sendVia(t *testing.T, conn *net.UDPConn, r *router.Router, pkt protocol.Packet) {
	t.Helper()
	data, err := protocol.Encode(pkt)
	require.NoError(t, err)
	_, err = conn.WriteToUDPAddrPort(data, r.Addr())
	require.NoError(t, err)
}

func recv(conn *net.UDPConn, wait time.Duration) (protocol.Packet, bool) {
	buf := make([]byte, protocol.MaxPacketSize)
	conn.SetReadDeadline(time.Now().Add(wait))
	n, _, err := conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return protocol.Packet{}, false
	}
	pkt, err := protocol.Decode(buf[:n])
	if err != nil {
		return protocol.Packet{}, false
	}
	return pkt, true
}

func TestForwardRewritesPeer(t *testing.T) {
	r := startRouter(t, router.Options{})
	a, aAddr := endpoint(t)
	b, bAddr := endpoint(t)

	sendVia(t, a, r, protocol.Packet{Kind: protocol.KindReady, Seq: 7, Peer: bAddr, Payload: []byte("hi")})

	got, ok := recv(b, 2*time.Second)
	require.True(t, ok)
	require.Equal(t, protocol.KindReady, got.Kind)
	require.Equal(t, uint32(7), got.Seq)
	require.Equal(t, aAddr, got.Peer)
	require.Equal(t, "hi", string(got.Payload))

	// and back again
	sendVia(t, b, r, got.WithKind(protocol.KindAckData).WithPayload(nil))
	back, ok := recv(a, 2*time.Second)
	require.True(t, ok)
	require.Equal(t, protocol.KindAckData, back.Kind)
	require.Equal(t, bAddr, back.Peer)
}

func TestDropEverything(t *testing.T) {
	r := startRouter(t, router.Options{DropRate: 1})
	a, _ := endpoint(t)
	b, bAddr := endpoint(t)

	for i := range 10 {
		sendVia(t, a, r, protocol.Packet{Kind: protocol.KindReady, Seq: uint32(i), Peer: bAddr})
	}
	_, ok := recv(b, 200*time.Millisecond)
	require.False(t, ok)
}

func TestDropsMalformedAndUnaddressed(t *testing.T) {
	r := startRouter(t, router.Options{})
	a, _ := endpoint(t)
	b, bAddr := endpoint(t)

	_, err := a.WriteToUDPAddrPort([]byte("short"), r.Addr())
	require.NoError(t, err)
	sendVia(t, a, r, protocol.Packet{Kind: protocol.KindSYN})

	sendVia(t, a, r, protocol.Packet{Kind: protocol.KindSYN, Peer: bAddr})
	got, ok := recv(b, 2*time.Second)
	require.True(t, ok)
	require.Equal(t, protocol.KindSYN, got.Kind)
}

func TestDelayPreservesDelivery(t *testing.T) {
	r := startRouter(t, router.Options{MaxDelay: 30 * time.Millisecond, Seed: 1})
	a, _ := endpoint(t)
	b, bAddr := endpoint(t)

	for i := range 5 {
		sendVia(t, a, r, protocol.Packet{Kind: protocol.KindReady, Seq: uint32(i), Peer: bAddr})
	}
	seen := map[uint32]bool{}
	for range 5 {
		pkt, ok := recv(b, 2*time.Second)
		require.True(t, ok)
		seen[pkt.Seq] = true
	}
	require.Len(t, seen, 5)
}

func TestRateLimit(t *testing.T) {
	r := startRouter(t, router.Options{Rate: 1})
	a, _ := endpoint(t)
	b, bAddr := endpoint(t)

	for i := range 5 {
		sendVia(t, a, r, protocol.Packet{Kind: protocol.KindReady, Seq: uint32(i), Peer: bAddr})
	}
	_, ok := recv(b, time.Second)
	require.True(t, ok)
	_, ok = recv(b, 100*time.Millisecond)
	require.False(t, ok)
}

func TestInvalidOptions(t *testing.T) {
	for _, opts := range []router.Options{{DropRate: 1.5}, {MaxDelay: -1}, {Rate: -1}} {
		_, err := router.Listen(context.Background(), "127.0.0.1:0", opts, nil)
		require.Error(t, err)
	}
}

// A whole session exchange survives a lossy, reordering router.
func TestSessionThroughLossyRouter(t *testing.T) {
	r := startRouter(t, router.Options{DropRate: 0.1, MaxDelay: 5 * time.Millisecond, Seed: 42})

	cfg := config.Default()
	cfg.PacketTimeout = 50 * time.Millisecond
	cfg.MaxRetries = 50
	cfg.DrainRounds = 10
	cfg.RouterAddr = r.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	l, err := demux.Listen(ctx, "127.0.0.1:0", cfg, nil)
	require.NoError(t, err)
	defer l.Close()

	request := bytes.Repeat([]byte("request-"), 600)
	response := bytes.Repeat([]byte("RESPONSE"), 700)
	wantLen := func(n int) func([]byte) error {
		return func(b []byte) error {
			if len(b) != n {
				return errors.New("partial")
			}
			return nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := l.Accept(gctx)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Handshake(gctx); err != nil {
			return err
		}
		got, err := s.Receive(gctx, wantLen(len(request)))
		if err != nil {
			return err
		}
		if !bytes.Equal(got, request) {
			return errors.New("request corrupted")
		}
		// the client may finish before our last acknowledgements arrive
		if err := s.Send(gctx, response); err != nil {
			t.Logf("server send: %v", err)
		}
		return nil
	})

	var got []byte
	g.Go(func() error {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		if err != nil {
			return err
		}
		defer conn.Close()

		link := arq.NewConnLink(conn, l.Addr(), r.Addr(), nil)
		s := arq.NewSession(arq.RoleClient, link, cfg.Protocol, 0, nil)
		if err := s.Handshake(gctx); err != nil {
			return err
		}
		if err := s.Send(gctx, request); err != nil {
			return err
		}
		got, err = s.Receive(gctx, wantLen(len(response)))
		return err
	})

	require.NoError(t, g.Wait())
	require.Equal(t, response, got)
}
