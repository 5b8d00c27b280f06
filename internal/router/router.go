// Package router implements a datagram router that relays protocol packets
// between endpoints and can simulate an unreliable network on the way.
//
// Every datagram names its final destination in Packet.Peer. The router
// rewrites Peer to the datagram's origin before forwarding, so the receiver
// learns whom to answer.
package router

import (
	"context"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/1ureka/httpnio/internal/protocol"
	"github.com/1ureka/httpnio/internal/util"
)

const forwardQueueSize = 1024 // outgoing datagram channel capacity

// Options shape the simulated network. The zero value forwards everything
// immediately.
type Options struct {
	DropRate float64       // probability in [0, 1] that a datagram is discarded
	MaxDelay time.Duration // each datagram is held for a random time in [0, MaxDelay)
	Rate     float64       // datagrams per second, 0 for unlimited
	Seed     uint64        // 0 picks a random seed
}

// Validate rejects options outside their ranges.
func (o Options) Validate() error {
	switch {
	case o.DropRate < 0 || o.DropRate > 1:
		return errors.Errorf("drop rate must be in [0, 1], got %v", o.DropRate)
	case o.MaxDelay < 0:
		return errors.Errorf("max delay cannot be negative, got %s", o.MaxDelay)
	case o.Rate < 0:
		return errors.Errorf("rate cannot be negative, got %v", o.Rate)
	}
	return nil
}

type datagram struct {
	data []byte
	dest netip.AddrPort
}

// Router owns one UDP socket. A read loop applies the network simulation and
// a single writer goroutine serializes all forwarding.
type Router struct {
	conn    *net.UDPConn
	addr    netip.AddrPort
	opts    Options
	limiter *rate.Limiter
	stats   *util.Stats

	mu  sync.Mutex // guards rng
	rng *rand.Rand

	queue     chan datagram
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen binds addr ("host:port") and starts relaying until ctx is
// cancelled or Close is called.
func Listen(ctx context.Context, addr string, opts Options, stats *util.Stats) (*Router, error) {
	if err := opts.Validate(); err != nil {
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

	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	r := &Router{
		conn:  conn,
		addr:  protocol.NormalizePeer(conn.LocalAddr().(*net.UDPAddr).AddrPort()),
		opts:  opts,
		stats: stats,
		rng:   rand.New(rand.NewPCG(seed, seed)),
		queue: make(chan datagram, forwardQueueSize),
		done:  make(chan struct{}),
	}
	if opts.Rate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.Rate), max(1, int(opts.Rate)))
	}

	r.wg.Add(2)
	go r.readLoop()
	go r.writeLoop()

	go func() {
		select {
		case <-ctx.Done():
			r.Close()
		case <-r.done:
		}
	}()

	util.LogInfo("router listening on %s (drop=%.2f delay<%s rate=%v seed=%d)",
		r.addr, opts.DropRate, opts.MaxDelay, opts.Rate, seed)
	return r, nil
}

// Addr is the bound router endpoint.
func (r *Router) Addr() netip.AddrPort { return r.addr }

// Close stops both loops and waits for them. Datagrams still being delayed
// are discarded.
func (r *Router) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.conn.Close()
		r.wg.Wait()
	})
	return err
}

// Done is closed once the router stops.
func (r *Router) Done() <-chan struct{} { return r.done }

func (r *Router) readLoop() {
	defer r.wg.Done()

	buf := make([]byte, protocol.MaxPacketSize+1)
	for {
		n, src, err := r.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			util.LogWarning("router read error: %v", err)
			continue
		}

		pkt, err := protocol.Decode(buf[:n])
		if err != nil {
			util.LogDebug("router dropping datagram from %s: %v", src, err)
			r.stats.AddDrop("format")
			continue
		}
		r.stats.AddRecv(pkt.Kind.String(), n)

		dest := protocol.NormalizePeer(pkt.Peer)
		if !dest.IsValid() || dest.Addr().IsUnspecified() || dest.Port() == 0 {
			util.LogDebug("router dropping %s from %s: no destination", pkt.Kind, src)
			r.stats.AddDrop("no_destination")
			continue
		}

		data, err := protocol.Encode(pkt.WithPeer(protocol.NormalizePeer(src)))
		if err != nil {
			util.LogDebug("router cannot re-encode %s from %s: %v", pkt.Kind, src, err)
			r.stats.AddDrop("format")
			continue
		}

		r.route(datagram{data: data, dest: dest}, pkt)
	}
}

// route applies rate limiting, loss and delay to one datagram.
func (r *Router) route(d datagram, pkt protocol.Packet) {
	if r.limiter != nil && !r.limiter.Allow() {
		r.stats.AddDrop("rate_limited")
		return
	}

	r.mu.Lock()
	lost := r.opts.DropRate > 0 && r.rng.Float64() < r.opts.DropRate
	var delay time.Duration
	if r.opts.MaxDelay > 0 {
		delay = time.Duration(r.rng.Int64N(int64(r.opts.MaxDelay)))
	}
	r.mu.Unlock()

	if lost {
		util.LogDebug("router lost %s seq=%d for %s", pkt.Kind, pkt.Seq, d.dest)
		r.stats.AddDrop("simulated_loss")
		return
	}
	if delay == 0 {
		r.enqueue(d)
		return
	}
	time.AfterFunc(delay, func() { r.enqueue(d) })
}

func (r *Router) enqueue(d datagram) {
	select {
	case r.queue <- d:
	case <-r.done:
	default:
		r.stats.AddDrop("router_queue_full")
	}
}

// writeLoop is the single-writer goroutine.
func (r *Router) writeLoop() {
	defer r.wg.Done()

	for {
		select {
		case d := <-r.queue:
			if _, err := r.conn.WriteToUDPAddrPort(d.data, d.dest); err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				util.LogWarning("router failed to forward to %s: %v", d.dest, err)
				continue
			}
			r.stats.AddSent("forward", len(d.data))
		case <-r.done:
			return
		}
	}
}
