// Package demux multiplexes many reliable-transport sessions over one UDP
// socket, routing every inbound packet to the inbox of its peer's session.
package demux

import (
	"net/netip"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/1ureka/httpnio/internal/protocol"
)

// DeliverResult reports what happened to a routed packet.
type DeliverResult int

const (
	Delivered DeliverResult = iota
	NoRoute
	InboxFull
)

// Dispatcher maintains the peer → inbox-channel route table. The listener
// goroutine is its only writer to the channels.
type Dispatcher struct {
	mu         sync.Mutex
	routeTable map[netip.AddrPort]chan protocol.Packet
	inboxSize  int

	// retired peers, so a late duplicate SYN does not open a second session
	tombstones *cache.Cache
	ttl        time.Duration
}

// NewDispatcher creates an empty dispatcher. A non-positive ttl disables
// tombstones.
func NewDispatcher(inboxSize int, ttl time.Duration) *Dispatcher {
	d := &Dispatcher{
		routeTable: make(map[netip.AddrPort]chan protocol.Packet),
		inboxSize:  inboxSize,
		ttl:        ttl,
	}
	if ttl > 0 {
		d.tombstones = cache.New(ttl, 2*ttl)
	}
	return d
}

// GetOrCreate returns the existing inbox for a peer, or creates a new one.
// The boolean return value is true if the inbox already existed.
func (d *Dispatcher) GetOrCreate(peer netip.AddrPort) (chan protocol.Packet, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, exists := d.routeTable[peer]
	if !exists {
		ch = make(chan protocol.Packet, d.inboxSize)
		d.routeTable[peer] = ch
	}
	return ch, exists
}

// Route looks up the inbox for a peer.
func (d *Dispatcher) Route(peer netip.AddrPort) (chan protocol.Packet, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.routeTable[peer]
	return ch, ok
}

// Deliver enqueues pkt for peer without blocking; a full inbox drops it and
// the sender's retransmission recovers.
func (d *Dispatcher) Deliver(peer netip.AddrPort, pkt protocol.Packet) DeliverResult {
	ch, ok := d.Route(peer)
	if !ok {
		return NoRoute
	}
	select {
	case ch <- pkt:
		return Delivered
	default:
		return InboxFull
	}
}

// Unregister removes the peer from the route table.
// The channel is NOT closed; the session goroutine stops reading on its own.
func (d *Dispatcher) Unregister(peer netip.AddrPort) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.routeTable, peer)
}

// Retire unregisters the peer and tombstones it.
func (d *Dispatcher) Retire(peer netip.AddrPort) {
	d.Unregister(peer)
	if d.tombstones != nil {
		d.tombstones.SetDefault(peer.String(), struct{}{})
	}
}

// Tombstoned reports whether the peer's session finished within the ttl.
func (d *Dispatcher) Tombstoned(peer netip.AddrPort) bool {
	if d.tombstones == nil {
		return false
	}
	_, found := d.tombstones.Get(peer.String())
	return found
}

// Len returns the number of live sessions.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.routeTable)
}
