package arq

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/protocol"
	"github.com/1ureka/httpnio/internal/util"
)

// slotsPerWindow sizes the initial receive buffer; it grows on demand.
const slotsPerWindow = 100

// Receiver buffers one fragmented message, acknowledging each fragment it
// accepts into the window [Base, Base+WindowSize).
type Receiver struct {
	role Role
	link Link
	cfg  config.Protocol
	log  util.SessionLog

	slots    []*protocol.Packet
	base     int
	received int
}

// NewReceiver returns a Receiver that acknowledges fragments through link.
func NewReceiver(role Role, link Link, cfg config.Protocol, log util.SessionLog) *Receiver {
	return &Receiver{role: role, link: link, cfg: cfg, log: log}
}

// Base is the index of the first fragment not yet received.
func (r *Receiver) Base() int { return r.base }

// Receive returns a message once the link goes idle and the buffered bytes
// pass accept. A nil accept takes whatever was buffered, gaps included. A
// client keeps acknowledging straggler fragments for DrainRounds idle
// timeouts before returning.
func (r *Receiver) Receive(ctx context.Context, accept func([]byte) error) ([]byte, error) {
	r.slots = make([]*protocol.Packet, r.cfg.WindowSize*slotsPerWindow)
	r.base = 0
	r.received = 0

	retries := r.cfg.MaxRetries
	lastEvent := time.Now()

	for retries > 0 {
		pkt, ok, err := r.link.Read(ctx, r.cfg.PacketTimeout)
		if err != nil {
			return nil, err
		}
		if ok {
			if r.handle(pkt) {
				retries = r.cfg.MaxRetries
				lastEvent = time.Now()
				continue
			}
			if time.Since(lastEvent) < r.cfg.PacketTimeout {
				continue
			}
		}

		retries--
		lastEvent = time.Now()
		if msg, ok := r.materialize(accept); ok {
			if r.role == RoleClient {
				r.drain(ctx)
			}
			return msg, nil
		}
	}
	return nil, errors.Wrapf(ErrTransferIncomplete, "%d fragments buffered, base %d", r.received, r.base)
}

// handle applies one inbound packet and reports whether it was a new
// fragment.
func (r *Receiver) handle(pkt protocol.Packet) bool {
	switch pkt.Kind {
	case protocol.KindReady:
	case protocol.KindSYN:
		if r.role == RoleServer {
			// the client is still retrying its handshake
			r.write(protocol.Packet{Kind: protocol.KindSYNACK, Seq: pkt.Seq + 1})
		}
		return false
	default:
		// Control packets share the data sequence space; acknowledging
		// them would confirm fragments we never received.
		r.log.Debug("ignoring %s while receiving", pkt)
		return false
	}

	i := int(pkt.Seq)
	w := r.cfg.WindowSize
	switch {
	case i >= r.base && i < r.base+w:
		r.ack(pkt)
		fresh := r.store(i, pkt)
		r.slide()
		return fresh
	case i >= r.base-w && i < r.base:
		// our earlier acknowledgement was lost
		r.ack(pkt)
		return false
	default:
		r.log.Debug("fragment #%d outside window [%d, %d)", pkt.Seq, r.base, r.base+w)
		return false
	}
}

func (r *Receiver) store(i int, pkt protocol.Packet) bool {
	for i >= len(r.slots) {
		r.slots = append(r.slots, make([]*protocol.Packet, len(r.slots)+1)...)
	}

	pkt = pkt.WithKind(protocol.KindReady)
	if prev := r.slots[i]; prev != nil {
		r.log.Debug("fragment #%d received again, replacing buffered copy", pkt.Seq)
		r.slots[i] = &pkt
		return false
	}
	r.slots[i] = &pkt
	r.received++
	return true
}

// slide advances base past every leading buffered fragment.
func (r *Receiver) slide() {
	for r.base < len(r.slots) && r.slots[r.base] != nil {
		r.base++
	}
}

func (r *Receiver) materialize(accept func([]byte) error) ([]byte, bool) {
	if r.received == 0 {
		return nil, false
	}
	msg := protocol.Reassemble(r.slots)
	if accept != nil {
		if err := accept(msg); err != nil {
			r.log.Debug("buffered %d bytes not usable yet: %v", len(msg), err)
			return nil, false
		}
	}
	return msg, true
}

// drain acknowledges fragments the peer is still retransmitting because our
// acknowledgements were lost.
func (r *Receiver) drain(ctx context.Context) {
	for idle := 0; idle < r.cfg.DrainRounds; {
		pkt, ok, err := r.link.Read(ctx, r.cfg.PacketTimeout)
		if err != nil {
			return
		}
		if !ok {
			idle++
			continue
		}
		if pkt.Kind == protocol.KindReady {
			r.ack(pkt)
		}
	}
}

func (r *Receiver) ack(pkt protocol.Packet) {
	r.write(protocol.Packet{Kind: protocol.KindAckData, Seq: pkt.Seq})
}

func (r *Receiver) write(pkt protocol.Packet) {
	if err := r.link.Write(pkt); err != nil {
		r.log.Warning("reply %s failed: %v", pkt.Kind, err)
	}
}
