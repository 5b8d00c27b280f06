package arq

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/protocol"
	"github.com/1ureka/httpnio/internal/util"
)

// Sender delivers one fragmented message with a fixed-size sliding window.
// At most WindowSize fragments starting at Base are ever in flight.
type Sender struct {
	role  Role
	link  Link
	cfg   config.Protocol
	log   util.SessionLog
	stats *util.Stats

	slots []sendSlot
	base  int
}

type sendSlot struct {
	pkt  protocol.Packet // KindReady until acknowledged, then KindConfirmed
	sent bool
}

// NewSender returns a Sender that writes fragments through link.
func NewSender(role Role, link Link, cfg config.Protocol, log util.SessionLog, stats *util.Stats) *Sender {
	return &Sender{role: role, link: link, cfg: cfg, log: log, stats: stats}
}

// Base is the index of the oldest unconfirmed fragment.
func (s *Sender) Base() int { return s.base }

// Send returns nil once every packet is confirmed. A fragment already in
// flight is retransmitted only after a round times out.
func (s *Sender) Send(ctx context.Context, pkts []protocol.Packet) error {
	s.slots = make([]sendSlot, len(pkts))
	for i, p := range pkts {
		s.slots[i].pkt = p.WithKind(protocol.KindReady)
	}
	s.base = 0

	retries := s.cfg.MaxRetries
	resend := false
	lastEvent := time.Now()

	for s.base < len(s.slots) {
		if err := s.transmit(resend); err != nil {
			return err
		}
		resend = false

		pkt, ok, err := s.link.Read(ctx, s.cfg.PacketTimeout)
		if err != nil {
			return err
		}
		if ok {
			if s.handle(pkt) {
				retries = s.cfg.MaxRetries
				lastEvent = time.Now()
				continue
			}
			// unrelated traffic only counts once a whole timeout passed
			if time.Since(lastEvent) < s.cfg.PacketTimeout {
				continue
			}
		}

		retries--
		lastEvent = time.Now()
		if retries <= 0 {
			return errors.Wrapf(ErrTransferIncomplete, "%d of %d fragments unconfirmed", s.unconfirmed(), len(s.slots))
		}
		resend = true
	}
	return nil
}

// transmit writes every READY fragment in the window that has not been sent
// yet, or all of them when resend is set.
func (s *Sender) transmit(resend bool) error {
	end := min(s.base+s.cfg.WindowSize, len(s.slots))
	for i := s.base; i < end; i++ {
		slot := &s.slots[i]
		if slot.pkt.Kind != protocol.KindReady || (slot.sent && !resend) {
			continue
		}
		if slot.sent {
			s.stats.AddRetransmit()
		}
		if err := s.link.Write(slot.pkt); err != nil {
			return err
		}
		slot.sent = true
	}
	return nil
}

// handle applies one inbound packet and reports whether it made progress.
func (s *Sender) handle(pkt protocol.Packet) bool {
	switch pkt.Kind {
	case protocol.KindAckData:
		i := int(pkt.Seq)
		if i < s.base || i >= s.base+s.cfg.WindowSize || i >= len(s.slots) {
			s.log.Debug("ACK_DATA #%d outside window [%d, %d)", pkt.Seq, s.base, s.base+s.cfg.WindowSize)
			return false
		}
		if s.slots[i].pkt.Kind == protocol.KindConfirmed {
			return false
		}
		s.slots[i].pkt = s.slots[i].pkt.WithKind(protocol.KindConfirmed)
		s.slide()
		return true

	case protocol.KindReady:
		// The peer moved on to its own message, so it already has ours.
		s.log.Debug("peer is sending #%d, replying ACK_UNKNOWN", pkt.Seq)
		s.writeQuiet(pkt.WithKind(protocol.KindAckUnknown))
		return false

	case protocol.KindAckUnknown:
		if s.role == RoleClient {
			s.log.Debug("ACK_UNKNOWN from server, treating message as delivered")
			for i := range s.slots {
				s.slots[i].pkt = s.slots[i].pkt.WithKind(protocol.KindConfirmed)
			}
			s.base = len(s.slots)
			return true
		}
		s.writeQuiet(pkt)
		return false

	default:
		s.log.Debug("ignoring %s while sending", pkt)
		return false
	}
}

// slide advances base past every leading confirmed fragment.
func (s *Sender) slide() {
	for s.base < len(s.slots) && s.slots[s.base].pkt.Kind == protocol.KindConfirmed {
		s.base++
	}
}

func (s *Sender) unconfirmed() int {
	n := 0
	for _, slot := range s.slots {
		if slot.pkt.Kind != protocol.KindConfirmed {
			n++
		}
	}
	return n
}

// writeQuiet sends a control reply; a failed reply is recovered by the peer's
// own retransmission.
func (s *Sender) writeQuiet(pkt protocol.Packet) {
	if err := s.link.Write(pkt); err != nil {
		s.log.Warning("reply %s failed: %v", pkt.Kind, err)
	}
}
