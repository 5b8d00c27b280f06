package arq

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/protocol"
	"github.com/1ureka/httpnio/internal/util"
)

var (
	// ErrHandshakeFailure means the client never saw a SYNACK, or the server
	// never saw the SYN that should have opened the session.
	ErrHandshakeFailure = errors.New("handshake failed")

	// ErrTransferIncomplete means the retry budget ran out before every
	// fragment was confirmed, or before a usable message was buffered.
	ErrTransferIncomplete = errors.New("transfer incomplete")

	// ErrNotEstablished is returned by Send and Receive before the handshake
	// has completed.
	ErrNotEstablished = errors.New("session not established")
)

// Role is which end of the exchange a session plays.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// State is the session lifecycle stage.
type State uint8

const (
	StateHandshaking State = iota
	StateTransferring
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "HANDSHAKING"
	case StateTransferring:
		return "TRANSFERRING"
	default:
		return "CLOSED"
	}
}

// Session drives one handshake and any number of message transfers over a
// Link. It is goroutine-local: only the owning goroutine calls its methods.
type Session struct {
	role  Role
	state State
	link  *pushbackLink
	cfg   config.Protocol
	log   util.SessionLog
	stats *util.Stats
}

// NewSession creates a session in StateHandshaking.
func NewSession(role Role, link Link, cfg config.Protocol, log util.SessionLog, stats *util.Stats) *Session {
	return &Session{
		role:  role,
		state: StateHandshaking,
		link:  &pushbackLink{Link: link},
		cfg:   cfg,
		log:   log,
		stats: stats,
	}
}

func (s *Session) Role() Role   { return s.role }
func (s *Session) State() State { return s.state }

// Close moves the session to StateClosed. The Link is owned by the caller.
func (s *Session) Close() {
	s.state = StateClosed
}

// Handshake runs the role's half of SYN / SYNACK / ACK.
func (s *Session) Handshake(ctx context.Context) error {
	if s.state != StateHandshaking {
		return errors.Errorf("handshake in state %s", s.state)
	}

	var err error
	if s.role == RoleClient {
		err = s.clientHandshake(ctx)
	} else {
		err = s.serverHandshake(ctx)
	}
	if err != nil {
		s.state = StateClosed
		return err
	}
	s.state = StateTransferring
	return nil
}

// ---------------------------------------------------------------------------
// Handshake
// ---------------------------------------------------------------------------

func (s *Session) clientHandshake(ctx context.Context) error {
	syn := protocol.Packet{Kind: protocol.KindSYN, Seq: 0}

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			s.log.Debug("no SYNACK yet, resending SYN (attempt %d)", attempt)
		}
		if err := s.link.Write(syn); err != nil {
			return err
		}

		deadline := time.Now().Add(s.cfg.PacketTimeout)
		for {
			wait := time.Until(deadline)
			if wait <= 0 {
				break
			}
			pkt, ok, err := s.link.Read(ctx, wait)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if pkt.Kind != protocol.KindSYNACK {
				s.log.Debug("ignoring %s during handshake", pkt)
				continue
			}
			s.log.Debug("established with %s", pkt.Peer)
			return s.link.Write(protocol.Packet{Kind: protocol.KindACK, Seq: pkt.Seq + 1})
		}
	}
	return errors.Wrapf(ErrHandshakeFailure, "no SYNACK after %d attempts", s.cfg.MaxRetries+1)
}

func (s *Session) serverHandshake(ctx context.Context) error {
	syn, err := s.awaitSYN(ctx)
	if err != nil {
		return err
	}

	synack := protocol.Packet{Kind: protocol.KindSYNACK, Seq: syn.Seq + 1}
	if err := s.link.Write(synack); err != nil {
		return err
	}

	for timeouts := 0; timeouts < s.cfg.HandshakeRetries; {
		pkt, ok, err := s.link.Read(ctx, s.cfg.PacketTimeout)
		if err != nil {
			return err
		}
		if !ok {
			timeouts++
			continue
		}

		switch pkt.Kind {
		case protocol.KindACK:
			return nil
		case protocol.KindSYN:
			// our SYNACK was lost
			if err := s.link.Write(synack); err != nil {
				return err
			}
		default:
			// the client is already transferring, so the ACK was lost
			s.link.Unread(pkt)
			return nil
		}
	}

	s.log.Debug("no handshake ACK, assuming established")
	return nil
}

// awaitSYN reads the SYN that opened a server session; the demultiplexer
// normally delivers it first.
func (s *Session) awaitSYN(ctx context.Context) (protocol.Packet, error) {
	for timeouts := 0; timeouts <= s.cfg.HandshakeRetries; {
		pkt, ok, err := s.link.Read(ctx, s.cfg.PacketTimeout)
		if err != nil {
			return protocol.Packet{}, err
		}
		if !ok {
			timeouts++
			continue
		}
		if pkt.Kind == protocol.KindSYN {
			return pkt, nil
		}
		s.log.Debug("ignoring %s before SYN", pkt)
	}
	return protocol.Packet{}, errors.Wrap(ErrHandshakeFailure, "no SYN")
}

// ---------------------------------------------------------------------------
// Transfer
// ---------------------------------------------------------------------------

// Send fragments payload and delivers it with a Sender.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if s.state != StateTransferring {
		return errors.Wrapf(ErrNotEstablished, "send in state %s", s.state)
	}

	pkts, err := protocol.Packets(protocol.Fragment(payload, s.cfg.MaxPayload))
	if err != nil {
		return err
	}
	s.log.Debug("sending %d bytes in %d fragments", len(payload), len(pkts))
	return NewSender(s.role, s.link, s.cfg, s.log, s.stats).Send(ctx, pkts)
}

// Receive collects one message with a Receiver; see Receiver.Receive for the
// meaning of accept.
func (s *Session) Receive(ctx context.Context, accept func([]byte) error) ([]byte, error) {
	if s.state != StateTransferring {
		return nil, errors.Wrapf(ErrNotEstablished, "receive in state %s", s.state)
	}
	return NewReceiver(s.role, s.link, s.cfg, s.log).Receive(ctx, accept)
}
