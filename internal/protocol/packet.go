// Package protocol defines the datagram format used by the reliable transport.
package protocol

import (
	"fmt"
	"net/netip"
)

// Kind tags what a packet means to the session state machine.
type Kind uint8

// Packet kinds. The ordinal is what goes on the wire.
const (
	KindSYN        Kind = iota // handshake open
	KindSYNACK                 // handshake reply
	KindACK                    // handshake completion
	KindReady                  // data fragment awaiting acknowledgement
	KindConfirmed              // sender-side marker, never transmitted on purpose
	KindAckData                // acknowledgement of one data fragment
	KindAckUnknown             // desync signal, see arq.Sender
)

func (k Kind) String() string {
	switch k {
	case KindSYN:
		return "SYN"
	case KindSYNACK:
		return "SYNACK"
	case KindACK:
		return "ACK"
	case KindReady:
		return "READY"
	case KindConfirmed:
		return "CONFIRMED"
	case KindAckData:
		return "ACK_DATA"
	case KindAckUnknown:
		return "ACK_UNKNOWN"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Wire layout: Kind(1) + Seq(4) + IPv4(4) + Port(2) + Payload.
const (
	HeaderSize     = 11
	MaxPacketSize  = 1024
	MaxPayloadSize = MaxPacketSize - HeaderSize
)

// Packet is an immutable datagram value. Peer is the remote endpoint the
// packet is addressed to or arrived from, depending on direction.
type Packet struct {
	Kind    Kind
	Seq     uint32
	Peer    netip.AddrPort
	Payload []byte
}

// WithKind returns a copy of p with Kind replaced.
func (p Packet) WithKind(k Kind) Packet {
	p.Kind = k
	return p
}

// WithSeq returns a copy of p with Seq replaced.
func (p Packet) WithSeq(seq uint32) Packet {
	p.Seq = seq
	return p
}

// WithPeer returns a copy of p with Peer replaced.
func (p Packet) WithPeer(peer netip.AddrPort) Packet {
	p.Peer = peer
	return p
}

// WithPayload returns a copy of p carrying payload.
func (p Packet) WithPayload(payload []byte) Packet {
	p.Payload = payload
	return p
}

func (p Packet) String() string {
	return fmt.Sprintf("%s #%d %s (%d bytes)", p.Kind, p.Seq, p.Peer, len(p.Payload))
}

// NormalizePeer maps an IPv4-in-IPv6 endpoint to its IPv4 form so that one
// remote endpoint always has one key.
func NormalizePeer(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
