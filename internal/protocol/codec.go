package protocol

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/pkg/errors"
)

// FormatError reports a datagram that cannot be a packet.
type FormatError struct {
	Length int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed packet: %d bytes (want %d..%d)", e.Length, HeaderSize, MaxPacketSize)
}

// Encode serializes a Packet for a single datagram.
func Encode(pkt Packet) ([]byte, error) {
	if len(pkt.Payload) > MaxPayloadSize {
		return nil, errors.Errorf("payload too large: %d bytes (max %d)", len(pkt.Payload), MaxPayloadSize)
	}

	var ip [4]byte
	if addr := pkt.Peer.Addr(); addr.IsValid() {
		addr = addr.Unmap()
		if !addr.Is4() {
			return nil, errors.Errorf("peer %s is not an IPv4 endpoint", pkt.Peer)
		}
		ip = addr.As4()
	}

	buf := make([]byte, HeaderSize+len(pkt.Payload))
	buf[0] = byte(pkt.Kind)
	binary.BigEndian.PutUint32(buf[1:5], pkt.Seq)
	copy(buf[5:9], ip[:])
	binary.BigEndian.PutUint16(buf[9:11], pkt.Peer.Port())
	copy(buf[HeaderSize:], pkt.Payload)
	return buf, nil
}

// Decode deserializes a datagram into a Packet. Unknown kind ordinals are
// read as KindAckData.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize || len(data) > MaxPacketSize {
		return Packet{}, &FormatError{Length: len(data)}
	}

	kind := Kind(data[0])
	if kind > KindAckUnknown {
		kind = KindAckData
	}

	pkt := Packet{
		Kind: kind,
		Seq:  binary.BigEndian.Uint32(data[1:5]),
		Peer: netip.AddrPortFrom(
			netip.AddrFrom4([4]byte(data[5:9])),
			binary.BigEndian.Uint16(data[9:11]),
		),
		Payload: make([]byte, len(data)-HeaderSize),
	}
	copy(pkt.Payload, data[HeaderSize:])
	return pkt, nil
}
