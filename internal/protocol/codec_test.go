package protocol_test

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/httpnio/internal/protocol"
)

var testPeer = netip.MustParseAddrPort("192.168.2.125:41830")

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are inverse
// operations for every kind and payload size the wire format allows.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		pkt  protocol.Packet
	}{
		{"SYN with no payload", protocol.Packet{Kind: protocol.KindSYN, Seq: 0, Peer: testPeer}},
		{"SYNACK", protocol.Packet{Kind: protocol.KindSYNACK, Seq: 1, Peer: testPeer}},
		{"ACK", protocol.Packet{Kind: protocol.KindACK, Seq: 2, Peer: testPeer}},
		{"READY with small payload", protocol.Packet{Kind: protocol.KindReady, Seq: 42, Peer: testPeer, Payload: []byte("hello world")}},
		{"READY with max payload", protocol.Packet{Kind: protocol.KindReady, Seq: 999, Peer: testPeer, Payload: make([]byte, protocol.MaxPayloadSize)}},
		{"ACK_DATA", protocol.Packet{Kind: protocol.KindAckData, Seq: 7, Peer: testPeer}},
		{"ACK_UNKNOWN with payload", protocol.Packet{Kind: protocol.KindAckUnknown, Seq: 3, Peer: testPeer, Payload: []byte("x")}},
		{"max seq", protocol.Packet{Kind: protocol.KindReady, Seq: 0xFFFFFFFF, Peer: testPeer}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := protocol.Encode(tc.pkt)
			require.NoError(t, err)
			require.Len(t, encoded, protocol.HeaderSize+len(tc.pkt.Payload))

			decoded, err := protocol.Decode(encoded)
			require.NoError(t, err)
			require.Equal(t, tc.pkt.Kind, decoded.Kind)
			require.Equal(t, tc.pkt.Seq, decoded.Seq)
			require.Equal(t, tc.pkt.Peer, decoded.Peer)
			require.Equal(t, len(tc.pkt.Payload), len(decoded.Payload))
			if len(tc.pkt.Payload) > 0 {
				require.Equal(t, tc.pkt.Payload, decoded.Payload)
			}
		})
	}
}

// TestEncodeHeaderLayout pins the byte layout of the header.
func TestEncodeHeaderLayout(t *testing.T) {
	pkt := protocol.Packet{
		Kind:    protocol.KindReady,
		Seq:     0x01020304,
		Peer:    netip.MustParseAddrPort("10.0.0.7:8080"),
		Payload: []byte{0xAA},
	}

	encoded, err := protocol.Encode(pkt)
	require.NoError(t, err)
	require.Equal(t, []byte{
		3,           // kind
		1, 2, 3, 4,  // seq
		10, 0, 0, 7, // ip
		0x1F, 0x90,  // port
		0xAA,
	}, encoded)
}

func TestEncodeRejects(t *testing.T) {
	_, err := protocol.Encode(protocol.Packet{Kind: protocol.KindReady, Peer: testPeer, Payload: make([]byte, protocol.MaxPayloadSize+1)})
	require.Error(t, err)

	_, err = protocol.Encode(protocol.Packet{Kind: protocol.KindReady, Peer: netip.MustParseAddrPort("[::1]:80")})
	require.Error(t, err)
}

func TestEncodeMappedIPv4(t *testing.T) {
	mapped := netip.MustParseAddrPort("[::ffff:127.0.0.1]:9000")
	encoded, err := protocol.Encode(protocol.Packet{Kind: protocol.KindSYN, Peer: mapped})
	require.NoError(t, err)

	decoded, err := protocol.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort("127.0.0.1:9000"), decoded.Peer)
}

// TestDecodeBadLength verifies that datagrams outside [HeaderSize,
// MaxPacketSize] fail with a FormatError.
func TestDecodeBadLength(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"1 byte", []byte{0x01}},
		{"one less than header", make([]byte, protocol.HeaderSize-1)},
		{"one more than max", make([]byte, protocol.MaxPacketSize+1)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := protocol.Decode(tc.data)
			var fe *protocol.FormatError
			require.True(t, errors.As(err, &fe), "want FormatError, got %v", err)
			require.Equal(t, len(tc.data), fe.Length)
		})
	}
}

func TestDecodeBoundarySizes(t *testing.T) {
	pkt, err := protocol.Decode(make([]byte, protocol.HeaderSize))
	require.NoError(t, err)
	require.Empty(t, pkt.Payload)

	pkt, err = protocol.Decode(make([]byte, protocol.MaxPacketSize))
	require.NoError(t, err)
	require.Len(t, pkt.Payload, protocol.MaxPayloadSize)
}

func TestDecodeUnknownKindIsAckData(t *testing.T) {
	data := make([]byte, protocol.HeaderSize)
	for _, ordinal := range []byte{7, 42, 255} {
		data[0] = ordinal
		pkt, err := protocol.Decode(data)
		require.NoError(t, err)
		require.Equal(t, protocol.KindAckData, pkt.Kind, "ordinal %d", ordinal)
	}
}

// TestDecodePreservesPayload verifies that the payload is copied and not
// aliased to the input buffer.
func TestDecodePreservesPayload(t *testing.T) {
	encoded, err := protocol.Encode(protocol.Packet{Kind: protocol.KindReady, Peer: testPeer, Payload: []byte("original")})
	require.NoError(t, err)

	decoded, err := protocol.Decode(encoded)
	require.NoError(t, err)

	encoded[protocol.HeaderSize] = 0xFF
	require.Equal(t, []byte("original"), decoded.Payload)
}

func TestWithHelpersDoNotMutate(t *testing.T) {
	base := protocol.Packet{Kind: protocol.KindReady, Seq: 4, Peer: testPeer}
	ack := base.WithKind(protocol.KindAckData).WithPayload(nil)

	require.Equal(t, protocol.KindReady, base.Kind)
	require.Equal(t, protocol.KindAckData, ack.Kind)
	require.Equal(t, base.Seq, ack.Seq)
	require.Equal(t, uint32(9), base.WithSeq(9).Seq)
	require.Equal(t, uint32(4), base.Seq)
}
