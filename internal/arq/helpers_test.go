package arq_test

import (
	"context"
	"time"

	"github.com/1ureka/httpnio/internal/arq"
	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/protocol"
)

// Compile-time interface check.
var _ arq.Link = (*scriptedLink)(nil)

// scriptedLink is an in-memory Link. Every Write is recorded; every Read
// pops the next scripted step. A nil step, or running out of steps, is a
// timeout. onRead, when set, runs before each Read so tests can observe
// sender or receiver state between packets.
type scriptedLink struct {
	written []protocol.Packet
	steps   []*protocol.Packet
	reads   int
	onRead  func(read int)
	onWrite func(pkt protocol.Packet)
}

func (l *scriptedLink) Write(pkt protocol.Packet) error {
	if l.onWrite != nil {
		l.onWrite(pkt)
	}
	l.written = append(l.written, pkt)
	return nil
}

func (l *scriptedLink) Read(ctx context.Context, _ time.Duration) (protocol.Packet, bool, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Packet{}, false, err
	}
	if l.onRead != nil {
		l.onRead(l.reads)
	}
	l.reads++

	if len(l.steps) == 0 {
		return protocol.Packet{}, false, nil
	}
	step := l.steps[0]
	l.steps = l.steps[1:]
	if step == nil {
		return protocol.Packet{}, false, nil
	}
	return *step, true, nil
}

// writtenSeqs filters the recorded writes by kind and returns their seqs.
func (l *scriptedLink) writtenSeqs(kind protocol.Kind) []uint32 {
	var seqs []uint32
	for _, p := range l.written {
		if p.Kind == kind {
			seqs = append(seqs, p.Seq)
		}
	}
	return seqs
}

var timeout *protocol.Packet

func pkt(kind protocol.Kind, seq uint32, payload string) *protocol.Packet {
	p := protocol.Packet{Kind: kind, Seq: seq}
	if payload != "" {
		p.Payload = []byte(payload)
	}
	return &p
}

func ready(seq uint32, payload string) *protocol.Packet {
	return pkt(protocol.KindReady, seq, payload)
}

func ackData(seq uint32) *protocol.Packet {
	return pkt(protocol.KindAckData, seq, "")
}

// testProtocol keeps the defaults. scriptedLink never blocks, so the long
// timeout only keeps unrelated packets from counting as timeouts.
func testProtocol() config.Protocol {
	p := config.DefaultProtocol()
	p.PacketTimeout = time.Second
	return p
}

func readyPackets(payloads ...string) []protocol.Packet {
	pkts := make([]protocol.Packet, len(payloads))
	for i, s := range payloads {
		pkts[i] = protocol.Packet{Kind: protocol.KindReady, Seq: uint32(i), Payload: []byte(s)}
	}
	return pkts
}
