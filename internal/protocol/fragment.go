package protocol

import (
	"bytes"
	"math"

	"github.com/pkg/errors"
)

// Fragment splits data into order-preserving chunks of at most maxPayload
// bytes. Empty input yields exactly one empty chunk so that an empty message
// still occupies sequence number 0. A maxPayload outside 1..MaxPayloadSize
// is treated as MaxPayloadSize.
func Fragment(data []byte, maxPayload int) [][]byte {
	if maxPayload <= 0 || maxPayload > MaxPayloadSize {
		maxPayload = MaxPayloadSize
	}
	if len(data) == 0 {
		return [][]byte{{}}
	}

	chunks := make([][]byte, 0, (len(data)+maxPayload-1)/maxPayload)
	for start := 0; start < len(data); start += maxPayload {
		end := min(start+maxPayload, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// Packets numbers chunks 0..n-1 as READY packets. Peer is left zero and
// filled in by the session on write.
func Packets(chunks [][]byte) ([]Packet, error) {
	if uint64(len(chunks)) > math.MaxUint32 {
		return nil, errors.Errorf("message needs %d fragments, sequence space is 32 bits", len(chunks))
	}
	pkts := make([]Packet, len(chunks))
	for i, c := range chunks {
		pkts[i] = Packet{Kind: KindReady, Seq: uint32(i), Payload: c}
	}
	return pkts, nil
}

// Reassemble concatenates the payloads of the occupied slots in index order.
// Nil slots are skipped, so the result may have gaps.
func Reassemble(slots []*Packet) []byte {
	var buf bytes.Buffer
	for _, p := range slots {
		if p != nil {
			buf.Write(p.Payload)
		}
	}
	return buf.Bytes()
}
