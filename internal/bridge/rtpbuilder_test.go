package bridge

import (
	"bytes"
	"testing"

	"github.com/zsiec/originhub/internal/packet"
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestRTPBuilderSingleSmallNALU(t *testing.T) {
	b := NewRTPBuilder(RTPBuilderConfig{Codec: CodecAVC}, 0x1234, 96, 90000)
	idr := append([]byte{0x65}, bytes.Repeat([]byte{0xAB}, 100)...)
	pkt := &packet.Packet{Payload: annexB(idr), Type: packet.TypeVideo, Timestamp: 1000, IsKeyframe: true}

	pkts, hasIDR := b.Build(pkt)
	if !hasIDR {
		t.Fatalf("expected hasIDR true")
	}
	if len(pkts) != 1 {
		t.Fatalf("expected 1 RTP packet for a small NALU, got %d", len(pkts))
	}
	if !bytes.Equal(pkts[0].Payload, idr) {
		t.Fatalf("payload mismatch: got %x want %x", pkts[0].Payload, idr)
	}
	if pkts[0].Header.SSRC != 0x1234 || pkts[0].Header.PayloadType != 96 {
		t.Fatalf("unexpected RTP header: %+v", pkts[0].Header)
	}
}

func TestRTPBuilderFragmentsOversizeNALU(t *testing.T) {
	b := NewRTPBuilder(RTPBuilderConfig{Codec: CodecAVC}, 1, 96, 90000)
	big := append([]byte{0x65}, bytes.Repeat([]byte{0xCD}, 3000)...)
	pkt := &packet.Packet{Payload: annexB(big), Type: packet.TypeVideo, Timestamp: 1000, IsKeyframe: true}

	pkts, _ := b.Build(pkt)
	if len(pkts) < 2 {
		t.Fatalf("expected multiple FU-A fragments for a 3001-byte NALU, got %d", len(pkts))
	}

	first := pkts[0].Payload
	if first[0]&0x1F != 28 {
		t.Fatalf("expected FU-A indicator type 28, got %d", first[0]&0x1F)
	}
	if first[1]&0x80 == 0 {
		t.Fatalf("expected start bit set on first fragment")
	}
	last := pkts[len(pkts)-1].Payload
	if last[1]&0x40 == 0 {
		t.Fatalf("expected end bit set on last fragment")
	}

	// Reassemble and compare against the original NALU.
	var reassembled []byte
	reassembled = append(reassembled, (first[0]&0xE0)|(first[1]&0x1F))
	for _, p := range pkts {
		reassembled = append(reassembled, p.Payload[2:]...)
	}
	if !bytes.Equal(reassembled, big) {
		t.Fatalf("reassembled FU-A payload does not match original NALU")
	}
}

func TestRTPBuilderAggregatesWithMergeNalus(t *testing.T) {
	b := NewRTPBuilder(RTPBuilderConfig{Codec: CodecAVC, MergeNalus: true}, 1, 96, 90000)
	sps := []byte{0x67, 0x01, 0x02}
	pps := []byte{0x68, 0x03}
	pkt := &packet.Packet{Payload: annexB(sps, pps), Type: packet.TypeVideo, Timestamp: 1000}

	pkts, _ := b.Build(pkt)
	if len(pkts) != 1 {
		t.Fatalf("expected one aggregated STAP-A packet, got %d", len(pkts))
	}
	payload := pkts[0].Payload
	if payload[0]&0x1F != 24 {
		t.Fatalf("expected STAP-A type 24, got %d", payload[0]&0x1F)
	}
}

func TestRTPBuilderSequenceNumberIncrements(t *testing.T) {
	b := NewRTPBuilder(RTPBuilderConfig{Codec: CodecAVC}, 1, 96, 90000)
	nalu := []byte{0x65, 0x01}
	for i := 0; i < 3; i++ {
		pkt := &packet.Packet{Payload: annexB(nalu), Type: packet.TypeVideo, Timestamp: int64(1000 + i*40)}
		pkts, _ := b.Build(pkt)
		if len(pkts) != 1 {
			t.Fatalf("expected 1 packet per call, got %d", len(pkts))
		}
		if int(pkts[0].Header.SequenceNumber) != i {
			t.Fatalf("expected sequence number %d, got %d", i, pkts[0].Header.SequenceNumber)
		}
	}
}
