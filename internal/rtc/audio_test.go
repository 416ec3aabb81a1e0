package rtc

import (
	"testing"

	"github.com/pion/rtp"
)

func TestAudioBuilderDropsPacketsWhileNoSync(t *testing.T) {
	b := NewAudioBuilder(44100, 2, nil)
	frames := b.OnRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 0}, Payload: []byte{1, 2}}, 0)
	if frames != nil {
		t.Fatalf("expected no frames while avsync_time <= 0, got %d", len(frames))
	}
}

func TestAudioBuilderEmitsHeaderOnceThenFrames(t *testing.T) {
	b := NewAudioBuilder(44100, 2, nil)
	frames := b.OnRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 0}, Payload: []byte{0xAA}}, 1000)
	if len(frames) != 2 {
		t.Fatalf("expected [header, frame] on first packet, got %d frames", len(frames))
	}
	if !frames[0].IsSequence {
		t.Fatalf("expected first frame to be the AAC sequence header")
	}
	if frames[1].IsSequence {
		t.Fatalf("expected second frame to be a regular audio frame")
	}

	frames2 := b.OnRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}, Payload: []byte{0xBB}}, 1020)
	if len(frames2) != 1 {
		t.Fatalf("expected exactly 1 frame (no duplicate header) on second packet, got %d", len(frames2))
	}
}

func TestAudioBuilderToleratesOutOfOrderAndDropsDuplicates(t *testing.T) {
	b := NewAudioBuilder(44100, 2, nil)

	// seq 0 arrives, then seq 2 (gap), then seq 1 fills the gap.
	f0 := b.OnRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 0}, Payload: []byte{0x01}}, 1000)
	if len(f0) != 2 { // header + frame
		t.Fatalf("expected header+frame for seq 0, got %d", len(f0))
	}

	f2 := b.OnRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 2}, Payload: []byte{0x03}}, 1040)
	if len(f2) != 0 {
		t.Fatalf("expected seq 2 held pending seq 1, got %d frames", len(f2))
	}

	f1 := b.OnRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}, Payload: []byte{0x02}}, 1020)
	if len(f1) != 2 {
		t.Fatalf("expected seq 1 to release both seq 1 and seq 2 frames, got %d", len(f1))
	}

	// A duplicate/late seq 0 must be dropped.
	fDup := b.OnRTP(&rtp.Packet{Header: rtp.Header{SequenceNumber: 0}, Payload: []byte{0xFF}}, 1060)
	if len(fDup) != 0 {
		t.Fatalf("expected duplicate seq 0 to be dropped, got %d frames", len(fDup))
	}
}
