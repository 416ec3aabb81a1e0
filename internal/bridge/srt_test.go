package bridge

import (
	"testing"

	"github.com/zsiec/originhub/internal/mpegts"
	"github.com/zsiec/originhub/internal/packet"
)

type recordingRTMPSink struct {
	audio, video []*packet.Packet
}

func (s *recordingRTMPSink) OnAudio(pkt *packet.Packet) error { s.audio = append(s.audio, pkt); return nil }
func (s *recordingRTMPSink) OnVideo(pkt *packet.Packet) error { s.video = append(s.video, pkt); return nil }

func TestSRTBridgeOnPESRoutesByStreamType(t *testing.T) {
	sink := &recordingRTMPSink{}
	b := NewSRTBridge(sink, nil, SSRCs{}, FilterOptions{}, nil)
	b.pidCodec[256] = streamTypeH264
	b.pidCodec[257] = streamTypeAAC

	videoPES := &mpegts.DemuxerData{
		FirstPacket: &mpegts.Packet{Header: mpegts.PacketHeader{PID: 256}},
		PES: &mpegts.PESData{
			Data:   annexB([]byte{0x65, 0xAA}),
			Header: &mpegts.PESHeader{OptionalHeader: &mpegts.PESOptionalHeader{PTS: &mpegts.ClockReference{Base: 90000}}},
		},
	}
	b.onPES(videoPES)
	if len(sink.video) != 1 {
		t.Fatalf("expected 1 video frame delivered, got %d", len(sink.video))
	}
	if sink.video[0].Timestamp != 1000 {
		t.Fatalf("expected PTS 90000/90=1000ms, got %d", sink.video[0].Timestamp)
	}
	if !sink.video[0].IsKeyframe {
		t.Fatalf("expected IDR payload detected as keyframe")
	}

	audioPES := &mpegts.DemuxerData{
		FirstPacket: &mpegts.Packet{Header: mpegts.PacketHeader{PID: 257}},
		PES:         &mpegts.PESData{Data: []byte{0x01, 0x02}, Header: &mpegts.PESHeader{}},
	}
	b.onPES(audioPES)
	if len(sink.audio) != 1 {
		t.Fatalf("expected 1 audio frame delivered, got %d", len(sink.audio))
	}
}

func TestSRTBridgeOnPESUnknownPIDDropped(t *testing.T) {
	sink := &recordingRTMPSink{}
	b := NewSRTBridge(sink, nil, SSRCs{}, FilterOptions{}, nil)

	pes := &mpegts.DemuxerData{
		FirstPacket: &mpegts.Packet{Header: mpegts.PacketHeader{PID: 999}},
		PES:         &mpegts.PESData{Data: []byte{0x01}, Header: &mpegts.PESHeader{}},
	}
	b.onPES(pes)
	if len(sink.audio) != 0 || len(sink.video) != 0 {
		t.Fatalf("expected packet on unknown PID to be dropped")
	}
}

func TestSRTBridgeOnPacketNoopBeforePublish(t *testing.T) {
	b := NewSRTBridge(&recordingRTMPSink{}, nil, SSRCs{}, FilterOptions{}, nil)
	if err := b.OnPacket([]byte{0x47, 0x00, 0x00}); err != nil {
		t.Fatalf("expected no error writing to an unpublished bridge, got %v", err)
	}
}

func TestSRTBridgeEmpty(t *testing.T) {
	b := NewSRTBridge(nil, nil, SSRCs{}, FilterOptions{}, nil)
	if !b.Empty() {
		t.Fatalf("expected Empty() true with no sinks")
	}
}
