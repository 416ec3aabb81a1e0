package bridge

import (
	"testing"

	"github.com/pion/rtp"

	"github.com/zsiec/originhub/internal/packet"
)

type recordingRTCSink struct {
	calls int
	audio []bool
}

func (s *recordingRTCSink) OnRTPPacket(pkts []*rtp.Packet, audio bool) {
	s.calls++
	s.audio = append(s.audio, audio)
}

func TestRTMPBridgeEmptyWithNoSinks(t *testing.T) {
	b := NewRTMPBridge(nil, SSRCs{}, nil, SSRCs{}, FilterOptions{}, false)
	if !b.Empty() {
		t.Fatalf("expected Empty() true with no sinks configured")
	}
}

func TestRTMPBridgeFansOutToRTCSink(t *testing.T) {
	rtc := &recordingRTCSink{}
	b := NewRTMPBridge(rtc, SSRCs{VideoSSRC: 1, AudioSSRC: 2, VideoPT: 96, AudioPT: 97, ClockRate: 48000}, nil, SSRCs{}, FilterOptions{}, false)
	if b.Empty() {
		t.Fatalf("expected Empty() false with an RTC sink configured")
	}
	b.OnPublish()

	sps := []byte{0x67, 0x01}
	pps := []byte{0x68, 0x02}
	seqHdr := &packet.Packet{Payload: annexB(sps, pps), Type: packet.TypeVideo, IsSequence: true}
	if err := b.OnFrame(seqHdr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rtc.calls != 0 {
		t.Fatalf("sequence headers must not be forwarded as RTP, got %d calls", rtc.calls)
	}

	idr := []byte{0x65, 0x01, 0x02}
	frame := &packet.Packet{Payload: annexB(idr), Type: packet.TypeVideo, Timestamp: 1000, IsKeyframe: true}
	if err := b.OnFrame(frame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rtc.calls != 1 {
		t.Fatalf("expected 1 RTC sink call after a video frame, got %d", rtc.calls)
	}
	if rtc.audio[0] {
		t.Fatalf("expected video frame tagged audio=false")
	}

	audioFrame := &packet.Packet{Payload: []byte{0x01, 0x02, 0x03}, Type: packet.TypeAudio, Timestamp: 1020}
	if err := b.OnFrame(audioFrame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rtc.calls != 2 || !rtc.audio[1] {
		t.Fatalf("expected a second sink call tagged audio=true, got calls=%d audio=%v", rtc.calls, rtc.audio)
	}
}

func TestRTMPBridgeOnFrameNoopWhenEmpty(t *testing.T) {
	b := NewRTMPBridge(nil, SSRCs{}, nil, SSRCs{}, FilterOptions{}, false)
	frame := &packet.Packet{Payload: annexB([]byte{0x65}), Type: packet.TypeVideo, Timestamp: 1000}
	if err := b.OnFrame(frame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
