package gop

import (
	"testing"

	"github.com/zsiec/originhub/internal/packet"
)

func video(ts int64, key bool) *packet.Packet {
	return &packet.Packet{Type: packet.TypeVideo, Timestamp: ts, IsKeyframe: key}
}

func audio(ts int64) *packet.Packet {
	return &packet.Packet{Type: packet.TypeAudio, Timestamp: ts}
}

func TestKeyframeRestart(t *testing.T) {
	c := New(true, 0)
	c.Cache(video(0, true), CodecH264)
	c.Cache(audio(20), CodecH264)
	c.Cache(video(40, false), CodecH264)
	c.Cache(audio(60), CodecH264)
	c.Cache(video(80, true), CodecH264)

	if c.Len() != 1 {
		t.Fatalf("expected exactly 1 cached packet, got %d", c.Len())
	}

	var dumped []*packet.Packet
	c.Dump(func(p *packet.Packet) { dumped = append(dumped, p) })
	if len(dumped) != 1 || !dumped[0].IsKeyframe || dumped[0].Timestamp != 80 {
		t.Fatalf("expected {V-key t=80}, got %+v", dumped)
	}
}

func TestFirstElementIsAlwaysAKeyframe(t *testing.T) {
	c := New(true, 0)
	c.Cache(video(0, true), CodecH264)
	c.Cache(video(10, false), CodecH264)
	c.Cache(video(20, false), CodecH264)

	var dumped []*packet.Packet
	c.Dump(func(p *packet.Packet) { dumped = append(dumped, p) })
	if len(dumped) == 0 || !dumped[0].IsKeyframe {
		t.Fatalf("first cached element must be a keyframe, got %+v", dumped)
	}
}

func TestRejectsNonH264HEVCVideo(t *testing.T) {
	c := New(true, 0)
	c.Cache(video(0, true), CodecUnknown)
	if c.Len() != 0 {
		t.Fatalf("non-H264/HEVC video must not be cached")
	}
}

func TestDoesNotCachePureAudioBeforeVideo(t *testing.T) {
	c := New(true, 0)
	c.Cache(audio(0), CodecH264)
	c.Cache(audio(10), CodecH264)
	if c.Len() != 0 {
		t.Fatalf("pure audio with no video seen yet must not be cached")
	}
}

func TestPureAudioOverrunFlushesCache(t *testing.T) {
	c := New(true, 0)
	c.Cache(video(0, true), CodecH264)
	for i := 0; i < maxPureAudioRun+1; i++ {
		c.Cache(audio(int64(i)+1), CodecH264)
	}
	if c.Len() != 0 {
		t.Fatalf("expected cache flushed after exceeding pure-audio run, got %d items", c.Len())
	}
}

func TestMaxFramesFlushesCache(t *testing.T) {
	c := New(true, 2)
	c.Cache(video(0, true), CodecH264)
	c.Cache(video(10, false), CodecH264)
	c.Cache(video(20, false), CodecH264) // exceeds max of 2
	if c.Len() != 0 {
		t.Fatalf("expected cache flushed after exceeding max frames, got %d items", c.Len())
	}
}

func TestDisabledNeverCaches(t *testing.T) {
	c := New(false, 0)
	c.Cache(video(0, true), CodecH264)
	if c.Len() != 0 {
		t.Fatalf("disabled cache must never store packets")
	}
}
