package dvr

import (
	"testing"
	"time"

	"github.com/zsiec/originhub/internal/packet"
)

func TestMP4SegmenterPatchDurationTracksElapsed(t *testing.T) {
	s := &MP4Segmenter{}
	s.PatchDuration(&packet.Packet{Timestamp: 1000})
	s.PatchDuration(&packet.Packet{Timestamp: 1040})
	if s.duration != 40*time.Millisecond {
		t.Fatalf("expected 40ms elapsed, got %v", s.duration)
	}
}

func TestMP4PartTrackComputesSampleDurationsFromNextDTS(t *testing.T) {
	samples := []mp4Sample{
		{dts: 1000, sync: true},
		{dts: 1040, sync: false},
		{dts: 1083, sync: false},
	}
	pt := mp4PartTrack(mp4VideoTrackID, samples)
	if len(pt.Samples) != 3 {
		t.Fatalf("expected 3 part samples, got %d", len(pt.Samples))
	}
	if pt.Samples[0].Duration != 40 {
		t.Fatalf("expected first sample duration 40, got %d", pt.Samples[0].Duration)
	}
	if pt.Samples[1].Duration != 43 {
		t.Fatalf("expected second sample duration 43, got %d", pt.Samples[1].Duration)
	}
	if pt.Samples[0].IsNonSyncSample {
		t.Fatalf("expected first sample to be flagged sync")
	}
	if !pt.Samples[1].IsNonSyncSample {
		t.Fatalf("expected second sample to be flagged non-sync")
	}
}
