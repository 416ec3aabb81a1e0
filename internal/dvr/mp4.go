package dvr

import (
	"fmt"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4/codecs"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/pmp4"

	"github.com/zsiec/originhub/internal/metacache"
	"github.com/zsiec/originhub/internal/packet"
)

const (
	mp4AudioTrackID = 1
	mp4VideoTrackID = 2
)

// mp4Sample is one buffered sample pending the fragment's single flush at
// Close (spec.md §4.15: "close_encoder() calls flush() so the fragmented
// MP4 trailer is finalised").
type mp4Sample struct {
	dts     int64 // ms
	cts     int32 // ms, composition offset (pts - dts)
	payload []byte
	sync    bool // keyframe / audio-is-always-sync
}

// MP4Segmenter writes one fragmented MP4 file per segment using
// bluenviron/mediacommon's pmp4 init-segment + media-part writer (the
// same package bluenviron/mediamtx's internal/stream/stream.go uses to
// build its own fMP4 output, other_examples). Samples are buffered in
// memory for the fragment's lifetime and written out in one init+part
// pair on Close — a deliberate simplification over a true incremental
// per-GOP part flush, reasonable given fragments are already bounded by
// the DVR plan's own segment duration.
type MP4Segmenter struct {
	finalPath string
	f         *os.File

	audioCodec codecs.Codec
	videoCodec codecs.Codec
	haveAudio  bool
	haveVideo  bool

	audioSamples []mp4Sample
	videoSamples []mp4Sample

	haveFirst      bool
	firstTimestamp int64
	duration       time.Duration
	size           int64
}

// NewMP4Segmenter returns a Factory producing fresh MP4Segmenter
// instances.
func NewMP4Segmenter() Factory {
	return func() Segmenter { return &MP4Segmenter{} }
}

func (s *MP4Segmenter) Open(path string) error {
	s.finalPath = path
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dvr/mp4: create %q: %w", path, err)
	}
	s.f = f
	s.audioSamples = nil
	s.videoSamples = nil
	s.haveAudio = false
	s.haveVideo = false
	s.haveFirst = false
	s.duration = 0
	s.size = 0
	return nil
}

// WriteMetadata is a no-op: MP4 has no onMetaData-equivalent container
// for the properties an RTMP script-data packet carries.
func (s *MP4Segmenter) WriteMetadata(pkt *packet.Packet) error { return nil }

// WriteAudio implements set_audio_codec-on-sequence-header plus raw
// (non-ADTS) sample writing (spec.md §4.15).
func (s *MP4Segmenter) WriteAudio(pkt *packet.Packet, format metacache.AudioFormat) error {
	if pkt.IsSequence {
		s.audioCodec = &codecs.MPEG4Audio{
			Config: mpeg4AudioConfig(format),
		}
		s.haveAudio = true
		return nil
	}
	s.audioSamples = append(s.audioSamples, mp4Sample{dts: pkt.Timestamp, payload: pkt.Payload, sync: true})
	return nil
}

// WriteVideo implements the video-sequence-header codec remembering plus
// regular-sample writing with dts/cts and sync-sample flagging.
func (s *MP4Segmenter) WriteVideo(pkt *packet.Packet, format metacache.VideoFormat) error {
	if pkt.IsSequence {
		if format.CodecID == "hevc" || format.CodecID == "h265" {
			s.videoCodec = &codecs.H265{}
		} else {
			s.videoCodec = &codecs.H264{}
		}
		s.haveVideo = true
		return nil
	}
	s.videoSamples = append(s.videoSamples, mp4Sample{
		dts:     pkt.Timestamp,
		cts:     int32(pkt.AVSyncTime - pkt.Timestamp),
		payload: pkt.Payload,
		sync:    pkt.IsKeyframe,
	})
	return nil
}

func (s *MP4Segmenter) PatchDuration(pkt *packet.Packet) {
	if !s.haveFirst {
		s.firstTimestamp = pkt.Timestamp
		s.haveFirst = true
	}
	if d := time.Duration(pkt.Timestamp-s.firstTimestamp) * time.Millisecond; d > s.duration {
		s.duration = d
	}
}

// Close flushes the buffered init segment and media part, then closes
// the file.
func (s *MP4Segmenter) Close() error {
	if s.f == nil {
		return nil
	}
	defer func() { s.f = nil }()

	init := pmp4.Init{}
	if s.haveVideo {
		init.Tracks = append(init.Tracks, &pmp4.InitTrack{ID: mp4VideoTrackID, TimeScale: 90000, Codec: s.videoCodec})
	}
	if s.haveAudio {
		init.Tracks = append(init.Tracks, &pmp4.InitTrack{ID: mp4AudioTrackID, TimeScale: 90000, Codec: s.audioCodec})
	}
	if err := init.Marshal(s.f); err != nil {
		return fmt.Errorf("dvr/mp4: marshal init segment: %w", err)
	}

	part := pmp4.Part{}
	if s.haveVideo && len(s.videoSamples) > 0 {
		part.Tracks = append(part.Tracks, mp4PartTrack(mp4VideoTrackID, s.videoSamples))
	}
	if s.haveAudio && len(s.audioSamples) > 0 {
		part.Tracks = append(part.Tracks, mp4PartTrack(mp4AudioTrackID, s.audioSamples))
	}
	if len(part.Tracks) > 0 {
		if _, err := part.Marshal(s.f); err != nil {
			return fmt.Errorf("dvr/mp4: marshal media part: %w", err)
		}
	}

	info, statErr := s.f.Stat()
	if statErr == nil {
		s.size = info.Size()
	}
	return s.f.Close()
}

func (s *MP4Segmenter) Current() Fragment {
	return Fragment{Path: s.finalPath, Duration: s.duration, Size: s.size}
}

func mp4PartTrack(id int, samples []mp4Sample) *pmp4.PartTrack {
	pt := &pmp4.PartTrack{ID: id}
	for i, smp := range samples {
		dur := uint32(1)
		if i+1 < len(samples) {
			dur = uint32(samples[i+1].dts - smp.dts)
		}
		pt.Samples = append(pt.Samples, &pmp4.PartSample{
			Duration:        dur,
			PTSOffset:       smp.cts,
			IsNonSyncSample: !smp.sync,
			Payload:         smp.payload,
		})
	}
	return pt
}

func mpeg4AudioConfig(format metacache.AudioFormat) *mpeg4audio.AudioSpecificConfig {
	return &mpeg4audio.AudioSpecificConfig{
		Type:          mpeg4audio.ObjectTypeAACLC,
		SampleRate:    format.SampleRate,
		ChannelConfig: format.Channels,
	}
}
