package bridge

import (
	"log/slog"

	"github.com/pion/rtp"

	"github.com/zsiec/originhub/internal/packet"
)

// FrameBuilder is the narrow capability internal/rtc's audio/video
// builders expose to the RTC bridge: feed it one inbound RTP packet
// plus the sender's current avsync_time (wall-clock ms from RTCP SR,
// ≤0 if not yet known), get back zero or more completed media frames.
// More than one frame can surface from a single call when a reorder gap
// closes and releases several buffered frames at once (spec.md §4.13).
type FrameBuilder interface {
	OnRTP(pkt *rtp.Packet, avsyncTime int64) []*packet.Packet
}

// RTCBridge is the RTC stream bridge (spec.md §4.12): it reassembles
// inbound RTP into media frames via a FrameBuilder (C14) and forwards
// completed frames to the RTMP live source.
type RTCBridge struct {
	log      *slog.Logger
	rtmpSink RTMPSink
	audio    FrameBuilder
	video    FrameBuilder
}

// NewRTCBridge builds an RTC bridge. audio/video are the per-track
// builders for this publish session, or nil if that track is absent.
func NewRTCBridge(rtmpSink RTMPSink, audio, video FrameBuilder, log *slog.Logger) *RTCBridge {
	if log == nil {
		log = slog.Default()
	}
	return &RTCBridge{log: log.With("component", "bridge", "bridge_type", "rtc"), rtmpSink: rtmpSink, audio: audio, video: video}
}

// Empty reports whether this bridge has no egress sink.
func (b *RTCBridge) Empty() bool { return b.rtmpSink == nil }

// OnPublish/OnUnpublish: the RTC bridge holds no per-publish state of
// its own — session lifetime is owned by the RTSP/WHIP session that
// constructs it — so these are no-ops, present to satisfy the same
// bridge shape as RTMPBridge/SRTBridge.
func (b *RTCBridge) OnPublish()   {}
func (b *RTCBridge) OnUnpublish() {}

// OnRTP implements spec.md §4.12's RTC on_rtp(rtp_packet) entry: it
// feeds the packet to the matching track's frame builder and forwards
// every completed frame to the RTMP live source.
func (b *RTCBridge) OnRTP(pkt *rtp.Packet, avsyncTime int64, audio bool) error {
	fb := b.video
	if audio {
		fb = b.audio
	}
	if fb == nil || b.rtmpSink == nil {
		return nil
	}

	for _, frame := range fb.OnRTP(pkt, avsyncTime) {
		var err error
		if audio {
			err = b.rtmpSink.OnAudio(frame)
		} else {
			err = b.rtmpSink.OnVideo(frame)
		}
		if err != nil {
			b.log.Warn("rtmp sink rejected rtc frame", "error", err)
		}
	}
	return nil
}
