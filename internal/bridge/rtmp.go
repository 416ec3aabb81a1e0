package bridge

import (
	"github.com/pion/rtp"

	"github.com/zsiec/originhub/internal/packet"
	"github.com/zsiec/originhub/internal/source"
)

// RTMPBridge is the RTMP stream bridge (spec.md §4.12): it fans every
// RTMP-ingested frame out to RTC (as RTP, via the shared RTP builder)
// and to RTSP (as RTP, via a second independent packetizer targeting
// the RTSP play-stream's own SSRCs/payload types).
type RTMPBridge struct {
	rtc  *rtpEgress
	rtsp *rtpEgress

	rtcSink  RTCSink
	rtspSink RTSPSink
}

// NewRTMPBridge builds an RTMP bridge. Either sink may be nil (e.g. a
// vhost with RTC or RTSP play disabled); frames destined for a nil sink
// are simply not packetized.
func NewRTMPBridge(rtcSink RTCSink, rtcSSRCs SSRCs, rtspSink RTSPSink, rtspSSRCs SSRCs, filter FilterOptions, mergeNalus bool) *RTMPBridge {
	return &RTMPBridge{
		rtc:      newRTPEgress(filter, mergeNalus, rtcSSRCs),
		rtsp:     newRTPEgress(filter, false, rtspSSRCs),
		rtcSink:  rtcSink,
		rtspSink: rtspSink,
	}
}

// Initialize performs bridge startup for a new publish request. Nothing
// to do beyond what OnPublish already resets; kept as a named operation
// to mirror spec.md §4.12's initialize(req) entry point for callers
// that construct the bridge ahead of the publish event.
func (b *RTMPBridge) Initialize() {}

// Empty reports whether this bridge has no active egress sinks, the
// condition under which the source may skip calling OnFrame entirely
// (spec.md §4.12's empty() check).
func (b *RTMPBridge) Empty() bool {
	return b.rtcSink == nil && b.rtspSink == nil
}

// OnPublish resets both egress packetizers' sequence numbers/timestamp
// bases for the new publish session.
func (b *RTMPBridge) OnPublish() {
	b.rtc.reset()
	b.rtsp.reset()
}

// OnUnpublish is a no-op: the bridge holds no per-publish resource that
// must be released beyond what the next OnPublish's reset() replaces.
func (b *RTMPBridge) OnUnpublish() {}

// OnFrame implements source.Bridge: every audio/video frame the RTMP
// source accepts is packetized for RTC and RTSP egress.
func (b *RTMPBridge) OnFrame(pkt *packet.Packet) error {
	if b.Empty() {
		return nil
	}
	if b.rtcSink != nil {
		b.rtc.onFrame(pkt, func(pkts []*rtp.Packet, audio bool) { b.rtcSink.OnRTPPacket(pkts, audio) })
	}
	if b.rtspSink != nil {
		b.rtsp.onFrame(pkt, func(pkts []*rtp.Packet, audio bool) { b.rtspSink.OnRTPPacket(pkts, audio) })
	}
	return nil
}

var _ source.Bridge = (*RTMPBridge)(nil)
