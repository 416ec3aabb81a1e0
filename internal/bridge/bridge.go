package bridge

import (
	"sync"

	"github.com/pion/rtp"

	"github.com/zsiec/originhub/internal/demux"
	"github.com/zsiec/originhub/internal/packet"
)

// RTCSink receives RTP packets produced by a bridge's egress path for
// fan-out to RTC/WebRTC subscribers (spec.md §4.12's "output to RTC via
// RTP builder").
type RTCSink interface {
	OnRTPPacket(pkts []*rtp.Packet, audio bool)
}

// RTSPSink receives RTP packets for fan-out to RTSP play sessions
// (spec.md §4.12's "output to RTSP via RTSP builder").
type RTSPSink interface {
	OnRTPPacket(pkts []*rtp.Packet, audio bool)
}

// RTMPSink is the narrow live-source capability a bridge forwards
// cross-protocol frames into, matching source.Bridge's own OnAudio/
// OnVideo surface so a *source.Source satisfies it directly.
type RTMPSink interface {
	OnAudio(pkt *packet.Packet) error
	OnVideo(pkt *packet.Packet) error
}

// SSRCs names the SSRC/payload-type pair an egress path packetizes
// audio and video into.
type SSRCs struct {
	VideoSSRC, AudioSSRC uint32
	VideoPT, AudioPT     uint8
	ClockRate            uint32
}

// rtpEgress packetizes outgoing media packets into RTP and hands them
// to a sink (RTC or RTSP). It is shared by the RTMP and SRT bridges,
// which both need to turn cached frames into egress RTP — the only
// difference is which sink receives the result.
type rtpEgress struct {
	mu           sync.Mutex
	codec        Codec
	videoBuilder *RTPBuilder
	audioBuilder *RTPBuilder
	filter       FilterOptions
	mergeNalus   bool
	ssrcs        SSRCs
}

func newRTPEgress(filter FilterOptions, mergeNalus bool, ssrcs SSRCs) *rtpEgress {
	return &rtpEgress{filter: filter, mergeNalus: mergeNalus, ssrcs: ssrcs}
}

// reset rebuilds the per-SSRC packetizers (fresh sequence numbers and
// RTP timestamp base), called on every OnPublish.
func (e *rtpEgress) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *rtpEgress) resetLocked() {
	e.videoBuilder = NewRTPBuilder(RTPBuilderConfig{Codec: e.codec, MergeNalus: e.mergeNalus, Filter: e.filter}, e.ssrcs.VideoSSRC, e.ssrcs.VideoPT, 90000)
	e.audioBuilder = NewRTPBuilder(RTPBuilderConfig{Codec: CodecUnknown, Filter: e.filter}, e.ssrcs.AudioSSRC, e.ssrcs.AudioPT, e.ssrcs.ClockRate)
}

// setCodec updates the video NALU codec once detected from a sequence
// header, rebuilding the video packetizer's config in place.
func (e *rtpEgress) setCodec(c Codec) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.codec == c {
		return
	}
	e.codec = c
	if e.videoBuilder != nil {
		e.videoBuilder.cfg.Codec = c
	}
}

// detectCodec inspects a video sequence header's Annex B NAL units to
// tell AVC from HEVC: an SPS (type 7) found via the AVC 1-byte header
// mask means AVC, an SPS (type 33) found via the HEVC 2-byte header
// mask means HEVC.
func detectCodec(payload []byte) Codec {
	for _, n := range demux.ParseAnnexB(payload) {
		if demux.IsSPS(n.Type) {
			return CodecAVC
		}
	}
	for _, n := range demux.ParseAnnexBHEVC(payload) {
		if demux.IsHEVCSPS(n.Type) {
			return CodecHEVC
		}
	}
	return CodecUnknown
}

// onFrame builds egress RTP for one media packet and hands it to sink.
// Sequence headers are not sent over RTP (SDP/out-of-band carries
// codec parameters); they only update codec detection.
func (e *rtpEgress) onFrame(pkt *packet.Packet, sink func(pkts []*rtp.Packet, audio bool)) {
	if pkt.IsVideo() && pkt.IsSequence {
		e.setCodec(detectCodec(pkt.Payload))
		return
	}

	e.mu.Lock()
	if e.videoBuilder == nil {
		e.resetLocked()
	}
	var builder *RTPBuilder
	audio := pkt.IsAudio()
	if audio {
		builder = e.audioBuilder
	} else {
		builder = e.videoBuilder
	}
	e.mu.Unlock()

	var pkts []*rtp.Packet
	if audio {
		// Audio is carried as one RTP packet per frame: no NALU framing
		// applies, and live-ingest audio frames are small enough to fit
		// under kRtpMaxPayloadSize in the overwhelming majority of
		// cases (AAC/Opus frame sizes are well under 1200 bytes).
		pkts = []*rtp.Packet{{Header: builder.header(true), Payload: pkt.Payload}}
	} else {
		pkts, _ = builder.Build(pkt)
	}
	if len(pkts) == 0 {
		return
	}
	if sink != nil {
		sink(pkts, audio)
	}
}
