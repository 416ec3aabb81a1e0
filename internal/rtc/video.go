package rtc

import (
	"bytes"
	"log/slog"

	"github.com/pion/rtp"

	"github.com/zsiec/originhub/internal/demux"
	"github.com/zsiec/originhub/internal/packet"
)

// Codec selects which NAL unit grammar a VideoBuilder interprets RTP
// payloads and sequence-header parts with.
type Codec int

const (
	CodecAVC Codec = iota
	CodecHEVC
)

var annexBStartCode = []byte{0, 0, 0, 1}

// VideoBuilder reassembles inbound RTP video packets into media packets
// (spec.md §4.13's packet_video / packet_video_key_frame /
// packet_video_rtmp). One instance serves one SSRC/track; it is not
// safe for concurrent use. Media packet payloads are Annex B bitstreams
// (start-code-prefixed NAL units), matching the format every other
// video-carrying component in this module already uses.
type VideoBuilder struct {
	log   *slog.Logger
	codec Codec

	sync syncState

	fuBuf []byte // in-flight FU-A/FU fragment reassembly buffer

	// Sequence header cache: OBS-WHIP style senders deliver SPS/PPS(/VPS)
	// as separate RTP packets rather than aggregated; the builder holds
	// each as it arrives and only emits once the codec's full set is
	// present.
	sps, pps, vps []byte
	lastHeader    []byte // last emitted header payload, for dedup

	haveCurTS    bool
	curTimestamp uint32
	curAVSync    int64
	curNALUs     [][]byte
	curHasIDR    bool
}

// NewVideoBuilder creates a builder for one video track.
func NewVideoBuilder(codec Codec, log *slog.Logger) *VideoBuilder {
	if log == nil {
		log = slog.Default()
	}
	return &VideoBuilder{log: log.With("component", "rtc", "track", "video"), codec: codec, sync: syncUnknown}
}

// OnRTP implements bridge.FrameBuilder for the video track.
func (b *VideoBuilder) OnRTP(pkt *rtp.Packet, avsyncTime int64) []*packet.Packet {
	if pkt == nil || len(pkt.Payload) == 0 {
		return nil
	}

	b.sync = advance(b.sync, avsyncTime, b.log, "video")
	if b.sync == syncNone {
		return nil
	}

	var nalus [][]byte
	if b.codec == CodecHEVC {
		nalus = b.extractHEVCNALUs(pkt.Payload)
	} else {
		nalus = b.extractAVCNALUs(pkt.Payload)
	}

	var out []*packet.Packet
	if b.haveCurTS && pkt.Timestamp != b.curTimestamp && len(b.curNALUs) > 0 {
		// A new RTP timestamp arrived without ever seeing a marker bit on
		// the prior one: the frame detector treats that as the frame
		// boundary too, rather than holding packets indefinitely.
		out = append(out, b.packetVideoRTMP())
	}
	b.curTimestamp = pkt.Timestamp
	b.haveCurTS = true
	b.curAVSync = avsyncTime

	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		if hdr, isHeader := b.cacheSequenceHeaderNALU(n); isHeader {
			if hdr != nil {
				out = append(out, hdr)
			}
			continue
		}
		b.curNALUs = append(b.curNALUs, n)
		if b.isKeyframeNALU(n) {
			b.curHasIDR = true
		}
	}

	if pkt.Marker && len(b.curNALUs) > 0 {
		out = append(out, b.packetVideoRTMP())
	}
	return out
}

// cacheSequenceHeaderNALU updates the SPS/PPS/VPS cache from n if it is
// a sequence-header NALU, returning the combined sequence-header media
// packet when the codec's full set just became available and differs
// from the last one emitted. isHeader reports whether n was consumed as
// a sequence-header part (and so must not join the frame bitstream).
func (b *VideoBuilder) cacheSequenceHeaderNALU(n []byte) (*packet.Packet, bool) {
	nalType := b.nalType(n)
	switch {
	case b.codec == CodecAVC && demux.IsSPS(nalType):
		b.sps = append([]byte(nil), n...)
	case b.codec == CodecAVC && demux.IsPPS(nalType):
		b.pps = append([]byte(nil), n...)
	case b.codec == CodecHEVC && demux.IsHEVCSPS(nalType):
		b.sps = append([]byte(nil), n...)
	case b.codec == CodecHEVC && demux.IsHEVCPPS(nalType):
		b.pps = append([]byte(nil), n...)
	case b.codec == CodecHEVC && demux.IsHEVCVPS(nalType):
		b.vps = append([]byte(nil), n...)
	default:
		return nil, false
	}

	if b.sps == nil || b.pps == nil || (b.codec == CodecHEVC && b.vps == nil) {
		return nil, true
	}

	var parts [][]byte
	if b.codec == CodecHEVC {
		parts = [][]byte{b.vps, b.sps, b.pps}
	} else {
		parts = [][]byte{b.sps, b.pps}
	}
	payload := annexBJoin(parts)
	if bytes.Equal(payload, b.lastHeader) {
		return nil, true
	}
	b.lastHeader = payload

	return &packet.Packet{
		Payload:    payload,
		Type:       packet.TypeVideo,
		Timestamp:  b.curAVSync,
		AVSyncTime: b.curAVSync,
		IsSequence: true,
	}, true
}

// packetVideoRTMP reassembles the buffered frame's NAL units into one
// Annex B media packet and resets the frame accumulator.
func (b *VideoBuilder) packetVideoRTMP() *packet.Packet {
	pkt := &packet.Packet{
		Payload:    annexBJoin(b.curNALUs),
		Type:       packet.TypeVideo,
		Timestamp:  b.curAVSync,
		AVSyncTime: b.curAVSync,
		IsKeyframe: b.curHasIDR,
	}
	b.curNALUs = nil
	b.curHasIDR = false
	return pkt
}

func (b *VideoBuilder) nalType(n []byte) byte {
	if len(n) == 0 {
		return 0
	}
	if b.codec == CodecHEVC {
		return demux.HEVCNALType(n[0])
	}
	return n[0] & 0x1F
}

func (b *VideoBuilder) isKeyframeNALU(n []byte) bool {
	nalType := b.nalType(n)
	if b.codec == CodecHEVC {
		return demux.IsHEVCKeyframe(nalType)
	}
	return demux.IsKeyframe(nalType)
}

// annexBJoin concatenates NAL units with 4-byte Annex B start codes.
func annexBJoin(nalus [][]byte) []byte {
	size := 0
	for _, n := range nalus {
		size += len(annexBStartCode) + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		out = append(out, annexBStartCode...)
		out = append(out, n...)
	}
	return out
}
