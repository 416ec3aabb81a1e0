package rtc

import (
	"log/slog"

	"github.com/pion/rtp"

	"github.com/zsiec/originhub/internal/packet"
)

// reorderWindow bounds the audio cache's out-of-order tolerance
// (spec.md §9 open question: the original leaves this unbounded).
const reorderWindow = 64

// aacSampleRateTable maps a sample rate in Hz to its MPEG-4 Audio
// Specific Config sampling_frequency_index (ISO/IEC 14496-3 Table 1.16).
var aacSampleRateTable = map[uint32]byte{
	96000: 0, 88200: 1, 64000: 2, 48000: 3, 44100: 4, 32000: 5,
	24000: 6, 22050: 7, 16000: 8, 12000: 9, 11025: 10, 8000: 11, 7350: 12,
}

// aacAudioSpecificConfig builds a 2-byte AAC-LC AudioSpecificConfig,
// the sequence-header payload RTMP/FLV/HLS consumers need to set up an
// AAC decoder (ISO/IEC 14496-3 §1.6.2.1).
func aacAudioSpecificConfig(sampleRate uint32, channels uint8) []byte {
	freqIdx, ok := aacSampleRateTable[sampleRate]
	if !ok {
		freqIdx = 4 // 44.1kHz fallback
	}
	const audioObjectTypeAACLC = 2
	b0 := (audioObjectTypeAACLC << 3) | (freqIdx >> 1)
	b1 := (freqIdx << 7) | (channels << 3)
	return []byte{b0, b1}
}

// AudioBuilder reassembles inbound RTP audio packets into media packets
// (spec.md §4.13's packet_audio / transcode_audio). One instance serves
// one SSRC/track; it is not safe for concurrent use.
type AudioBuilder struct {
	log *slog.Logger

	sampleRate uint32
	channels   uint8

	sync syncState

	haveNext bool
	nextSeq  uint16
	pending  map[uint16]*rtp.Packet

	sentHeader bool
}

// NewAudioBuilder creates a builder for one audio track. sampleRate and
// channels describe the codec format negotiated for this track (from
// SDP/WHIP offer), used only to synthesize the AAC sequence header.
func NewAudioBuilder(sampleRate uint32, channels uint8, log *slog.Logger) *AudioBuilder {
	if log == nil {
		log = slog.Default()
	}
	return &AudioBuilder{
		log:        log.With("component", "rtc", "track", "audio"),
		sampleRate: sampleRate,
		channels:   channels,
		sync:       syncUnknown,
		pending:    make(map[uint16]*rtp.Packet),
	}
}

// OnRTP implements bridge.FrameBuilder for the audio track.
func (b *AudioBuilder) OnRTP(pkt *rtp.Packet, avsyncTime int64) []*packet.Packet {
	if pkt == nil || len(pkt.Payload) == 0 {
		return nil
	}

	b.sync = advance(b.sync, avsyncTime, b.log, "audio")
	if b.sync == syncNone {
		return nil
	}

	return b.packetAudio(pkt, avsyncTime)
}

// packetAudio buffers pkt by RTP sequence number, tolerating
// out-of-order arrival while discarding duplicates and late arrivals,
// then releases every now-contiguous packet to transcodeAudio.
func (b *AudioBuilder) packetAudio(pkt *rtp.Packet, avsyncTime int64) []*packet.Packet {
	seq := pkt.SequenceNumber
	if !b.haveNext {
		b.haveNext = true
		b.nextSeq = seq
	}

	if seqLess(seq, b.nextSeq) {
		return nil // duplicate or late, drop
	}
	if int(seqDistance(seq, b.nextSeq)) >= reorderWindow {
		// Gap too large to ever close: resynchronize on this packet
		// rather than holding the window open forever.
		b.pending = make(map[uint16]*rtp.Packet)
		b.nextSeq = seq
	}
	b.pending[seq] = pkt

	var out []*packet.Packet
	for {
		next, ok := b.pending[b.nextSeq]
		if !ok {
			break
		}
		delete(b.pending, b.nextSeq)
		b.nextSeq++
		out = append(out, b.transcodeAudio(next, avsyncTime)...)
	}
	return out
}

// transcodeAudio wraps each released RTP payload as an AAC media
// packet, emitting the codec header once before the first frame
// (spec.md §4.13). Real transcoding (e.g. Opus to AAC) is an external
// collaborator's job (§1); when the RTP payload is already AAC this is
// a direct passthrough.
func (b *AudioBuilder) transcodeAudio(pkt *rtp.Packet, avsyncTime int64) []*packet.Packet {
	var out []*packet.Packet
	if !b.sentHeader {
		out = append(out, &packet.Packet{
			Payload:    aacAudioSpecificConfig(b.sampleRate, b.channels),
			Type:       packet.TypeAudio,
			Timestamp:  avsyncTime,
			AVSyncTime: avsyncTime,
			IsSequence: true,
		})
		b.sentHeader = true
	}
	out = append(out, &packet.Packet{
		Payload:    pkt.Payload,
		Type:       packet.TypeAudio,
		Timestamp:  avsyncTime,
		AVSyncTime: avsyncTime,
	})
	return out
}

// seqLess reports whether a comes strictly before b under RFC 3550
// serial-number arithmetic (16-bit wraparound).
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}

// seqDistance returns the forward distance from b to a (a-b as int16),
// used to bound the reorder window regardless of wraparound.
func seqDistance(a, b uint16) int16 {
	return int16(a - b)
}
