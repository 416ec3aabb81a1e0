// Package metacache holds the current stream metadata and audio/video
// sequence headers, and primes newly joined consumers with them before
// any GOP packet is replayed. See spec.md §3/§4.4.
//
// AMF0/ASC/AVC-config encoding itself is an external collaborator (out of
// scope per spec.md §1) — this package depends only on the narrow
// MetadataCodec and FormatParser interfaces it actually consumes.
package metacache

import (
	"sync"

	"github.com/zsiec/originhub/internal/packet"
)

// MetadataCodec decodes/encodes the script/metadata packet's property bag.
// The concrete AMF0 implementation lives outside this module.
type MetadataCodec interface {
	Decode(payload []byte) (map[string]any, error)
	Encode(props map[string]any) ([]byte, error)
}

// AudioFormat is the parsed-format handle for the current audio sequence
// header, as exposed by the external codec-parsing collaborator.
type AudioFormat struct {
	CodecID    string // e.g. "aac", "mp3"
	SampleRate int
	Channels   int
}

// IsMP3 reports whether the audio format is MP3 — MP3 does not require a
// sequence header, so it is never emitted as one during priming.
func (f AudioFormat) IsMP3() bool { return f.CodecID == "mp3" }

// VideoFormat is the parsed-format handle for the current video sequence
// header.
type VideoFormat struct {
	CodecID string // e.g. "h264", "hevc"
	Profile string
	Width   int
	Height  int
}

// FormatParser extracts codec metadata from a raw sequence header payload.
// The concrete AAC/AVC/HEVC parsers live outside this module.
type FormatParser interface {
	ParseAudio(payload []byte) (AudioFormat, error)
	ParseVideo(payload []byte) (VideoFormat, error)
}

// Cache holds the three live slots (metadata, audio SH, video SH) plus
// their previous values for republish dedup.
type Cache struct {
	mu sync.Mutex

	metadata *packet.Packet
	audioSH  *packet.Packet
	videoSH  *packet.Packet

	prevAudioSH *packet.Packet
	prevVideoSH *packet.Packet

	audioFormat AudioFormat
	videoFormat VideoFormat

	parser FormatParser
}

// New creates a Cache. parser may be nil if format inspection isn't
// needed (e.g. in tests).
func New(parser FormatParser) *Cache {
	return &Cache{parser: parser}
}

// UpdateData decodes pkt's property bag via codec, removes "duration",
// injects "server"/"server_version", and re-encodes to a new owned
// packet which becomes the cached metadata. Reports whether the cache
// was updated.
func (c *Cache) UpdateData(codec MetadataCodec, pkt *packet.Packet, serverName, serverVersion string) (*packet.Packet, bool, error) {
	props, err := codec.Decode(pkt.Payload)
	if err != nil {
		return nil, false, err
	}

	delete(props, "duration")
	props["server"] = serverName
	props["server_version"] = serverVersion

	encoded, err := codec.Encode(props)
	if err != nil {
		return nil, false, err
	}

	np := &packet.Packet{
		Type:       packet.TypeScript,
		Timestamp:  pkt.Timestamp,
		StreamID:   pkt.StreamID,
		AVSyncTime: pkt.AVSyncTime,
		Payload:    encoded,
	}

	c.mu.Lock()
	c.metadata = np
	c.mu.Unlock()

	return np, true, nil
}

// UpdateASH replaces the current audio sequence header, moving the prior
// one into the "previous" slot for republish dedup, and feeds the format
// parser.
func (c *Cache) UpdateASH(pkt *packet.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prevAudioSH = c.audioSH
	c.audioSH = pkt.Copy()
	c.audioSH.IsSequence = true

	if c.parser != nil {
		af, err := c.parser.ParseAudio(pkt.Payload)
		if err != nil {
			return err
		}
		c.audioFormat = af
	}
	return nil
}

// UpdateVSH replaces the current video sequence header, moving the prior
// one into the "previous" slot, and feeds the format parser.
func (c *Cache) UpdateVSH(pkt *packet.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prevVideoSH = c.videoSH
	c.videoSH = pkt.Copy()
	c.videoSH.IsSequence = true

	if c.parser != nil {
		vf, err := c.parser.ParseVideo(pkt.Payload)
		if err != nil {
			return err
		}
		c.videoFormat = vf
	}
	return nil
}

// OnUnpublish copies the current sequence headers into the previous slots
// so that an identical republish can be detected and suppressed, per
// spec.md §4.8's on_unpublish ordering. The current metadata is left
// untouched (only the GOP cache is cleared on unpublish, not meta cache).
func (c *Cache) OnUnpublish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prevAudioSH = c.audioSH
	c.prevVideoSH = c.videoSH
}

// IsDuplicateASH reports whether pkt's payload matches the previous audio
// sequence header byte-for-byte, used by reduce_sequence_header dedup.
func (c *Cache) IsDuplicateASH(pkt *packet.Packet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return samePayload(c.prevAudioSH, pkt)
}

// IsDuplicateVSH reports whether pkt's payload matches the previous video
// sequence header byte-for-byte.
func (c *Cache) IsDuplicateVSH(pkt *packet.Packet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return samePayload(c.prevVideoSH, pkt)
}

func samePayload(prev, pkt *packet.Packet) bool {
	if prev == nil || pkt == nil {
		return false
	}
	if len(prev.Payload) != len(pkt.Payload) {
		return false
	}
	for i := range prev.Payload {
		if prev.Payload[i] != pkt.Payload[i] {
			return false
		}
	}
	return true
}

// Metadata returns the cached metadata packet, or nil.
func (c *Cache) Metadata() *packet.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata
}

// AudioSH returns the cached audio sequence header, or nil.
func (c *Cache) AudioSH() *packet.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioSH
}

// VideoSH returns the cached video sequence header, or nil.
func (c *Cache) VideoSH() *packet.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoSH
}

// AudioFormat returns the parsed audio format handle.
func (c *Cache) AudioFormat() AudioFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioFormat
}

// VideoFormat returns the parsed video format handle.
func (c *Cache) VideoFormat() VideoFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoFormat
}

// Dumps is the canonical "prime the consumer" call: metadata (if
// sendMetadata and present), then audio SH (if sendSH, present, and not
// MP3), then video SH (if sendSH and present) — in that exact order,
// emitted via sink before any GOP packet.
func (c *Cache) Dumps(sink func(*packet.Packet), sendMetadata, sendSH bool) {
	c.mu.Lock()
	metadata, audioSH, videoSH, audioFmt := c.metadata, c.audioSH, c.videoSH, c.audioFormat
	c.mu.Unlock()

	if sendMetadata && metadata != nil {
		sink(metadata)
	}
	if sendSH && audioSH != nil && !audioFmt.IsMP3() {
		sink(audioSH)
	}
	if sendSH && videoSH != nil {
		sink(videoSH)
	}
}

// Reset clears every slot, including the previous-SH republish-dedup
// slots, used when a source is fully reinitialized.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata = nil
	c.audioSH = nil
	c.videoSH = nil
	c.prevAudioSH = nil
	c.prevVideoSH = nil
	c.audioFormat = AudioFormat{}
	c.videoFormat = VideoFormat{}
}

// ResetForPublish clears the live metadata/SH slots for a fresh publish
// while keeping the previous-SH slots intact, so the first sequence
// header of the new publish can still be compared against the last
// publish's for reduce_sequence_header dedup (spec.md §4.8 on_publish).
func (c *Cache) ResetForPublish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata = nil
	c.audioSH = nil
	c.videoSH = nil
	c.audioFormat = AudioFormat{}
	c.videoFormat = VideoFormat{}
}

// PatchTimestamps overwrites the Timestamp field of every cached slot
// (metadata, audio SH, video SH) to ts. Used in atc mode so a consumer
// primed mid-GOP receives sequence headers timestamped at the GOP's
// start rather than their original capture time (spec.md §4.8).
func (c *Cache) PatchTimestamps(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metadata != nil {
		c.metadata.Timestamp = ts
	}
	if c.audioSH != nil {
		c.audioSH.Timestamp = ts
	}
	if c.videoSH != nil {
		c.videoSH.Timestamp = ts
	}
}
