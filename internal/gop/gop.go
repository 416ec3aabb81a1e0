// Package gop implements the GOP (group of pictures) cache that lets
// late-joining consumers begin decoding from the next keyframe instead of
// waiting for a live one. See spec.md §3/§4.3.
package gop

import (
	"sync"

	"github.com/zsiec/originhub/internal/packet"
)

// maxPureAudioRun is the number of consecutive pure-audio packets (no
// video seen yet) tolerated before the cache gives up waiting for a
// keyframe and flushes.
const maxPureAudioRun = 115

// Codec identifies a video codec for the purpose of cache admission.
type Codec int

// Supported video codecs. Anything else is rejected from the cache.
const (
	CodecUnknown Codec = iota
	CodecH264
	CodecHEVC
)

// Cache holds packets since the last video keyframe so a newly joined
// consumer can be primed with a full, decodable GOP.
type Cache struct {
	mu            sync.Mutex
	enabled       bool
	maxFrames     int // 0 = unlimited
	items         []*packet.Packet
	videoCount    int
	pureAudioRun  int
}

// New creates a Cache. maxFrames of 0 means unlimited frame count.
func New(enabled bool, maxFrames int) *Cache {
	return &Cache{enabled: enabled, maxFrames: maxFrames}
}

// SetEnabled toggles caching; disabling also clears any cached content.
func (c *Cache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.resetLocked()
	}
}

// Clear empties the cache, e.g. on unpublish.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Cache) resetLocked() {
	c.items = nil
	c.videoCount = 0
	c.pureAudioRun = 0
}

// Cache decides whether pkt should be admitted to the GOP cache,
// following the ordered rule list in spec.md §4.3. videoCodec is only
// consulted for video packets.
func (c *Cache) Cache(pkt *packet.Packet, videoCodec Codec) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	if pkt.IsVideo() {
		if videoCodec != CodecH264 && videoCodec != CodecHEVC {
			return
		}

		c.videoCount++
		c.pureAudioRun = 0

		if pkt.IsKeyframe {
			c.resetLocked()
			c.videoCount = 1
		}

		c.items = append(c.items, pkt.Copy())

		if c.maxFrames > 0 && len(c.items) > c.maxFrames {
			c.resetLocked()
		}
		return
	}

	if pkt.IsAudio() {
		c.pureAudioRun++
		if c.pureAudioRun > maxPureAudioRun {
			c.resetLocked()
			return
		}

		if c.videoCount == 0 {
			// Pure audio before any video keyframe: don't cache.
			return
		}
		c.items = append(c.items, pkt.Copy())
		return
	}

	// Script/metadata packets are not cached here; they live in the meta
	// cache (spec.md §4.4).
}

// Dump replays every cached packet, in order, to sink.
func (c *Cache) Dump(sink func(*packet.Packet)) {
	c.mu.Lock()
	items := make([]*packet.Packet, len(c.items))
	copy(items, c.items)
	c.mu.Unlock()

	for _, p := range items {
		sink(p)
	}
}

// Len returns the number of packets currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Empty reports whether the cache holds no packets.
func (c *Cache) Empty() bool {
	return c.Len() == 0
}

// StartTimestamp returns the timestamp of the first cached packet (the
// keyframe the GOP began at) and true, or 0 and false if the cache is
// empty. Used by atc-mode consumer priming to retimestamp the metadata
// and sequence headers to the GOP's start instead of their stale capture
// time (spec.md §4.8 consumer_dumps).
func (c *Cache) StartTimestamp() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return 0, false
	}
	return c.items[0].Timestamp, true
}
