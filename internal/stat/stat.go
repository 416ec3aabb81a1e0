package stat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/originhub/internal/source"
)

// Compile-time interface check.
var _ source.StatRecorder = (*Collector)(nil)

// VideoStats holds point-in-time video counters for one stream.
type VideoStats struct {
	Codec       string `json:"codec"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	TotalFrames int64  `json:"totalFrames"`
	KeyFrames   int64  `json:"keyFrames"`
	TotalBytes  int64  `json:"totalBytes"`
}

// AudioStats holds point-in-time audio counters for one stream.
type AudioStats struct {
	Codec       string `json:"codec"`
	SampleRate  int    `json:"sampleRate"`
	Channels    int    `json:"channels"`
	TotalFrames int64  `json:"totalFrames"`
	TotalBytes  int64  `json:"totalBytes"`
}

// StreamSnapshot is a point-in-time read of one stream's counters.
type StreamSnapshot struct {
	StreamURL   string     `json:"streamUrl"`
	PublishedAt time.Time  `json:"publishedAt"`
	Clients     int32      `json:"clients"`
	Video       VideoStats `json:"video"`
	Audio       AudioStats `json:"audio"`
}

// entry is one stream's live counters. Codec/dimension fields are
// protected by mu since they change rarely (once per sequence header);
// frame/byte/client counters use atomics since they update per-packet.
type entry struct {
	publishedAt time.Time
	clients     atomic.Int32

	videoFrames int64
	videoKeys   int64
	videoBytes  int64
	audioFrames int64
	audioBytes  int64

	mu          sync.Mutex
	videoCodec  string
	videoW      int
	videoH      int
	audioCodec  string
	sampleRate  int
	channels    int
}

// Collector aggregates per-stream statistics (spec.md §4.8/§4.9's "mark
// statistic"). The zero value is not usable; call New.
type Collector struct {
	mu      sync.RWMutex
	streams map[string]*entry
}

// New creates an empty Collector.
func New() *Collector {
	return &Collector{streams: make(map[string]*entry)}
}

// OnPublish implements internal/source.StatRecorder: it (re)creates a
// fresh, zeroed entry for streamURL.
func (c *Collector) OnPublish(streamURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[streamURL] = &entry{publishedAt: time.Now()}
}

// OnUnpublish implements internal/source.StatRecorder: the entry is
// dropped so a Snapshot after unpublish reports no such stream.
func (c *Collector) OnUnpublish(streamURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, streamURL)
}

// RecordVideoFrame records one video packet's size and keyframe flag.
func (c *Collector) RecordVideoFrame(streamURL string, bytes int64, isKeyframe bool) {
	e := c.get(streamURL)
	if e == nil {
		return
	}
	atomic.AddInt64(&e.videoFrames, 1)
	atomic.AddInt64(&e.videoBytes, bytes)
	if isKeyframe {
		atomic.AddInt64(&e.videoKeys, 1)
	}
}

// RecordAudioFrame records one audio packet's size.
func (c *Collector) RecordAudioFrame(streamURL string, bytes int64) {
	e := c.get(streamURL)
	if e == nil {
		return
	}
	atomic.AddInt64(&e.audioFrames, 1)
	atomic.AddInt64(&e.audioBytes, bytes)
}

// RecordVideoCodec sets the current video codec/dimensions, updated
// whenever a new video sequence header arrives.
func (c *Collector) RecordVideoCodec(streamURL, codec string, width, height int) {
	e := c.get(streamURL)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.videoCodec, e.videoW, e.videoH = codec, width, height
	e.mu.Unlock()
}

// RecordAudioCodec sets the current audio codec/sample rate/channels.
func (c *Collector) RecordAudioCodec(streamURL, codec string, sampleRate, channels int) {
	e := c.get(streamURL)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.audioCodec, e.sampleRate, e.channels = codec, sampleRate, channels
	e.mu.Unlock()
}

// OnConsumerJoin increments streamURL's connected-client count.
func (c *Collector) OnConsumerJoin(streamURL string) {
	if e := c.get(streamURL); e != nil {
		e.clients.Add(1)
	}
}

// OnConsumerLeave decrements streamURL's connected-client count.
func (c *Collector) OnConsumerLeave(streamURL string) {
	if e := c.get(streamURL); e != nil {
		e.clients.Add(-1)
	}
}

func (c *Collector) get(streamURL string) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streams[streamURL]
}

// Snapshot reads streamURL's current counters. ok is false if no such
// stream is currently published.
func (c *Collector) Snapshot(streamURL string) (snap StreamSnapshot, ok bool) {
	e := c.get(streamURL)
	if e == nil {
		return StreamSnapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return StreamSnapshot{
		StreamURL:   streamURL,
		PublishedAt: e.publishedAt,
		Clients:     e.clients.Load(),
		Video: VideoStats{
			Codec:       e.videoCodec,
			Width:       e.videoW,
			Height:      e.videoH,
			TotalFrames: atomic.LoadInt64(&e.videoFrames),
			KeyFrames:   atomic.LoadInt64(&e.videoKeys),
			TotalBytes:  atomic.LoadInt64(&e.videoBytes),
		},
		Audio: AudioStats{
			Codec:       e.audioCodec,
			SampleRate:  e.sampleRate,
			Channels:    e.channels,
			TotalFrames: atomic.LoadInt64(&e.audioFrames),
			TotalBytes:  atomic.LoadInt64(&e.audioBytes),
		},
	}, true
}

// Snapshots returns a snapshot of every currently published stream.
func (c *Collector) Snapshots() []StreamSnapshot {
	c.mu.RLock()
	urls := make([]string, 0, len(c.streams))
	for u := range c.streams {
		urls = append(urls, u)
	}
	c.mu.RUnlock()

	out := make([]StreamSnapshot, 0, len(urls))
	for _, u := range urls {
		if snap, ok := c.Snapshot(u); ok {
			out = append(out, snap)
		}
	}
	return out
}
