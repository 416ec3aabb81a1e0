// Package source implements the live source: the central orchestrator
// that accepts a single publisher's audio/video/metadata, updates the
// GOP and meta caches, fans out to consumers and the origin hub, and
// tracks the publish/idle lifecycle the registry reaper consults. See
// spec.md §4.8.
package source

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/originhub/internal/consumer"
	"github.com/zsiec/originhub/internal/gop"
	"github.com/zsiec/originhub/internal/hub"
	"github.com/zsiec/originhub/internal/metacache"
	"github.com/zsiec/originhub/internal/mixqueue"
	"github.com/zsiec/originhub/internal/packet"
)

// Bridge is the narrow capability a stream bridge (C13) exposes to the
// source: hand it a packet for cross-protocol conversion, and tell it
// when publishing starts/stops. The concrete RTMP/SRT/RTC bridges live
// in internal/bridge.
type Bridge interface {
	OnFrame(pkt *packet.Packet) error
	OnPublish()
	OnUnpublish()
}

// Handler receives publish/unpublish notifications for a source, e.g. an
// HTTP hooks client or an admin API. The concrete implementation is an
// external collaborator (spec.md §1).
type Handler interface {
	OnSourcePublish(s *Source)
	OnSourceUnpublish(s *Source)
}

// StatRecorder marks per-stream statistics. The concrete implementation
// is an external collaborator (spec.md §1).
type StatRecorder interface {
	OnPublish(streamURL string)
	OnUnpublish(streamURL string)
	RecordVideoFrame(streamURL string, bytes int64, isKeyframe bool)
	RecordAudioFrame(streamURL string, bytes int64)
	RecordVideoCodec(streamURL, codec string, width, height int)
	RecordAudioCodec(streamURL, codec string, sampleRate, channels int)
	OnConsumerJoin(streamURL string)
	OnConsumerLeave(streamURL string)
}

var nextSourceSeq int64

func newSourceID(streamURL string) string {
	n := atomic.AddInt64(&nextSourceSeq, 1)
	return streamURL + "#" + time.Now().UTC().Format("20060102T150405") + "-" + strconv.FormatInt(n, 10)
}

// Config carries the per-vhost knobs spec.md §6 names that this source
// acts on directly (the rest — DVR plan, edge origins, hooks URLs — are
// consumed by the components built on top of a Source).
type Config struct {
	MixCorrect           bool
	ATC                  bool
	ATCAuto              bool
	ReduceSequenceHeader bool
	ServerName           string
	ServerVersion        string
	MixQueueMaxSize      int
}

// Source is the per-stream orchestrator described in spec.md §4.8.
type Source struct {
	log       *slog.Logger
	streamURL string
	cfg       Config

	metaCodec metacache.MetadataCodec
	meta      *metacache.Cache
	gopCache  *gop.Cache

	mixMu sync.Mutex
	mix   *mixqueue.Queue // nil unless cfg.MixCorrect

	hub     *hub.Hub // nil for edge vhosts
	bridge  Bridge
	handler Handler
	stat    StatRecorder

	consumersMu sync.Mutex
	consumers   map[string]*consumer.Consumer

	mu                sync.Mutex
	canPublish        bool
	atc               bool // may be flipped live by atc_auto + bravo_atc
	id, previousID    string
	dieAt             time.Time
	lastAudioTS       int64
	lastVideoTS       int64
	haveLastAudioTS   bool
	haveLastVideoTS   bool
	monotonicIncrease bool
}

// New creates a Source. hub may be nil for an edge vhost (spec.md §4.8).
func New(streamURL string, cfg Config, parser metacache.FormatParser, metaCodec metacache.MetadataCodec, h *hub.Hub, bridge Bridge, handler Handler, stat StatRecorder, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	s := &Source{
		log:        log.With("component", "source", "stream", streamURL),
		streamURL:  streamURL,
		cfg:        cfg,
		metaCodec:  metaCodec,
		meta:       metacache.New(parser),
		gopCache:   gop.New(true, 0),
		hub:        h,
		bridge:     bridge,
		handler:    handler,
		stat:       stat,
		consumers:  make(map[string]*consumer.Consumer),
		canPublish: true,
		atc:        cfg.ATC,
		dieAt:      time.Now(),
	}
	if cfg.MixCorrect {
		s.mix = mixqueue.New(cfg.MixQueueMaxSize)
	}
	if h != nil {
		h.SetSequenceHeaderSource(func() (meta, audioSH, videoSH *packet.Packet) {
			return s.meta.Metadata(), s.meta.AudioSH(), s.meta.VideoSH()
		})
	}
	return s
}

// ID returns the current publish session's id, or "" if never published.
func (s *Source) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// PreviousID returns the id of the prior publish session.
func (s *Source) PreviousID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previousID
}

// CanPublish reports whether a new publisher may attach (spec.md §4.11).
func (s *Source) CanPublish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canPublish
}

// OnPublish starts a publish session. It is idempotent on an
// already-published source (no-op, returns nil), per spec.md §8's
// round-trip property.
func (s *Source) OnPublish() error {
	s.mu.Lock()
	if !s.canPublish {
		s.mu.Unlock()
		return nil
	}
	s.canPublish = false
	s.previousID = s.id
	s.id = newSourceID(s.streamURL)
	s.atc = s.cfg.ATC
	s.monotonicIncrease = true
	s.haveLastAudioTS = false
	s.haveLastVideoTS = false
	s.mu.Unlock()

	if s.cfg.MixCorrect {
		s.mixMu.Lock()
		s.mix = mixqueue.New(s.cfg.MixQueueMaxSize)
		s.mixMu.Unlock()
	}
	s.meta.ResetForPublish()

	if s.hub != nil {
		s.hub.OnPublish()
	}
	if s.handler != nil {
		s.handler.OnSourcePublish(s)
	}
	if s.bridge != nil {
		s.bridge.OnPublish()
	}
	if s.stat != nil {
		s.stat.OnPublish(s.streamURL)
	}
	return nil
}

// OnUnpublish ends the current publish session. can_publish is set true
// LAST: handlers notified earlier in this sequence may yield, and a
// racing republish must not be admitted until they finish (spec.md §4.8,
// §9).
func (s *Source) OnUnpublish() {
	if s.hub != nil {
		s.hub.OnUnpublish()
	}
	s.gopCache.Clear()
	s.meta.OnUnpublish()
	if s.stat != nil {
		s.stat.OnUnpublish(s.streamURL)
	}
	if s.handler != nil {
		s.handler.OnSourceUnpublish(s)
	}
	if s.bridge != nil {
		s.bridge.OnUnpublish()
	}

	s.mu.Lock()
	s.dieAt = time.Now()
	s.canPublish = true
	s.mu.Unlock()
}

// checkMonotonic is a warn-only detector: it never rejects a packet, it
// only flips monotonicIncrease and logs once per regression.
func (s *Source) checkMonotonic(pkt *packet.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case pkt.IsAudio():
		if s.haveLastAudioTS && pkt.Timestamp < s.lastAudioTS && s.monotonicIncrease {
			s.monotonicIncrease = false
			s.log.Warn("audio timestamp regression detected", "previous", s.lastAudioTS, "got", pkt.Timestamp)
		}
		s.lastAudioTS = pkt.Timestamp
		s.haveLastAudioTS = true
	case pkt.IsVideo():
		if s.haveLastVideoTS && pkt.Timestamp < s.lastVideoTS && s.monotonicIncrease {
			s.monotonicIncrease = false
			s.log.Warn("video timestamp regression detected", "previous", s.lastVideoTS, "got", pkt.Timestamp)
		}
		s.lastVideoTS = pkt.Timestamp
		s.haveLastVideoTS = true
	}
}

// OnAudio is the publisher's audio driver surface (spec.md §4.8 step 1-3).
func (s *Source) OnAudio(pkt *packet.Packet) error {
	return s.dispatch(pkt, s.onAudioImp)
}

// OnVideo is the publisher's video driver surface.
func (s *Source) OnVideo(pkt *packet.Packet) error {
	return s.dispatch(pkt, s.onVideoImp)
}

func (s *Source) dispatch(pkt *packet.Packet, onImp func(*packet.Packet) error) error {
	s.checkMonotonic(pkt)

	if !s.cfg.MixCorrect {
		return onImp(pkt)
	}

	s.mixMu.Lock()
	s.mix.Push(pkt.Copy())
	for {
		popped, ok := s.mix.Pop()
		if !ok {
			break
		}
		s.mixMu.Unlock()
		var err error
		if popped.IsAudio() {
			err = s.onAudioImp(popped)
		} else {
			err = s.onVideoImp(popped)
		}
		if err != nil {
			return err
		}
		s.mixMu.Lock()
	}
	s.mixMu.Unlock()
	return nil
}

func (s *Source) onAudioImp(pkt *packet.Packet) error {
	if pkt.IsSequence {
		if s.cfg.ReduceSequenceHeader && s.meta.IsDuplicateASH(pkt) {
			return nil
		}
		if err := s.meta.UpdateASH(pkt); err != nil {
			return err
		}
	}

	if s.hub != nil {
		if err := s.hub.OnAudio(pkt); err != nil {
			return err
		}
	}
	if s.bridge != nil {
		if err := s.bridge.OnFrame(pkt); err != nil {
			s.log.Warn("bridge rejected audio packet", "error", err)
		}
	}
	if s.stat != nil {
		if pkt.IsSequence {
			af := s.meta.AudioFormat()
			s.stat.RecordAudioCodec(s.streamURL, af.CodecID, af.SampleRate, af.Channels)
		}
		s.stat.RecordAudioFrame(s.streamURL, int64(pkt.Size()))
	}

	s.fanOutToConsumers(pkt)
	s.gopCache.Cache(pkt, gop.CodecUnknown)

	if s.isATC() {
		s.meta.PatchTimestamps(pkt.Timestamp)
	}
	return nil
}

func (s *Source) onVideoImp(pkt *packet.Packet) error {
	if pkt.IsSequence {
		if s.cfg.ReduceSequenceHeader && s.meta.IsDuplicateVSH(pkt) {
			return nil
		}
		if err := s.meta.UpdateVSH(pkt); err != nil {
			return err
		}
	}

	codec := codecFromID(s.meta.VideoFormat().CodecID)
	if codec != gop.CodecH264 && codec != gop.CodecHEVC {
		// Non-codec-OK video is dropped entirely: it cannot be cached,
		// muxed, or bridged without a recognised sequence header.
		return nil
	}

	if s.hub != nil {
		if err := s.hub.OnVideo(pkt); err != nil {
			return err
		}
	}
	if s.bridge != nil {
		if err := s.bridge.OnFrame(pkt); err != nil {
			s.log.Warn("bridge rejected video packet", "error", err)
		}
	}
	if s.stat != nil {
		if pkt.IsSequence {
			vf := s.meta.VideoFormat()
			s.stat.RecordVideoCodec(s.streamURL, vf.CodecID, vf.Width, vf.Height)
		}
		s.stat.RecordVideoFrame(s.streamURL, int64(pkt.Size()), pkt.IsKeyframe)
	}

	s.fanOutToConsumers(pkt)
	s.gopCache.Cache(pkt, codec)

	if s.isATC() {
		s.meta.PatchTimestamps(pkt.Timestamp)
	}
	return nil
}

func codecFromID(id string) gop.Codec {
	switch id {
	case "h264":
		return gop.CodecH264
	case "hevc", "h265":
		return gop.CodecHEVC
	default:
		return gop.CodecUnknown
	}
}

// OnMetaData is the publisher's metadata driver surface. It re-encodes
// the metadata via the codec collaborator, optionally auto-enables atc
// mode from the bravo_atc property, fans out to consumers, then to the
// hub (spec.md §4.8 step 4).
func (s *Source) OnMetaData(pkt *packet.Packet) error {
	if s.metaCodec == nil {
		return nil
	}

	if s.cfg.ATCAuto {
		if props, err := s.metaCodec.Decode(pkt.Payload); err == nil {
			if v, _ := props["bravo_atc"].(bool); v {
				s.mu.Lock()
				s.atc = true
				s.mu.Unlock()
			}
		}
	}

	np, updated, err := s.meta.UpdateData(s.metaCodec, pkt, s.cfg.ServerName, s.cfg.ServerVersion)
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	s.fanOutToConsumers(np)
	if s.hub != nil {
		return s.hub.OnMetaData(np)
	}
	return nil
}

func (s *Source) isATC() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atc
}

func (s *Source) fanOutToConsumers(pkt *packet.Packet) {
	atc := s.isATC()
	s.consumersMu.Lock()
	defer s.consumersMu.Unlock()
	for _, c := range s.consumers {
		c.Enqueue(pkt, atc)
	}
}

// Join registers a consumer and primes it via ConsumerDumps with the
// given flags, matching the order a client attaches to a live stream.
func (s *Source) Join(c *consumer.Consumer, sendSH, sendMetadata, sendGOP bool) {
	s.consumersMu.Lock()
	s.consumers[c.ID()] = c
	s.consumersMu.Unlock()
	if s.stat != nil {
		s.stat.OnConsumerJoin(s.streamURL)
	}
	s.ConsumerDumps(c, sendSH, sendMetadata, sendGOP)
}

// ConsumerDumps primes a newly joined consumer: in atc mode, if the GOP
// cache holds content, the metadata/SH timestamps are first patched to
// the GOP's start; then metadata, audio SH, video SH, and the cached GOP
// are emitted, in that exact order, before any live packet (spec.md §4.8,
// §4.4, invariant 6 / E4).
func (s *Source) ConsumerDumps(c *consumer.Consumer, sendSH, sendMetadata, sendGOP bool) {
	atc := s.isATC()

	if atc {
		if ts, ok := s.gopCache.StartTimestamp(); ok {
			s.meta.PatchTimestamps(ts)
		}
	}

	s.meta.Dumps(func(p *packet.Packet) { c.Enqueue(p, atc) }, sendMetadata, sendSH)

	if sendGOP {
		s.gopCache.Dump(func(p *packet.Packet) { c.Enqueue(p, atc) })
	}
}

// OnConsumerDestroy implements consumer.DestroyNotifier: it unlinks the
// consumer and, if it was the last one, marks the idle clock so the
// registry reaper's grace period starts counting (spec.md §4.8's
// stream_is_dead, §9's back-reference capability).
func (s *Source) OnConsumerDestroy(c *consumer.Consumer) {
	s.consumersMu.Lock()
	delete(s.consumers, c.ID())
	empty := len(s.consumers) == 0
	s.consumersMu.Unlock()

	if s.stat != nil {
		s.stat.OnConsumerLeave(s.streamURL)
	}

	if empty && !s.CanPublish() {
		return // still publishing; dieAt only matters once both are idle
	}
	if empty {
		s.mu.Lock()
		s.dieAt = time.Now()
		s.mu.Unlock()
	}
}

// ConsumerCount returns the number of attached consumers.
func (s *Source) ConsumerCount() int {
	s.consumersMu.Lock()
	defer s.consumersMu.Unlock()
	return len(s.consumers)
}

// StreamURL returns the canonical stream key this source was created for.
func (s *Source) StreamURL() string { return s.streamURL }

// Meta returns the source's metadata cache, letting callers outside this
// package (e.g. a DVR plan's FormatSource) read the current audio/video
// format without this package knowing about DVR.
func (s *Source) Meta() *metacache.Cache { return s.meta }

// Initialize performs any post-construction setup that does not need the
// registry's creation lock held. It never blocks (spec.md §4.8's
// registry contract) — the registry still releases its lock before
// calling it, as a general discipline rather than because this
// implementation needs to yield.
func (s *Source) Initialize() error { return nil }

// Cycle runs periodic per-source bookkeeping driven by the registry
// reaper (spec.md §4.9's "call cycle() on each source ... lets hub drive
// periodic HLS flush, etc.").
func (s *Source) Cycle() {
	if s.hub != nil {
		s.hub.Cycle()
	}
}

// Dispose releases cached state for a graceful process shutdown while
// keeping the Source alive for reuse (spec.md §4.9's registry.dispose()).
func (s *Source) Dispose() {
	s.gopCache.Clear()
	s.meta.Reset()
}

// StreamIsDead reports whether the registry reaper may reclaim this
// source: no publisher, no consumers, at least 3s since both went idle,
// and at least hub.CleanupDelay() since then too (spec.md §4.8, invariant
// 7).
func (s *Source) StreamIsDead() bool {
	if !s.CanPublish() {
		return false
	}
	if s.ConsumerCount() > 0 {
		return false
	}

	s.mu.Lock()
	dieAt := s.dieAt
	s.mu.Unlock()

	idleFor := time.Since(dieAt)
	if idleFor < 3*time.Second {
		return false
	}
	if s.hub != nil && idleFor < s.hub.CleanupDelay() {
		return false
	}
	return true
}
