// Package hub implements the origin hub: it broadcasts publisher packets
// to side-effect sinks (DVR, HLS, DASH, forwarders) with a per-sink error
// policy, independent of the live consumer fan-out path. See spec.md
// §4.7.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/originhub/internal/packet"
)

// Sink is a side-effect consumer of publisher packets (DVR, HLS, DASH,
// a forwarder, or an optional encoder/HDS/ng-exec process).
type Sink interface {
	Name() string
	OnMetaData(pkt *packet.Packet) error
	OnAudio(pkt *packet.Packet) error
	OnVideo(pkt *packet.Packet) error
	OnPublish() error
	OnUnpublish()
}

// Policy selects how a sink's audio/video errors are handled.
type Policy int

const (
	// PolicySoft silences the error, logs a warning, and unpublishes just
	// that sink — used by DASH/DVR/HDS (always non-fatal, spec.md §4.7).
	PolicySoft Policy = iota
	// PolicyFatal propagates the error so the publisher connection is
	// torn down — used by forwarders (a forwarding target is a contract).
	PolicyFatal
	// PolicyHLSConfigurable applies the hls_on_error config knob
	// (ignore/continue/disconnect).
	PolicyHLSConfigurable
)

// HLSErrorMode is the hls_on_error vhost config value (spec.md §6).
type HLSErrorMode int

// Supported hls_on_error values.
const (
	HLSErrorIgnore HLSErrorMode = iota
	HLSErrorContinue
	HLSErrorDisconnect
)

// LooksLikeSequenceHeader is supplied by the caller (the format parser is
// an external collaborator) to classify an offending packet under the
// "continue" HLS error policy: continue silences only when the packet
// looks like a mislabelled sequence header.
type LooksLikeSequenceHeader func(pkt *packet.Packet) bool

// SequenceHeaderSource supplies the source's currently cached metadata and
// audio/video sequence header packets (nil where none has arrived yet),
// so a sink reopening a file mid-stream can have them re-fed directly
// instead of waiting for the publisher to repeat them (spec.md §4.15's
// on_dvr_request_sh).
type SequenceHeaderSource func() (meta, audioSH, videoSH *packet.Packet)

// DVRReseeder is the optional capability a sink implements to receive a
// direct replay of cached sequence headers via RequestDVRSeqHeaders.
type DVRReseeder interface {
	Sink
	ReseedSequenceHeaders(meta, audioSH, videoSH *packet.Packet)
}

type registration struct {
	sink   Sink
	policy Policy
	active bool
}

// Hub composes side-effect sinks and dispatches publisher events to them.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	sinks []*registration

	hlsErrorMode HLSErrorMode
	looksLikeSH  LooksLikeSequenceHeader
	shSource     SequenceHeaderSource

	cleanupDelay time.Duration
}

// New creates an empty Hub. If log is nil, slog.Default() is used.
func New(hlsErrorMode HLSErrorMode, looksLikeSH LooksLikeSequenceHeader, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:          log.With("component", "hub"),
		hlsErrorMode: hlsErrorMode,
		looksLikeSH:  looksLikeSH,
	}
}

// SetSequenceHeaderSource wires the source's cache lookup used by
// RequestDVRSeqHeaders. Called once during source construction.
func (h *Hub) SetSequenceHeaderSource(src SequenceHeaderSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shSource = src
}

// RequestDVRSeqHeaders re-feeds the source's cached metadata and
// audio/video sequence headers directly into sink, for a DVR plan that
// just opened a fresh segment file and needs it primed without waiting
// for the publisher to repeat them (spec.md §4.15).
func (h *Hub) RequestDVRSeqHeaders(sink Sink) {
	h.mu.Lock()
	src := h.shSource
	h.mu.Unlock()
	if src == nil {
		return
	}
	reseeder, ok := sink.(DVRReseeder)
	if !ok {
		return
	}
	meta, audioSH, videoSH := src()
	reseeder.ReseedSequenceHeaders(meta, audioSH, videoSH)
}

// AddSink registers a sink under the given error policy.
func (h *Hub) AddSink(sink Sink, policy Policy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, &registration{sink: sink, policy: policy, active: true})
}

// CleanupDelay returns how long the registry reaper should wait after a
// source goes idle before reclaiming it, giving async sinks (an HLS
// segment flush, an in-flight DVR close) time to finish. Defaults to 0.
func (h *Hub) CleanupDelay() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cleanupDelay
}

// SetCleanupDelay configures CleanupDelay.
func (h *Hub) SetCleanupDelay(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanupDelay = d
}

// RemoveSink unregisters a sink by name.
func (h *Hub) RemoveSink(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, r := range h.sinks {
		if r.sink.Name() == name {
			h.sinks = append(h.sinks[:i], h.sinks[i+1:]...)
			return
		}
	}
}

func (h *Hub) activeSinks() []*registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*registration, 0, len(h.sinks))
	for _, r := range h.sinks {
		if r.active {
			out = append(out, r)
		}
	}
	return out
}

func (h *Hub) deactivate(r *registration, reason error) {
	h.mu.Lock()
	r.active = false
	h.mu.Unlock()
	h.log.Warn("sink disabled after error", "sink", r.sink.Name(), "error", reason)
	r.sink.OnUnpublish()
}

// Cycler is an optional capability a sink may implement to receive
// periodic bookkeeping ticks from the registry reaper (an HLS sink
// flushing a segment on a timer, for instance). Sinks that don't need it
// simply don't implement the interface.
type Cycler interface {
	Cycle()
}

// Cycle calls Cycle on every active sink that implements Cycler.
func (h *Hub) Cycle() {
	for _, r := range h.activeSinks() {
		if c, ok := r.sink.(Cycler); ok {
			c.Cycle()
		}
	}
}

// OnPublish notifies every sink that publishing has started.
func (h *Hub) OnPublish() {
	for _, r := range h.activeSinks() {
		if err := r.sink.OnPublish(); err != nil {
			h.log.Warn("sink publish failed", "sink", r.sink.Name(), "error", err)
			h.deactivate(r, err)
		}
	}
}

// OnUnpublish notifies every sink that publishing has stopped.
func (h *Hub) OnUnpublish() {
	for _, r := range h.activeSinks() {
		r.sink.OnUnpublish()
	}
}

// OnMetaData broadcasts a metadata packet to every active sink. Metadata
// errors follow the same per-sink policy as audio/video.
func (h *Hub) OnMetaData(pkt *packet.Packet) error {
	return h.broadcast(pkt, func(s Sink) error { return s.OnMetaData(pkt) })
}

// OnAudio broadcasts an audio packet to every active sink, returning a
// non-nil error only if a PolicyFatal sink (a forwarder) failed, or an
// HLS sink under PolicyHLSConfigurable failed in HLSErrorDisconnect mode,
// or in HLSErrorContinue mode on a packet that does not look like a
// sequence header.
func (h *Hub) OnAudio(pkt *packet.Packet) error {
	return h.broadcast(pkt, func(s Sink) error { return s.OnAudio(pkt) })
}

// OnVideo broadcasts a video packet to every active sink under the same
// rules as OnAudio.
func (h *Hub) OnVideo(pkt *packet.Packet) error {
	return h.broadcast(pkt, func(s Sink) error { return s.OnVideo(pkt) })
}

func (h *Hub) broadcast(pkt *packet.Packet, call func(Sink) error) error {
	sinks := h.activeSinks()
	if len(sinks) == 0 {
		return nil
	}

	var g errgroup.Group
	for _, r := range sinks {
		r := r
		g.Go(func() error {
			err := call(r.sink)
			if err == nil {
				return nil
			}
			return h.handleSinkError(r, pkt, err)
		})
	}
	return g.Wait()
}

// handleSinkError applies the per-sink policy and returns a non-nil error
// only when it must propagate to the publisher's driver surface
// (spec.md §7).
func (h *Hub) handleSinkError(r *registration, pkt *packet.Packet, err error) error {
	switch r.policy {
	case PolicyFatal:
		h.log.Error("forwarder sink failed, tearing down publish", "sink", r.sink.Name(), "error", err)
		return err

	case PolicySoft:
		h.deactivate(r, err)
		return nil

	case PolicyHLSConfigurable:
		switch h.hlsErrorMode {
		case HLSErrorIgnore:
			h.deactivate(r, err)
			return nil
		case HLSErrorContinue:
			if h.looksLikeSH != nil && h.looksLikeSH(pkt) {
				h.log.Warn("HLS sink error on suspected sequence header, continuing", "sink", r.sink.Name(), "error", err)
				return nil
			}
			h.log.Error("HLS sink error, not a sequence header, disconnecting publish", "sink", r.sink.Name(), "error", err)
			return err
		default: // HLSErrorDisconnect
			h.log.Error("HLS sink error, disconnecting publish", "sink", r.sink.Name(), "error", err)
			return err
		}
	}
	return nil
}
