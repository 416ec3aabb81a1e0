package dvr

import (
	"log/slog"
	"time"

	"github.com/zsiec/originhub/internal/hub"
	"github.com/zsiec/originhub/internal/packet"
)

// SegmentPlan is the "segment" DVR plan: it reaps (closes and reopens)
// the current fragment on a duration boundary, keyframe-aligned unless
// waitKeyframe is false (spec.md §4.15). h is optional — when set, a
// reap calls hub.RequestDVRSeqHeaders so the new fragment is primed with
// the source's cached metadata/sequence headers without waiting for the
// publisher to repeat them.
type SegmentPlan struct {
	base

	hub          *hub.Hub
	cduration    time.Duration
	waitKeyframe bool
}

// NewSegmentPlan builds a segment plan. cduration is the target fragment
// duration; waitKeyframe gates a reap on the next keyframe rather than
// cutting mid-GOP.
func NewSegmentPlan(factory Factory, path PathFunc, formats FormatSource, h *hub.Hub, hooks HooksClient, hookURLs []string, request, contextID string, cduration time.Duration, waitKeyframe bool, log *slog.Logger) *SegmentPlan {
	return &SegmentPlan{
		base:         newBase(factory, path, formats, hooks, hookURLs, request, contextID, log),
		hub:          h,
		cduration:    cduration,
		waitKeyframe: waitKeyframe,
	}
}

func (p *SegmentPlan) Name() string { return "dvr-segment" }

func (p *SegmentPlan) OnPublish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openSegmentLocked(); err != nil {
		return err
	}
	p.enabled = true
	return nil
}

func (p *SegmentPlan) OnUnpublish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
	p.closeSegmentLocked()
}

func (p *SegmentPlan) OnMetaData(pkt *packet.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeMetadataLocked(pkt)
}

func (p *SegmentPlan) OnAudio(pkt *packet.Packet) error {
	p.mu.Lock()
	err := p.writeAudioLocked(pkt)
	reap := err == nil && p.shouldReapLocked(pkt)
	if reap {
		p.reapAndReopenLocked()
	}
	p.mu.Unlock()
	if reap {
		p.requestSeqHeaders()
	}
	return err
}

func (p *SegmentPlan) OnVideo(pkt *packet.Packet) error {
	p.mu.Lock()
	err := p.writeVideoLocked(pkt)
	reap := err == nil && p.shouldReapLocked(pkt)
	if reap {
		p.reapAndReopenLocked()
	}
	p.mu.Unlock()
	if reap {
		p.requestSeqHeaders()
	}
	return err
}

// shouldReapLocked implements spec.md §4.15's reap condition: "when a
// packet arrives with duration ≥ cduration AND (the packet is a keyframe
// OR wait_keyframe = false)".
func (p *SegmentPlan) shouldReapLocked(pkt *packet.Packet) bool {
	if p.seg == nil {
		return false
	}
	if p.seg.Current().Duration < p.cduration {
		return false
	}
	return pkt.IsKeyframe || !p.waitKeyframe
}

func (p *SegmentPlan) reapAndReopenLocked() {
	p.closeSegmentLocked()
	if err := p.openSegmentLocked(); err != nil {
		p.log.Warn("dvr: reopen segment failed", "error", err)
		p.enabled = false
	}
}

func (p *SegmentPlan) requestSeqHeaders() {
	if p.hub != nil {
		p.hub.RequestDVRSeqHeaders(p)
	}
}

// ReseedSequenceHeaders implements hub.DVRReseeder: write the cached
// metadata and audio/video sequence headers straight into the fragment a
// reap just opened.
func (p *SegmentPlan) ReseedSequenceHeaders(meta, audioSH, videoSH *packet.Packet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seg == nil {
		return
	}
	if meta != nil {
		_ = p.writeMetadataLocked(meta)
	}
	if audioSH != nil {
		_ = p.writeAudioLocked(audioSH)
	}
	if videoSH != nil {
		_ = p.writeVideoLocked(videoSH)
	}
}

// Stop releases the reap worker goroutine.
func (p *SegmentPlan) Stop() { p.base.stop() }
