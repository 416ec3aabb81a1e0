package dvr

import (
	"log/slog"

	"github.com/zsiec/originhub/internal/packet"
)

// SessionPlan is the "session" DVR plan: one fragment file per publish,
// opened on_publish and closed on_unpublish (spec.md §4.15).
type SessionPlan struct {
	base
}

// NewSessionPlan builds a session plan. hookURLs may be empty to disable
// the on_dvr reap hook.
func NewSessionPlan(factory Factory, path PathFunc, formats FormatSource, hooks HooksClient, hookURLs []string, request, contextID string, log *slog.Logger) *SessionPlan {
	return &SessionPlan{base: newBase(factory, path, formats, hooks, hookURLs, request, contextID, log)}
}

func (p *SessionPlan) Name() string { return "dvr-session" }

// OnPublish opens a fresh fragment for the new publish.
func (p *SessionPlan) OnPublish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openSegmentLocked(); err != nil {
		return err
	}
	p.enabled = true
	return nil
}

// OnUnpublish closes the fragment and enqueues its reap hook.
func (p *SessionPlan) OnUnpublish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
	p.closeSegmentLocked()
}

func (p *SessionPlan) OnMetaData(pkt *packet.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeMetadataLocked(pkt)
}

func (p *SessionPlan) OnAudio(pkt *packet.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeAudioLocked(pkt)
}

func (p *SessionPlan) OnVideo(pkt *packet.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeVideoLocked(pkt)
}

// Stop releases the reap worker goroutine. Call once the source that
// owns this plan is being torn down for good.
func (p *SessionPlan) Stop() { p.base.stop() }
