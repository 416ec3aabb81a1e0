package dvr

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/zsiec/originhub/internal/packet"
)

// base is the shared plumbing both plans (session, segment) drive: open
// a fresh segmenter, write packets through it with duration tracking,
// and close + reap it. Plan-specific reopen policy lives in each plan.
type base struct {
	mu sync.Mutex

	log     *slog.Logger
	factory Factory
	path    PathFunc
	formats FormatSource
	reap    *reapWorker

	request   string
	contextID string

	enabled bool
	seg     Segmenter
}

func newBase(factory Factory, path PathFunc, formats FormatSource, hooks HooksClient, hookURLs []string, request, contextID string, log *slog.Logger) base {
	if log == nil {
		log = slog.Default()
	}
	b := base{
		log:       log,
		factory:   factory,
		path:      path,
		formats:   formats,
		request:   request,
		contextID: contextID,
	}
	if len(hookURLs) > 0 {
		b.reap = newReapWorker(hooks, hookURLs, log)
	}
	return b
}

func (b *base) openSegmentLocked() error {
	p := b.path()
	seg := b.factory()
	if err := seg.Open(p); err != nil {
		return fmt.Errorf("dvr: open %q: %w", p, err)
	}
	b.seg = seg
	return nil
}

func (b *base) closeSegmentLocked() {
	if b.seg == nil {
		return
	}
	frag := b.seg.Current()
	if err := b.seg.Close(); err != nil {
		b.log.Warn("dvr: close fragment failed", "path", frag.Path, "error", err)
	}
	if b.reap != nil {
		b.reap.enqueue(reapRequest{contextID: b.contextID, request: b.request, path: frag.Path})
	}
	b.seg = nil
}

func (b *base) writeMetadataLocked(pkt *packet.Packet) error {
	if !b.enabled || b.seg == nil {
		return nil
	}
	b.seg.PatchDuration(pkt)
	return b.seg.WriteMetadata(pkt)
}

func (b *base) writeAudioLocked(pkt *packet.Packet) error {
	if !b.enabled || b.seg == nil {
		return nil
	}
	b.seg.PatchDuration(pkt)
	return b.seg.WriteAudio(pkt, b.formats.AudioFormat())
}

func (b *base) writeVideoLocked(pkt *packet.Packet) error {
	if !b.enabled || b.seg == nil {
		return nil
	}
	b.seg.PatchDuration(pkt)
	return b.seg.WriteVideo(pkt, b.formats.VideoFormat())
}

// stop releases the reap worker; call once the plan itself is discarded.
func (b *base) stop() {
	if b.reap != nil {
		b.reap.stop()
	}
}
