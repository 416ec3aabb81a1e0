package dvr

import (
	"context"
	"log/slog"
)

// reapRequest is one closed fragment queued for its on_dvr hook calls.
type reapRequest struct {
	contextID string
	request   string
	path      string
}

// reapWorker invokes on_dvr for every configured hook URL each time a
// fragment closes, off the packet-handling path (spec.md §4.15's
// "On-reap hook": "enqueued into an async worker").
type reapWorker struct {
	hooks  HooksClient
	urls   []string
	log    *slog.Logger
	queue  chan reapRequest
	cancel context.CancelFunc
}

func newReapWorker(hooks HooksClient, urls []string, log *slog.Logger) *reapWorker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &reapWorker{
		hooks:  hooks,
		urls:   urls,
		log:    log,
		queue:  make(chan reapRequest, 16),
		cancel: cancel,
	}
	go w.run(ctx)
	return w
}

func (w *reapWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.queue:
			if w.hooks == nil {
				continue
			}
			for _, url := range w.urls {
				if err := w.hooks.OnDVR(url, req.contextID, req.request, req.path); err != nil {
					w.log.Warn("on_dvr hook failed", "url", url, "path", req.path, "error", err)
				}
			}
		}
	}
}

// enqueue schedules req; it never blocks the caller for long since the
// queue is generously buffered, but a full queue drops the reap
// notification rather than stalling the publish path.
func (w *reapWorker) enqueue(req reapRequest) {
	select {
	case w.queue <- req:
	default:
		w.log.Warn("dvr reap queue full, dropping on_dvr notification", "path", req.path)
	}
}

func (w *reapWorker) stop() {
	w.cancel()
}
