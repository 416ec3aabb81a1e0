// Package registry implements the process-wide source registry: a
// {stream-url → source} map with publish-before-initialize creation
// semantics and a periodic reaper that reclaims dead streams. See
// spec.md §4.9.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/originhub/internal/source"
)

// reapInterval is how often the reaper wakes up; reapEvery is how many
// ticks elapse between stream_is_dead() sweeps, giving the 1s/3s cadence
// spec.md §4.9 specifies.
const (
	reapInterval = time.Second
	reapEvery    = 3
)

// Factory constructs a new Source for streamURL. Concrete wiring (vhost
// config lookup, hub/bridge assembly) lives above this package.
type Factory func(streamURL string) (*source.Source, error)

// CreatedHook is invoked once a new source has been inserted into the
// registry's map, before Initialize runs — the spec.md §4.9
// on_source_created callback.
type CreatedHook func(streamURL string, s *source.Source)

// Registry is the process-wide map of live sources, keyed by the
// canonical vhost/app/stream URL. Grounded on internal/ingest.Registry's
// lock-then-callback creation shape and internal/stream.Manager's
// map+mutex lifecycle, generalized to source.Source and extended with a
// periodic reaper.
type Registry struct {
	log       *slog.Logger
	factory   Factory
	onCreated CreatedHook

	mu      sync.Mutex
	sources map[string]*source.Source
}

// New creates an empty Registry. factory must be non-nil; onCreated may
// be nil.
func New(factory Factory, onCreated CreatedHook, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:       log.With("component", "registry"),
		factory:   factory,
		onCreated: onCreated,
		sources:   make(map[string]*source.Source),
	}
}

// FetchOrCreate returns the existing source for streamURL, or
// constructs, registers, and initializes a new one. The creation lock is
// released before Initialize runs, matching spec.md §4.9's contract that
// initialization may yield without blocking other lookups.
func (r *Registry) FetchOrCreate(streamURL string) (*source.Source, error) {
	r.mu.Lock()
	if s, ok := r.sources[streamURL]; ok {
		r.mu.Unlock()
		return s, nil
	}

	s, err := r.factory(streamURL)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	if r.onCreated != nil {
		r.onCreated(streamURL, s)
	}
	r.sources[streamURL] = s
	r.mu.Unlock()

	if err := s.Initialize(); err != nil {
		r.mu.Lock()
		if cur, ok := r.sources[streamURL]; ok && cur == s {
			delete(r.sources, streamURL)
		}
		r.mu.Unlock()
		return nil, err
	}

	return s, nil
}

// Fetch returns the existing source for streamURL, or nil and false if
// none exists. It never creates.
func (r *Registry) Fetch(streamURL string) (*source.Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[streamURL]
	return s, ok
}

// Remove unconditionally drops streamURL from the map, e.g. after an
// explicit shutdown of that stream.
func (r *Registry) Remove(streamURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, streamURL)
}

// Len returns the number of live sources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// snapshot returns a stable slice of the currently registered sources.
func (r *Registry) snapshot() []*source.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*source.Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	return out
}

// DisposeAll calls Dispose on every registered source — releases cached
// output resources while keeping each source alive for reuse, per
// spec.md §4.9's registry.dispose().
func (r *Registry) DisposeAll() {
	for _, s := range r.snapshot() {
		s.Dispose()
	}
}

// Run drives the periodic reaper until ctx is cancelled: every tick it
// calls Cycle on every source, and every reapEvery ticks it reclaims
// sources whose StreamIsDead() holds.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ticks++
			r.tick(ticks%reapEvery == 0)
		}
	}
}

func (r *Registry) tick(reap bool) {
	for _, s := range r.snapshot() {
		s.Cycle()
		if reap && s.StreamIsDead() {
			r.mu.Lock()
			if cur, ok := r.sources[s.StreamURL()]; ok && cur == s {
				delete(r.sources, s.StreamURL())
				r.log.Info("reaped dead source", "stream", s.StreamURL())
			}
			r.mu.Unlock()
		}
	}
}
