// Package edge implements the play-edge and publish-edge state machines:
// pulling a remote origin's stream on first local viewer, and forwarding
// a local publish upstream to an origin. See spec.md §4.10/§4.11.
package edge

import (
	"context"
	"log/slog"
	"sync"
)

// State is a play-edge's position in its Init/Play/IngestConnected cycle.
type State int

// States, spec.md §4.10: "Init -> Play -> IngestConnected -> Init".
const (
	StateInit State = iota
	StatePlay
	StateIngestConnected
)

func (st State) String() string {
	switch st {
	case StatePlay:
		return "play"
	case StateIngestConnected:
		return "ingest-connected"
	default:
		return "init"
	}
}

// Ingester is the collaborator a PlayEdge starts/stops across the
// Play/IngestConnected states — see ingester.go for the concrete
// implementation that drives an upstream.Client.
type Ingester interface {
	// Start begins the round-robin connect + pull loop in the background
	// and returns immediately; onConnected is invoked from the pull
	// goroutine once the upstream handshake succeeds.
	Start(ctx context.Context, onConnected func())
	// Stop tears down the ingester and waits for its goroutine to exit.
	Stop()
}

// PlayEdge drives one stream-url's pull-on-demand lifecycle: the first
// consumer to arrive starts an Ingester; the last consumer to leave stops
// it. Implements spec.md §4.10's fully specified transition table.
type PlayEdge struct {
	log       *slog.Logger
	streamURL string
	newIngest func() Ingester

	mu       sync.Mutex
	state    State
	ingester Ingester
	cancel   context.CancelFunc
}

// New creates a PlayEdge for streamURL. newIngest constructs a fresh
// Ingester each time one is needed (a play edge may cycle through
// Init->Play->Init many times over its lifetime).
func New(streamURL string, newIngest func() Ingester, log *slog.Logger) *PlayEdge {
	if log == nil {
		log = slog.Default()
	}
	return &PlayEdge{
		log:       log.With("component", "play-edge", "stream", streamURL),
		streamURL: streamURL,
		newIngest: newIngest,
	}
}

// State reports the current state.
func (e *PlayEdge) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OnClientPlay is called when a consumer joins; if this is the stream's
// first consumer (no ingester running yet) it starts one and moves to
// Play. Idempotent while already Play or IngestConnected.
func (e *PlayEdge) OnClientPlay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateInit {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.ingester = e.newIngest()
	e.state = StatePlay
	e.log.Info("starting ingester", "state", e.state)

	e.ingester.Start(ctx, e.onIngestPlay)
}

// onIngestPlay is the ingester's callback once the upstream handshake
// succeeds, moving Play -> IngestConnected. Idempotent.
func (e *PlayEdge) onIngestPlay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePlay {
		return
	}
	e.state = StateIngestConnected
	e.log.Info("ingest connected", "state", e.state)
}

// OnAllClientStop is called once the stream's last consumer leaves; it
// stops the ingester and returns to Init.
func (e *PlayEdge) OnAllClientStop() {
	e.mu.Lock()
	ingester := e.ingester
	cancel := e.cancel
	e.ingester = nil
	e.cancel = nil
	e.state = StateInit
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ingester != nil {
		ingester.Stop()
	}
	e.log.Info("all clients stopped, ingester torn down", "state", StateInit)
}
