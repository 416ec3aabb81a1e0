package rtsp

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v5/pkg/description"
)

// SupportedMethods is the method list OPTIONS advertises.
var SupportedMethods = []string{"OPTIONS", "DESCRIBE", "SETUP", "PLAY", "TEARDOWN"}

var (
	// ErrTrackNotFound is returned by Setup when trackID matches no track
	// DESCRIBE produced.
	ErrTrackNotFound = errors.New("rtsp: unknown track id")
	// ErrNotDescribed is returned by Setup/Play when called before DESCRIBE.
	ErrNotDescribed = errors.New("rtsp: stream not described yet")
)

// track pairs a TrackDescription with the description.Media DESCRIBE
// built for it, so SETUP can hand back transport info without rebuilding
// the SDP.
type track struct {
	desc  TrackDescription
	media *description.Media
}

// Session holds one RTSP connection's state across its OPTIONS / DESCRIBE
// / SETUP / PLAY / TEARDOWN lifecycle (spec.md §4.14).
type Session struct {
	mu sync.Mutex

	id       string
	log      *slog.Logger
	registry SourceRegistry
	hooks    HooksClient

	publishedRequest string
	provider         StreamProvider
	tracksBySSRC     map[uint32]track
	networksBySSRC   map[uint32]NetworkWriter
	play             *PlayStream
	lastAlive        time.Time
}

// New builds a session bound to id for its lifetime.
func New(id string, registry SourceRegistry, hooks HooksClient, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		id:             id,
		log:            log.With("component", "rtsp", "session", id),
		registry:       registry,
		hooks:          hooks,
		tracksBySSRC:   make(map[uint32]track),
		networksBySSRC: make(map[uint32]NetworkWriter),
		lastAlive:      time.Now(),
	}
}

// Options handles OPTIONS: just the supported method list.
func (s *Session) Options() []string {
	s.touch()
	return SupportedMethods
}

// Describe handles DESCRIBE: fetch-or-create the RTSP source, build an
// SDP from its audio/video track descriptions, and remember the tracks
// by SSRC for SETUP/PLAY.
func (s *Session) Describe(streamURL string) (*description.Session, error) {
	provider, err := s.registry.FetchOrCreateRTSP(streamURL)
	if err != nil {
		return nil, fmt.Errorf("rtsp: describe %q: %w", streamURL, err)
	}

	tracks := provider.Tracks()
	sdp := &description.Session{}
	byID := make(map[uint32]track, len(tracks))
	for _, td := range tracks {
		media := buildMedia(td)
		if media == nil {
			continue
		}
		sdp.Medias = append(sdp.Medias, media)
		byID[td.SSRC] = track{desc: td, media: media}
	}

	s.mu.Lock()
	s.publishedRequest = streamURL
	s.provider = provider
	s.tracksBySSRC = byID
	s.lastAlive = time.Now()
	s.mu.Unlock()

	return sdp, nil
}

// MakeNetwork creates the per-track transport (UDP pair or TCP
// interleaved channel) for a SETUP request. The concrete socket/channel
// plumbing lives outside this package; Setup only needs the writer and
// the transport info to echo back.
type MakeNetwork func(TrackDescription) (NetworkWriter, TransportInfo, error)

// Setup handles SETUP: resolve trackID (the RTSP control URL's numeric
// suffix) to the SSRC DESCRIBE remembered, create its network writer, and
// return the negotiated transport.
func (s *Session) Setup(trackID string, makeNetwork MakeNetwork) (TransportInfo, error) {
	s.mu.Lock()
	var target *track
	for _, t := range s.tracksBySSRC {
		if t.desc.ID == trackID {
			tc := t
			target = &tc
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		if len(s.tracksBySSRC) == 0 {
			return TransportInfo{}, ErrNotDescribed
		}
		return TransportInfo{}, ErrTrackNotFound
	}

	nw, info, err := makeNetwork(target.desc)
	if err != nil {
		return TransportInfo{}, fmt.Errorf("rtsp: setup track %q: %w", trackID, err)
	}

	s.mu.Lock()
	s.networksBySSRC[target.desc.SSRC] = nw
	s.lastAlive = time.Now()
	s.mu.Unlock()
	return info, nil
}

// Play handles PLAY: build the play stream from the tracks and network
// writers SETUP prepared, attach it to the provider, start it, and fire
// on_play for each configured hook URL (failures logged, not fatal).
func (s *Session) Play(hookURLs []string) error {
	s.mu.Lock()
	if s.provider == nil {
		s.mu.Unlock()
		return ErrNotDescribed
	}
	tracks := make([]TrackDescription, 0, len(s.tracksBySSRC))
	for _, t := range s.tracksBySSRC {
		tracks = append(tracks, t.desc)
	}
	networks := s.networksBySSRC
	provider := s.provider
	streamURL := s.publishedRequest
	s.mu.Unlock()

	ps := NewPlayStream(tracks, networks)
	detach := provider.Attach(ps)
	ps.SetDetach(detach)
	ps.Start()

	for _, url := range hookURLs {
		if s.hooks == nil {
			continue
		}
		if err := s.hooks.OnPlay(url, s.id, streamURL); err != nil {
			s.log.Warn("on_play hook failed", "url", url, "error", err)
		}
	}

	s.mu.Lock()
	s.play = ps
	s.lastAlive = time.Now()
	s.mu.Unlock()
	return nil
}

// Teardown handles TEARDOWN: stop and release the play stream, then close
// and forget every network writer SETUP created.
func (s *Session) Teardown() {
	s.mu.Lock()
	ps := s.play
	s.play = nil
	networks := s.networksBySSRC
	s.networksBySSRC = make(map[uint32]NetworkWriter)
	s.mu.Unlock()
	if ps != nil {
		ps.Stop()
	}
	for _, nw := range networks {
		if nw != nil {
			nw.Close()
		}
	}
}

// OnStreamChange forwards a publisher SSRC renegotiation to the active
// play stream, if any (spec.md §4.14).
func (s *Session) OnStreamChange(oldSSRC, newSSRC uint32) {
	s.mu.Lock()
	ps := s.play
	s.mu.Unlock()
	if ps != nil {
		ps.OnStreamChange(oldSSRC, newSSRC)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAlive = time.Now()
	s.mu.Unlock()
}

// Expired reports whether the session has gone longer than timeout
// without a keepalive (OPTIONS/STUN) or lifecycle call (spec.md §5:
// "Session-level RTSP connections expire after session_timeout without a
// keepalive").
func (s *Session) Expired(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastAlive) > timeout
}
