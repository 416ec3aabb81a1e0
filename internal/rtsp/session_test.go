package rtsp

import (
	"errors"
	"testing"

	"github.com/pion/rtp"
)

type stubProvider struct {
	tracks     []TrackDescription
	attachSink RTPSink
	detached   bool
}

func (p *stubProvider) Tracks() []TrackDescription { return p.tracks }
func (p *stubProvider) Attach(sink RTPSink) func() {
	p.attachSink = sink
	return func() { p.detached = true }
}

type stubRegistry struct {
	provider *stubProvider
	err      error
}

func (r *stubRegistry) FetchOrCreateRTSP(streamURL string) (StreamProvider, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.provider, nil
}

type recordingHooks struct {
	calls []string
}

func (h *recordingHooks) OnPlay(url, sessionID, streamURL string) error {
	h.calls = append(h.calls, url)
	return nil
}

func testTracks() []TrackDescription {
	return []TrackDescription{
		{ID: "0", SSRC: 1, Audio: false, CodecID: "h264", SPS: []byte{0x67}, PPS: []byte{0x68}, PayloadType: 96},
		{ID: "1", SSRC: 2, Audio: true, CodecID: "aac", SampleRate: 44100, Channels: 2, PayloadType: 97},
	}
}

func TestSessionDescribeBuildsSDP(t *testing.T) {
	provider := &stubProvider{tracks: testTracks()}
	s := New("sess1", &stubRegistry{provider: provider}, nil, nil)

	sdp, err := s.Describe("rtsp://host/live/stream")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sdp.Medias) != 2 {
		t.Fatalf("expected 2 medias, got %d", len(sdp.Medias))
	}
}

func TestSessionDescribePropagatesRegistryError(t *testing.T) {
	s := New("sess1", &stubRegistry{err: errors.New("no such stream")}, nil, nil)
	if _, err := s.Describe("rtsp://host/missing"); err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestSessionSetupUnknownTrackID(t *testing.T) {
	provider := &stubProvider{tracks: testTracks()}
	s := New("sess1", &stubRegistry{provider: provider}, nil, nil)
	if _, err := s.Describe("rtsp://host/live/stream"); err != nil {
		t.Fatalf("describe failed: %v", err)
	}

	_, err := s.Setup("99", func(TrackDescription) (NetworkWriter, TransportInfo, error) {
		t.Fatalf("makeNetwork must not be called for an unknown track id")
		return nil, TransportInfo{}, nil
	})
	if !errors.Is(err, ErrTrackNotFound) {
		t.Fatalf("expected ErrTrackNotFound, got %v", err)
	}
}

func TestSessionSetupBeforeDescribe(t *testing.T) {
	s := New("sess1", &stubRegistry{}, nil, nil)
	_, err := s.Setup("0", func(TrackDescription) (NetworkWriter, TransportInfo, error) {
		t.Fatalf("makeNetwork must not be called before DESCRIBE")
		return nil, TransportInfo{}, nil
	})
	if !errors.Is(err, ErrNotDescribed) {
		t.Fatalf("expected ErrNotDescribed, got %v", err)
	}
}

func TestSessionFullLifecycle(t *testing.T) {
	provider := &stubProvider{tracks: testTracks()}
	hooks := &recordingHooks{}
	s := New("sess1", &stubRegistry{provider: provider}, hooks, nil)

	if _, err := s.Describe("rtsp://host/live/stream"); err != nil {
		t.Fatalf("describe: %v", err)
	}

	videoNW := &recordingNetwork{}
	if _, err := s.Setup("0", func(td TrackDescription) (NetworkWriter, TransportInfo, error) {
		if td.SSRC != 1 {
			t.Fatalf("expected track id 0 to resolve to SSRC 1, got %d", td.SSRC)
		}
		return videoNW, TransportInfo{ClientPorts: [2]int{8000, 8001}}, nil
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := s.Play([]string{"http://hooks/on_play"}); err != nil {
		t.Fatalf("play: %v", err)
	}
	if len(hooks.calls) != 1 {
		t.Fatalf("expected on_play invoked once, got %d", len(hooks.calls))
	}
	if provider.attachSink == nil {
		t.Fatalf("expected Play to attach a sink to the provider")
	}

	provider.attachSink.OnRTPPacket(1, []*rtp.Packet{{}})
	if len(videoNW.writes) != 1 {
		t.Fatalf("expected the video packet to reach its network writer, got %d", len(videoNW.writes))
	}

	s.Teardown()
	if !provider.detached {
		t.Fatalf("expected Teardown to detach the play stream from the provider")
	}

	videoNW.writes = nil
	provider.attachSink.OnRTPPacket(1, []*rtp.Packet{{}})
	if len(videoNW.writes) != 0 {
		t.Fatalf("expected no delivery after Teardown, got %d", len(videoNW.writes))
	}
}

func TestSessionPlayBeforeDescribe(t *testing.T) {
	s := New("sess1", &stubRegistry{}, nil, nil)
	if err := s.Play(nil); !errors.Is(err, ErrNotDescribed) {
		t.Fatalf("expected ErrNotDescribed, got %v", err)
	}
}
