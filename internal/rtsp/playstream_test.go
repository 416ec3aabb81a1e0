package rtsp

import (
	"errors"
	"testing"

	"github.com/pion/rtp"
)

type recordingNetwork struct {
	writes []*rtp.Packet
	closed bool
	err    error
}

func (n *recordingNetwork) WriteRTP(pkt *rtp.Packet) error {
	if n.err != nil {
		return n.err
	}
	n.writes = append(n.writes, pkt)
	return nil
}

func (n *recordingNetwork) Close() { n.closed = true }

func TestPlayStreamRoutesBySSRC(t *testing.T) {
	audioNW := &recordingNetwork{}
	videoNW := &recordingNetwork{}
	tracks := []TrackDescription{
		{ID: "0", SSRC: 1, Audio: true},
		{ID: "1", SSRC: 2, Audio: false},
	}
	ps := NewPlayStream(tracks, map[uint32]NetworkWriter{1: audioNW, 2: videoNW})
	ps.Start()

	ps.OnRTPPacket(1, []*rtp.Packet{{}})
	ps.OnRTPPacket(2, []*rtp.Packet{{}, {}})

	if len(audioNW.writes) != 1 {
		t.Fatalf("expected 1 write routed to the audio track, got %d", len(audioNW.writes))
	}
	if len(videoNW.writes) != 2 {
		t.Fatalf("expected 2 writes routed to the video track, got %d", len(videoNW.writes))
	}
}

func TestPlayStreamDropsUnknownSSRCSilently(t *testing.T) {
	ps := NewPlayStream([]TrackDescription{{ID: "0", SSRC: 1, Audio: true}}, nil)
	ps.Start()
	ps.OnRTPPacket(999, []*rtp.Packet{{}}) // must not panic
}

func TestPlayStreamDropsBeforeStart(t *testing.T) {
	nw := &recordingNetwork{}
	ps := NewPlayStream([]TrackDescription{{ID: "0", SSRC: 1, Audio: true}}, map[uint32]NetworkWriter{1: nw})
	ps.OnRTPPacket(1, []*rtp.Packet{{}})
	if len(nw.writes) != 0 {
		t.Fatalf("expected no delivery before Start, got %d writes", len(nw.writes))
	}
}

func TestPlayStreamStopDetaches(t *testing.T) {
	ps := NewPlayStream(nil, nil)
	detached := false
	ps.SetDetach(func() { detached = true })
	ps.Stop()
	if !detached {
		t.Fatalf("expected Stop to invoke the detach func")
	}
	ps.Stop() // second call must be a no-op, not a double-detach
}

func TestPlayStreamOnStreamChangeSwapsKeyKeepsObject(t *testing.T) {
	nw := &recordingNetwork{}
	ps := NewPlayStream([]TrackDescription{{ID: "0", SSRC: 1, Audio: true}}, map[uint32]NetworkWriter{1: nw})
	ps.Start()

	ps.OnStreamChange(1, 42)

	ps.OnRTPPacket(1, []*rtp.Packet{{}}) // old SSRC must no longer resolve
	if len(nw.writes) != 0 {
		t.Fatalf("expected old SSRC to no longer route, got %d writes", len(nw.writes))
	}
	ps.OnRTPPacket(42, []*rtp.Packet{{}})
	if len(nw.writes) != 1 {
		t.Fatalf("expected new SSRC to route to the same network writer, got %d writes", len(nw.writes))
	}
}

func TestPlayStreamWriteErrorDoesNotPanic(t *testing.T) {
	nw := &recordingNetwork{err: errors.New("closed")}
	ps := NewPlayStream([]TrackDescription{{ID: "0", SSRC: 1}}, map[uint32]NetworkWriter{1: nw})
	ps.Start()
	ps.OnRTPPacket(1, []*rtp.Packet{{}})
}
