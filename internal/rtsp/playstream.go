package rtsp

import (
	"sync"

	"github.com/pion/rtp"
)

const sendTrackCacheSlots = 3

// sendTrack is one outbound SSRC: the network writer SETUP created for it,
// plus whether PLAY has activated it yet.
type sendTrack struct {
	ssrc    uint32
	audio   bool
	network NetworkWriter
	active  bool
}

// PlayStream owns the per-SSRC send tracks for one playing session and
// fans outbound RTP to their network writers (spec.md §4.14 "Play
// stream"). A small fixed cache of recently dispatched tracks is
// consulted before falling back to the audio/video maps, since the
// common case is the same handful of SSRCs repeating every packet.
type PlayStream struct {
	mu          sync.Mutex
	audioBySSRC map[uint32]*sendTrack
	videoBySSRC map[uint32]*sendTrack
	cache       [sendTrackCacheSlots]*sendTrack
	cacheNext   int
	started     bool
	detach      func()
}

// NewPlayStream builds a play stream for tracks, wiring each to the
// network writer SETUP already created for its SSRC (networks lacking an
// entry are left with a nil writer and simply drop packets).
func NewPlayStream(tracks []TrackDescription, networks map[uint32]NetworkWriter) *PlayStream {
	ps := &PlayStream{
		audioBySSRC: make(map[uint32]*sendTrack),
		videoBySSRC: make(map[uint32]*sendTrack),
	}
	for _, t := range tracks {
		st := &sendTrack{ssrc: t.SSRC, audio: t.Audio, network: networks[t.SSRC]}
		if t.Audio {
			ps.audioBySSRC[t.SSRC] = st
		} else {
			ps.videoBySSRC[t.SSRC] = st
		}
	}
	return ps
}

// Start marks every track active; called once PLAY has attached the
// stream and invoked its hooks.
func (ps *PlayStream) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.started = true
	for _, t := range ps.audioBySSRC {
		t.active = true
	}
	for _, t := range ps.videoBySSRC {
		t.active = true
	}
}

// Stop detaches from the provider and stops delivering packets. Safe to
// call more than once.
func (ps *PlayStream) Stop() {
	ps.mu.Lock()
	ps.started = false
	detach := ps.detach
	ps.detach = nil
	ps.mu.Unlock()
	if detach != nil {
		detach()
	}
}

// SetDetach records the func the provider's Attach returned, so Stop can
// unregister the stream.
func (ps *PlayStream) SetDetach(detach func()) {
	ps.mu.Lock()
	ps.detach = detach
	ps.mu.Unlock()
}

// OnRTPPacket implements RTPSink: send_packet(rtp) in spec.md §4.14. It
// looks up the target track (cache, then audio map, then video map) and
// writes to its network; unknown SSRCs are dropped silently.
func (ps *PlayStream) OnRTPPacket(ssrc uint32, pkts []*rtp.Packet) {
	ps.mu.Lock()
	t := ps.lookupLocked(ssrc)
	started := ps.started
	ps.mu.Unlock()

	if t == nil || !started || !t.active || t.network == nil {
		return
	}
	for _, pkt := range pkts {
		_ = t.network.WriteRTP(pkt)
	}
}

func (ps *PlayStream) lookupLocked(ssrc uint32) *sendTrack {
	for _, c := range ps.cache {
		if c != nil && c.ssrc == ssrc {
			return c
		}
	}
	t, ok := ps.audioBySSRC[ssrc]
	if !ok {
		t, ok = ps.videoBySSRC[ssrc]
	}
	if !ok {
		return nil
	}
	ps.cache[ps.cacheNext] = t
	ps.cacheNext = (ps.cacheNext + 1) % sendTrackCacheSlots
	return t
}

// OnStreamChange re-keys an existing track object from oldSSRC to newSSRC
// in place rather than tearing it down, for when the publisher
// republishes with a renegotiated SSRC mid-session. Only the SSRC
// changes: a send track holds no payload-type number, so none is updated.
func (ps *PlayStream) OnStreamChange(oldSSRC, newSSRC uint32) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if t, ok := ps.audioBySSRC[oldSSRC]; ok {
		delete(ps.audioBySSRC, oldSSRC)
		t.ssrc = newSSRC
		ps.audioBySSRC[newSSRC] = t
	} else if t, ok := ps.videoBySSRC[oldSSRC]; ok {
		delete(ps.videoBySSRC, oldSSRC)
		t.ssrc = newSSRC
		ps.videoBySSRC[newSSRC] = t
	}
	for i, c := range ps.cache {
		if c != nil && c.ssrc == oldSSRC {
			ps.cache[i] = nil
		}
	}
}
