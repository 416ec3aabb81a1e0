package rtsp

import (
	"github.com/pion/rtp"
)

// TrackDescription is everything the session needs to build one SDP
// media description (DESCRIBE) and later route packets for it (SETUP,
// PLAY). ID is the RTSP track identifier (the control-URL's numeric
// suffix as a string); SSRC is the publisher-side identifier frame
// delivery is keyed by.
type TrackDescription struct {
	ID      string
	SSRC    uint32
	Audio   bool
	CodecID string // "h264", "h265", "aac", ...

	// Video only.
	SPS, PPS, VPS []byte

	// Audio only.
	SampleRate int
	Channels   int

	PayloadType uint8
}

// StreamProvider is the external collaborator DESCRIBE fetches-or-creates
// (the registry's RTSP-facing lookup, spec.md §4.14): enough to build an
// SDP and to attach a play stream as an RTP sink for the duration of PLAY.
type StreamProvider interface {
	Tracks() []TrackDescription
	// Attach registers sink to receive every subsequent RTP packet this
	// stream's RTC frame builders produce, keyed by SSRC. The returned
	// func detaches it; calling it more than once is a no-op.
	Attach(sink RTPSink) func()
}

// RTPSink receives outbound RTP packets for a play stream, keyed by the
// SSRC of the originating track.
type RTPSink interface {
	OnRTPPacket(ssrc uint32, pkts []*rtp.Packet)
}

// NetworkWriter is a per-track transport (UDP pair or TCP-interleaved
// channel) created during SETUP. The concrete socket/channel plumbing is
// an external collaborator; the session only needs to push packets
// through it and close it on TEARDOWN.
type NetworkWriter interface {
	WriteRTP(pkt *rtp.Packet) error
	Close()
}

// TransportInfo is what SETUP returns after a NetworkWriter is created,
// for use composing the RTSP Transport response header.
type TransportInfo struct {
	Interleaved bool
	// UDP: client/server port pairs. TCP-interleaved: channel numbers.
	ClientPorts [2]int
	ServerPorts [2]int
	Channels    [2]int
}

// SourceRegistry is the narrow lookup the session needs from the source
// registry (C9) to resolve a stream URL into an RTSP-playable provider.
type SourceRegistry interface {
	FetchOrCreateRTSP(streamURL string) (StreamProvider, error)
}

// HooksClient is the external HTTP hooks collaborator (spec.md §6): PLAY
// invokes on_play for each configured URL. Failures are logged, not fatal.
type HooksClient interface {
	OnPlay(url, sessionID, streamURL string) error
}
