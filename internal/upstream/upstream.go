// Package upstream implements the origin client contract the play-edge
// ingester and publish-edge forwarder drive: connect to a configured
// origin server (RTMP or HTTP-FLV), pull/push media messages, and report
// connection diagnostics. See spec.md §4.10.
package upstream

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Default connect/stream timeouts, spec.md §5 "Cancellation and timeouts".
const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultStreamTimeout  = 30 * time.Second
)

// Sentinel errors, spec.md §7's io/protocol-policy taxonomy realized as a
// per-package group.
var (
	// ErrRedirect, wrapped in a *RedirectError whose Addr carries the new
	// target, is how a Client's RecvMessage/Connect reports an origin
	// redirect. The ingester restarts its connection loop against Addr
	// rather than treating this as a hard failure.
	ErrRedirect = errors.New("upstream: redirect")
	// ErrNoOrigin is returned when a load balancer has no configured
	// origin to hand out.
	ErrNoOrigin = errors.New("upstream: no origin configured")
	// ErrClosed is returned by RecvMessage once Close has been called.
	ErrClosed = errors.New("upstream: closed")
)

// RedirectError wraps ErrRedirect with the destination the caller should
// reconnect to.
type RedirectError struct {
	Addr string
}

func (e *RedirectError) Error() string { return "upstream: redirect to " + e.Addr }
func (e *RedirectError) Unwrap() error { return ErrRedirect }

// MessageType distinguishes the media messages RecvMessage produces from
// the control messages DecodeMessage understands.
type MessageType int

// Supported message types.
const (
	MessageAudio MessageType = iota
	MessageVideo
	MessageMetadata
	MessageCommand // connect-response / other AMF0 command, needs DecodeMessage
)

// Message is a single unit read off the upstream connection, still in its
// wire-ish shape — RTMP payload bytes with a timestamp. The ingester is
// responsible for turning Audio/Video/Metadata messages into
// packet.Packet and routing them to source.OnAudio/OnVideo/OnMetaData.
type Message struct {
	Type       MessageType
	Payload    []byte
	Timestamp  int64 // milliseconds
	IsKeyframe bool
	IsSequence bool // audio/video sequence header (AAC ASC, AVC/HEVC config)
}

// Command is the decoded form of a MessageCommand message (e.g. an AMF0
// connect-response), produced by DecodeMessage.
type Command struct {
	Name   string
	Fields map[string]any
}

// Request describes what to connect to: the stream's canonical vhost/app
// identity plus the already-resolved host:port the load balancer picked.
type Request struct {
	Vhost  string
	App    string
	Stream string
	Host   string
	Port   int
}

// Client is the upstream contract implemented by both the RTMP and the
// HTTP-FLV variant (spec.md §4.10 "Upstream contract").
type Client interface {
	// Connect dials host:port chosen by lb and performs the protocol
	// handshake (RTMP connect/play, or the HTTP-FLV GET) needed before
	// RecvMessage can be called.
	Connect(ctx context.Context, req Request) error
	// RecvMessage blocks for the next media message. A client that
	// recognises an origin redirect returns *RedirectError; neither
	// RTMPClient nor HTTPFLVClient in this package does.
	RecvMessage() (Message, error)
	// DecodeMessage interprets a MessageCommand message's payload.
	DecodeMessage(msg Message) (Command, error)
	// Close releases the underlying connection. Safe to call more than
	// once.
	Close() error
	// Selected reports the host:port this client ended up connected to,
	// for diagnostics/logging.
	Selected() (host string, port int)
	// SetRecvTimeout bounds how long RecvMessage may block before
	// returning a timeout error.
	SetRecvTimeout(d time.Duration)
	// KbpsSample reports a bitrate sample under label, averaged over the
	// last age of traffic — diagnostics only, no return value.
	KbpsSample(label string, age time.Duration)
}

// WriteClient is the push-direction counterpart to Client, used by the
// publish-edge forwarder (spec.md §4.11). Only the RTMP variant
// implements it — HTTP-FLV is a pull-only GET stream in this repo, the
// same asymmetry the spec's forwarder description assumes by only ever
// naming RTMP targets.
type WriteClient interface {
	Connect(ctx context.Context, req Request) error
	WriteMessage(msg Message) error
	Close() error
}

// Origin is one entry in a vhost's edge.origin list.
type Origin struct {
	Host string
	Port int
}

// LoadBalancer selects origins round-robin across successive calls,
// advancing its counter per stream-url so repeated fetch_or_create +
// on_client_play cycles for the same stream retry the next origin in
// sequence (spec.md E5).
type LoadBalancer struct {
	origins []Origin

	mu   sync.Mutex
	next map[string]int
}

// NewLoadBalancer creates a round-robin balancer over origins. origins
// must be non-empty; Select returns ErrNoOrigin otherwise.
func NewLoadBalancer(origins []Origin) *LoadBalancer {
	return &LoadBalancer{
		origins: append([]Origin(nil), origins...),
		next:    make(map[string]int),
	}
}

// Select returns the next origin for streamURL, advancing that
// stream-url's counter. Concurrent calls for distinct stream-urls do not
// interfere; concurrent calls for the same stream-url are serialized by
// an internal lock.
func (lb *LoadBalancer) Select(streamURL string) (Origin, error) {
	if len(lb.origins) == 0 {
		return Origin{}, ErrNoOrigin
	}
	lb.mu.Lock()
	defer lb.mu.Unlock()

	i := lb.next[streamURL] % len(lb.origins)
	lb.next[streamURL] = i + 1
	return lb.origins[i], nil
}

var (
	_ Client      = (*RTMPClient)(nil)
	_ Client      = (*HTTPFLVClient)(nil)
	_ WriteClient = (*RTMPClient)(nil)
)
