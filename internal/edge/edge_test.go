package edge

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/originhub/internal/packet"
	"github.com/zsiec/originhub/internal/upstream"
)

type fakeIngester struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeIngester) Start(ctx context.Context, onConnected func()) {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	if onConnected != nil {
		onConnected()
	}
}

func (f *fakeIngester) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func TestPlayEdgeStateMachine(t *testing.T) {
	var built []*fakeIngester
	newIngest := func() Ingester {
		f := &fakeIngester{}
		built = append(built, f)
		return f
	}

	e := New("rtmp://v/app/s1", newIngest, nil)
	if e.State() != StateInit {
		t.Fatalf("expected initial state Init, got %v", e.State())
	}

	e.OnClientPlay()
	if e.State() != StateIngestConnected {
		t.Fatalf("expected IngestConnected once the fake ingester's Start calls onConnected synchronously, got %v", e.State())
	}
	if len(built) != 1 || !built[0].started {
		t.Fatalf("expected exactly one ingester to have been started")
	}

	// A second OnClientPlay while already playing must not start another
	// ingester.
	e.OnClientPlay()
	if len(built) != 1 {
		t.Fatalf("OnClientPlay must be idempotent once playing, got %d ingesters built", len(built))
	}

	e.OnAllClientStop()
	if e.State() != StateInit {
		t.Fatalf("expected Init after OnAllClientStop, got %v", e.State())
	}
	if !built[0].stopped {
		t.Fatalf("expected the ingester to have been stopped")
	}

	// The edge must be able to cycle again.
	e.OnClientPlay()
	if len(built) != 2 {
		t.Fatalf("expected a fresh ingester on the next play cycle, got %d", len(built))
	}
}

type fakeSink struct {
	mu    sync.Mutex
	audio []*packet.Packet
	video []*packet.Packet
	meta  []*packet.Packet
}

func (s *fakeSink) OnAudio(pkt *packet.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, pkt)
	return nil
}

func (s *fakeSink) OnVideo(pkt *packet.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.video = append(s.video, pkt)
	return nil
}

func (s *fakeSink) OnMetaData(pkt *packet.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = append(s.meta, pkt)
	return nil
}

func (s *fakeSink) counts() (audio, video, meta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio), len(s.video), len(s.meta)
}

// fakeClient replays a fixed sequence of messages then blocks until
// closed, simulating an upstream connection.
type fakeClient struct {
	mu       sync.Mutex
	messages []upstream.Message
	closed   chan struct{}
}

func newFakeClient(messages []upstream.Message) *fakeClient {
	return &fakeClient{messages: messages, closed: make(chan struct{})}
}

func (c *fakeClient) Connect(ctx context.Context, req upstream.Request) error { return nil }

func (c *fakeClient) RecvMessage() (upstream.Message, error) {
	c.mu.Lock()
	if len(c.messages) > 0 {
		m := c.messages[0]
		c.messages = c.messages[1:]
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	<-c.closed
	return upstream.Message{}, upstream.ErrClosed
}

func (c *fakeClient) DecodeMessage(msg upstream.Message) (upstream.Command, error) {
	return upstream.Command{}, nil
}

func (c *fakeClient) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *fakeClient) Selected() (string, int)             { return "origin", 1935 }
func (c *fakeClient) SetRecvTimeout(d time.Duration)       {}
func (c *fakeClient) KbpsSample(l string, a time.Duration) {}

var _ upstream.Client = (*fakeClient)(nil)

func TestStreamIngesterPumpsMessagesToSink(t *testing.T) {
	sink := &fakeSink{}
	client := newFakeClient([]upstream.Message{
		{Type: upstream.MessageMetadata, Payload: []byte("meta")},
		{Type: upstream.MessageVideo, Payload: []byte("vsh"), IsSequence: true},
		{Type: upstream.MessageAudio, Payload: []byte("a1")},
	})

	lb := upstream.NewLoadBalancer([]upstream.Origin{{Host: "o1", Port: 1935}})
	ing := NewStreamIngester("rtmp://v/app/s1", "v", "app", "s1", "rtmp", lb,
		func(scheme string) upstream.Client { return client },
		DefaultTranslator("s1"), sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	connected := make(chan struct{})
	ing.Start(ctx, func() { close(connected) })

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatalf("onConnected was never called")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		a, v, m := sink.counts()
		if a == 1 && v == 1 && m == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	a, v, m := sink.counts()
	if a != 1 || v != 1 || m != 1 {
		t.Fatalf("expected exactly one audio/video/meta delivery, got audio=%d video=%d meta=%d", a, v, m)
	}

	// Unblock the fake client's RecvMessage (it has no deadline of its
	// own) before tearing down, mirroring how a real upstream.Client's
	// SetRecvTimeout bounds the blocking read in production.
	client.Close()
	cancel()
	ing.Stop()
}

// redirectingClient sends one video message, then reports a redirect to
// redirectAddr exactly once; every client built after the redirect
// records the Request.Host:Port it was connected with.
type redirectingClient struct {
	fakeClient
	redirectAddr  string
	redirected    bool
	connectedAddr chan string
}

func (c *redirectingClient) Connect(ctx context.Context, req upstream.Request) error {
	select {
	case c.connectedAddr <- net.JoinHostPort(req.Host, strconv.Itoa(req.Port)):
	default:
	}
	return nil
}

func (c *redirectingClient) RecvMessage() (upstream.Message, error) {
	c.mu.Lock()
	if len(c.messages) > 0 {
		m := c.messages[0]
		c.messages = c.messages[1:]
		c.mu.Unlock()
		return m, nil
	}
	redirected := c.redirected
	c.redirected = true
	c.mu.Unlock()

	if !redirected {
		return upstream.Message{}, &upstream.RedirectError{Addr: c.redirectAddr}
	}
	<-c.closed
	return upstream.Message{}, upstream.ErrClosed
}

func TestStreamIngesterPinsRedirectTarget(t *testing.T) {
	sink := &fakeSink{}
	connectedAddr := make(chan string, 4)
	newClient := func(scheme string) upstream.Client {
		return &redirectingClient{
			fakeClient: fakeClient{
				messages: []upstream.Message{{Type: upstream.MessageVideo, Payload: []byte("v1")}},
				closed:   make(chan struct{}),
			},
			redirectAddr:  "redirect-host:1936",
			connectedAddr: connectedAddr,
		}
	}

	lb := upstream.NewLoadBalancer([]upstream.Origin{{Host: "o1", Port: 1935}, {Host: "o2", Port: 1935}})
	ing := NewStreamIngester("rtmp://v/app/s1", "v", "app", "s1", "rtmp", lb,
		newClient, DefaultTranslator("s1"), sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ing.Start(ctx, nil)

	var first, second string
	select {
	case first = <-connectedAddr:
	case <-time.After(time.Second):
		t.Fatalf("first connect never observed")
	}
	if first != "o1:1935" {
		t.Fatalf("expected first connect to the load balancer's first origin, got %s", first)
	}

	select {
	case second = <-connectedAddr:
	case <-time.After(time.Second):
		t.Fatalf("second connect (post-redirect) never observed")
	}
	if second != "redirect-host:1936" {
		t.Fatalf("expected the redirect target to be pinned verbatim, got %s", second)
	}

	cancel()
	ing.Stop()
}

// fakeWriteClient records every message written to it.
type fakeWriteClient struct {
	mu       sync.Mutex
	written  []upstream.Message
	failNext bool
}

func (c *fakeWriteClient) Connect(ctx context.Context, req upstream.Request) error { return nil }

func (c *fakeWriteClient) WriteMessage(msg upstream.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		c.failNext = false
		return upstream.ErrClosed
	}
	c.written = append(c.written, msg)
	return nil
}

func (c *fakeWriteClient) Close() error { return nil }

func (c *fakeWriteClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

var _ upstream.WriteClient = (*fakeWriteClient)(nil)

func TestForwarderEnqueueAndPump(t *testing.T) {
	wc := &fakeWriteClient{}
	lb := upstream.NewLoadBalancer([]upstream.Origin{{Host: "o1", Port: 1935}})
	fw := NewForwarder("rtmp://v/app/s1", "v", "app", "s1", "rtmp", lb,
		func(scheme string) upstream.WriteClient { return wc },
		DefaultToMessage, 0, nil)

	if err := fw.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	fw.Enqueue(&packet.Packet{Type: packet.TypeVideo, Payload: []byte("v1"), Timestamp: 10})
	fw.Enqueue(&packet.Packet{Type: packet.TypeAudio, Payload: []byte("a1"), Timestamp: 10})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && wc.count() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if wc.count() != 2 {
		t.Fatalf("expected 2 messages written to the upstream, got %d", wc.count())
	}

	fw.Stop()
}

func TestForwarderBackendResolverOverridesStaticOrigin(t *testing.T) {
	wc := &fakeWriteClient{}
	lb := upstream.NewLoadBalancer([]upstream.Origin{{Host: "static-origin", Port: 1935}})
	fw := NewForwarder("rtmp://v/app/s1", "v", "app", "s1", "rtmp", lb,
		func(scheme string) upstream.WriteClient { return wc },
		DefaultToMessage, 0, nil)
	fw.SetBackendResolver(func(streamURL string) (string, error) {
		return "dynamic-origin:2000", nil
	})

	origin, err := fw.selectOrigin()
	if err != nil {
		t.Fatal(err)
	}
	if origin.Host != "dynamic-origin" || origin.Port != 2000 {
		t.Fatalf("expected the resolver's origin, got %+v", origin)
	}
}

func TestForwarderBackendResolverFallsBackOnError(t *testing.T) {
	wc := &fakeWriteClient{}
	lb := upstream.NewLoadBalancer([]upstream.Origin{{Host: "static-origin", Port: 1935}})
	fw := NewForwarder("rtmp://v/app/s1", "v", "app", "s1", "rtmp", lb,
		func(scheme string) upstream.WriteClient { return wc },
		DefaultToMessage, 0, nil)
	fw.SetBackendResolver(func(streamURL string) (string, error) {
		return "", fmt.Errorf("backend unavailable")
	})

	origin, err := fw.selectOrigin()
	if err != nil {
		t.Fatal(err)
	}
	if origin.Host != "static-origin" {
		t.Fatalf("expected fallback to the static origin, got %+v", origin)
	}
}

func TestPublishEdgeGuardsConcurrentPublish(t *testing.T) {
	wc := &fakeWriteClient{}
	lb := upstream.NewLoadBalancer([]upstream.Origin{{Host: "o1", Port: 1935}})
	e := NewPublishEdge(func() *Forwarder {
		return NewForwarder("rtmp://v/app/s1", "v", "app", "s1", "rtmp", lb,
			func(scheme string) upstream.WriteClient { return wc },
			DefaultToMessage, 0, nil)
	}, nil)

	if !e.CanPublish() {
		t.Fatalf("expected CanPublish to be true before any publish starts")
	}

	if err := e.OnClientPublish(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.CanPublish() {
		t.Fatalf("expected CanPublish to be false while a publish is active")
	}
	if err := e.OnClientPublish(context.Background()); err != ErrAlreadyPublishing {
		t.Fatalf("expected ErrAlreadyPublishing on a concurrent publish attempt, got %v", err)
	}

	e.OnProxyUnpublish()
	if !e.CanPublish() {
		t.Fatalf("expected CanPublish to be true again after OnProxyUnpublish")
	}
}
