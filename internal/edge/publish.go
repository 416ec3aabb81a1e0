package edge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/zsiec/originhub/internal/mqueue"
	"github.com/zsiec/originhub/internal/packet"
	"github.com/zsiec/originhub/internal/upstream"
)

// ErrAlreadyPublishing is returned by OnClientPublish when a publish is
// already active on this edge.
var ErrAlreadyPublishing = fmt.Errorf("edge: already publishing")

// forwarderIdlePoll is how often an empty forwarder queue is rechecked.
// mqueue.Queue has no blocking-wait primitive of its own (that shape
// lives on internal/consumer, owned by a single playing task); a short
// poll is simpler than adding a condvar to mqueue for this one caller.
const forwarderIdlePoll = 20 * time.Millisecond

// WriterFactory constructs an unconnected upstream.WriteClient for the
// given scheme — in practice always "rtmp", since HTTP-FLV is pull-only.
type WriterFactory func(scheme string) upstream.WriteClient

// Forwarder pumps packets from a bounded queue to an upstream sink
// connection, reusing C2's bounded-queue + shrink-on-overflow policy
// (spec.md §4.11: "same bounded-queue + shrink-on-overflow policy as
// C2").
type Forwarder struct {
	log       *slog.Logger
	streamURL string
	vhost     string
	app       string
	stream    string
	scheme    string
	lb        *upstream.LoadBalancer
	newClient WriterFactory
	toMessage func(pkt *packet.Packet) upstream.Message

	queue *mqueue.Queue

	resolveBackend func(streamURL string) (string, error)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// SetBackendResolver installs the forward_backend hook (spec.md §6):
// when set, Start tries resolve(streamURL) for a dynamic "host:port"
// destination before falling back to the static edge.origin list. A nil
// resolver (the default) always uses the static list.
func (f *Forwarder) SetBackendResolver(resolve func(streamURL string) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveBackend = resolve
}

// NewForwarder builds a Forwarder for one stream-url.
func NewForwarder(streamURL, vhost, app, stream, scheme string, lb *upstream.LoadBalancer, newClient WriterFactory, toMessage func(*packet.Packet) upstream.Message, maxQueueSize int64, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{
		log:       log.With("component", "forwarder", "stream", streamURL),
		streamURL: streamURL,
		vhost:     vhost,
		app:       app,
		stream:    stream,
		scheme:    scheme,
		lb:        lb,
		newClient: newClient,
		toMessage: toMessage,
		queue:     mqueue.New(maxQueueSize),
	}
}

// Start connects to the selected origin and begins the pump loop.
func (f *Forwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}

	origin, err := f.selectOrigin()
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("forwarder: select origin: %w", err)
	}

	client := f.newClient(f.scheme)
	connectCtx, connectCancel := context.WithTimeout(ctx, upstream.DefaultConnectTimeout)
	err = client.Connect(connectCtx, upstream.Request{
		Vhost: f.vhost, App: f.app, Stream: f.stream,
		Host: origin.Host, Port: origin.Port,
	})
	connectCancel()
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("forwarder: connect to %v: %w", origin, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	f.running = true
	f.cancel = cancel
	f.done = make(chan struct{})
	f.mu.Unlock()

	go f.pump(runCtx, client)
	return nil
}

// selectOrigin tries the forward_backend resolver first, falling back to
// the static edge.origin round-robin list on a nil resolver, an error,
// or an unparseable "host:port" result.
func (f *Forwarder) selectOrigin() (upstream.Origin, error) {
	if f.resolveBackend != nil {
		if hostPort, err := f.resolveBackend(f.streamURL); err == nil && hostPort != "" {
			if origin, perr := parseOrigin(hostPort); perr == nil {
				return origin, nil
			}
		}
	}
	return f.lb.Select(f.streamURL)
}

func parseOrigin(hostPort string) (upstream.Origin, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return upstream.Origin{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return upstream.Origin{}, err
	}
	return upstream.Origin{Host: host, Port: port}, nil
}

// Enqueue enqueues a defensive copy of pkt — the spec.md §4.11
// on_proxy_publish(msg) contract.
func (f *Forwarder) Enqueue(pkt *packet.Packet) {
	f.queue.Enqueue(pkt.Copy())
}

// Stop cancels the pump loop and waits for it to exit.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	cancel := f.cancel
	done := f.done
	f.running = false
	f.mu.Unlock()

	cancel()
	<-done
}

func (f *Forwarder) pump(ctx context.Context, client upstream.WriteClient) {
	defer close(f.done)
	defer client.Close()

	idle := time.NewTicker(forwarderIdlePoll)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		pkts := f.queue.DumpPackets(0)
		if len(pkts) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}
		for _, pkt := range pkts {
			if err := client.WriteMessage(f.toMessage(pkt)); err != nil {
				f.log.Warn("forwarder write failed, tearing down publish", "error", err)
				return
			}
		}
	}
}

// PublishEdge forwards local publishes to an upstream origin. can_publish
// guards concurrent local publishes; on_client_publish starts a forwarder
// and on_proxy_publish enqueues into it (spec.md §4.11).
type PublishEdge struct {
	log          *slog.Logger
	newForwarder func() *Forwarder

	mu        sync.Mutex
	active    bool
	forwarder *Forwarder
}

// NewPublishEdge creates a PublishEdge. newForwarder constructs a fresh
// Forwarder each time a publish cycle begins.
func NewPublishEdge(newForwarder func() *Forwarder, log *slog.Logger) *PublishEdge {
	if log == nil {
		log = slog.Default()
	}
	return &PublishEdge{
		log:          log.With("component", "publish-edge"),
		newForwarder: newForwarder,
	}
}

// CanPublish reports whether a new local publish may start.
func (e *PublishEdge) CanPublish() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.active
}

// OnClientPublish starts a forwarder for a newly arrived local publisher.
func (e *PublishEdge) OnClientPublish(ctx context.Context) error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return ErrAlreadyPublishing
	}
	fw := e.newForwarder()
	e.mu.Unlock()

	if err := fw.Start(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	e.active = true
	e.forwarder = fw
	e.mu.Unlock()
	return nil
}

// OnProxyPublish enqueues a copy of pkt into the running forwarder's
// queue. A no-op if no publish is active.
func (e *PublishEdge) OnProxyPublish(pkt *packet.Packet) {
	e.mu.Lock()
	fw := e.forwarder
	e.mu.Unlock()
	if fw != nil {
		fw.Enqueue(pkt)
	}
}

// OnProxyUnpublish stops the running forwarder.
func (e *PublishEdge) OnProxyUnpublish() {
	e.mu.Lock()
	fw := e.forwarder
	e.forwarder = nil
	e.active = false
	e.mu.Unlock()

	if fw != nil {
		fw.Stop()
	}
}
