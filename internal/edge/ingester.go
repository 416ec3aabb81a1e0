package edge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/zsiec/originhub/internal/packet"
	"github.com/zsiec/originhub/internal/source"
	"github.com/zsiec/originhub/internal/upstream"
)

// retryPause mirrors bluenviron/mediamtx's sourcertmp reconnect pause
// (other_examples, 8499a4f5_...sourcertmp-source.go.go).
const retryPause = 5 * time.Second

// ClientFactory constructs an unconnected upstream.Client for the given
// scheme ("rtmp" or "http-flv" per the vhost's edge.origin entry).
type ClientFactory func(scheme string) upstream.Client

// PacketTranslator turns a raw upstream.Message into a packet.Packet,
// the way the upstream client's caller (not the client itself) owns
// codec/AMF0 interpretation per spec.md §4.10 ("decode_message ... only
// needed for control messages").
type PacketTranslator func(msg upstream.Message) (*packet.Packet, error)

// sourceSink is the subset of *source.Source an Ingester drives.
type sourceSink interface {
	OnAudio(pkt *packet.Packet) error
	OnVideo(pkt *packet.Packet) error
	OnMetaData(pkt *packet.Packet) error
}

var _ sourceSink = (*source.Source)(nil)

// StreamIngester implements Ingester: it round-robin-selects an origin,
// connects an upstream.Client, and pulls messages into a source until
// stopped. A failed connect or an ended pull waits retryPause and then
// reconnects; a redirect reconnects at once to the named address.
// Grounded on spec.md §4.10's Ingester description.
type StreamIngester struct {
	log        *slog.Logger
	streamURL  string
	vhost      string
	app        string
	stream     string
	scheme     string
	lb         *upstream.LoadBalancer
	newClient  ClientFactory
	translate  PacketTranslator
	sink       sourceSink
	recvWindow time.Duration

	wg sync.WaitGroup
}

// NewStreamIngester builds a StreamIngester for one stream-url.
func NewStreamIngester(streamURL, vhost, app, stream, scheme string, lb *upstream.LoadBalancer, newClient ClientFactory, translate PacketTranslator, sink sourceSink, log *slog.Logger) *StreamIngester {
	if log == nil {
		log = slog.Default()
	}
	return &StreamIngester{
		log:        log.With("component", "ingester", "stream", streamURL),
		streamURL:  streamURL,
		vhost:      vhost,
		app:        app,
		stream:     stream,
		scheme:     scheme,
		lb:         lb,
		newClient:  newClient,
		translate:  translate,
		sink:       sink,
		recvWindow: upstream.DefaultStreamTimeout,
	}
}

// Start launches the connect+pull loop in a goroutine.
func (i *StreamIngester) Start(ctx context.Context, onConnected func()) {
	i.wg.Add(1)
	go i.run(ctx, onConnected)
}

// Stop waits for the loop to exit; callers cancel the context passed to
// Start first.
func (i *StreamIngester) Stop() {
	i.wg.Wait()
}

func (i *StreamIngester) run(ctx context.Context, onConnected func()) {
	defer i.wg.Done()

	scheme := i.scheme
	// pinned holds a redirect target that must be used verbatim on the
	// next Connect call instead of asking the load balancer for the next
	// origin in rotation — a redirect names a specific server.
	var pinned *upstream.Origin

	for {
		if ctx.Err() != nil {
			return
		}

		var origin upstream.Origin
		if pinned != nil {
			origin = *pinned
			pinned = nil
		} else {
			var err error
			origin, err = i.lb.Select(i.streamURL)
			if err != nil {
				i.log.Error("no origin configured", "error", err)
				return
			}
		}

		connectTimeout, cancel := context.WithTimeout(ctx, upstream.DefaultConnectTimeout)
		client := i.newClient(scheme)
		err := client.Connect(connectTimeout, upstream.Request{
			Vhost: i.vhost, App: i.app, Stream: i.stream,
			Host: origin.Host, Port: origin.Port,
		})
		cancel()
		if err != nil {
			i.log.Warn("connect failed", "origin", origin, "error", err)
			if !i.sleepOrDone(ctx, retryPause) {
				return
			}
			continue
		}

		client.SetRecvTimeout(i.recvWindow)
		if onConnected != nil {
			onConnected()
		}

		redirectTo, err := i.pump(ctx, client)
		client.Close()

		if redirectTo != "" {
			// The origin asked us to reconnect elsewhere; pin that exact
			// address for the next iteration instead of consulting the
			// load balancer (a redirect targets a specific server, not
			// "the next one in rotation").
			if next, perr := parseHostPort(redirectTo); perr == nil {
				pinned = &next
				i.log.Info("redirected", "to", redirectTo)
			} else {
				i.log.Warn("redirected to unparsable address, falling back to load balancer", "to", redirectTo, "error", perr)
			}
			continue
		}
		if err != nil {
			i.log.Warn("pull loop ended", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
		if !i.sleepOrDone(ctx, retryPause) {
			return
		}
	}
}

// parseHostPort splits a redirect address of the form "host:port" into an
// upstream.Origin.
func parseHostPort(addr string) (upstream.Origin, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return upstream.Origin{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return upstream.Origin{}, err
	}
	return upstream.Origin{Host: host, Port: port}, nil
}

// pump reads messages until ctx is done, a redirect is requested, or a
// hard error occurs. A non-empty redirectTo return means the caller
// should reconnect to that address rather than treat this as failure.
func (i *StreamIngester) pump(ctx context.Context, client upstream.Client) (redirectTo string, err error) {
	for {
		if ctx.Err() != nil {
			return "", nil
		}

		msg, err := client.RecvMessage()
		if err != nil {
			var redirect *upstream.RedirectError
			if errors.As(err, &redirect) {
				return redirect.Addr, nil
			}
			return "", err
		}

		if msg.Type == upstream.MessageCommand {
			// Control messages (connect-response, etc.) are consumed by
			// the client's own handshake; anything surfacing here at the
			// pump level is diagnostic only.
			continue
		}

		pkt, err := i.translate(msg)
		if err != nil {
			i.log.Warn("dropping undecodable message", "type", msg.Type, "error", err)
			continue
		}

		switch msg.Type {
		case upstream.MessageAudio:
			err = i.sink.OnAudio(pkt)
		case upstream.MessageVideo:
			err = i.sink.OnVideo(pkt)
		case upstream.MessageMetadata:
			err = i.sink.OnMetaData(pkt)
		}
		if err != nil {
			i.log.Warn("source rejected ingested packet", "type", msg.Type, "error", err)
		}
	}
}

func (i *StreamIngester) sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ Ingester = (*StreamIngester)(nil)
