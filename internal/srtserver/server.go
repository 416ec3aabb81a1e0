package srtserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/originhub/internal/bridge"
	"github.com/zsiec/originhub/internal/registry"
)

// srtReadBufferSize is the read buffer for SRT socket reads, sized for
// 10 MPEG-TS multiples (1316 bytes = 7 * 188, the standard SRT payload
// size), matching ingest/srt/server.go's sizing.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// Server accepts SRT publish connections and feeds each one's raw
// MPEG-TS bytes into a fresh bridge.SRTBridge bound to the registry's
// Source for that stream.
type Server struct {
	log      *slog.Logger
	addr     string
	vhost    string
	registry *registry.Registry
}

// NewServer creates an SRT server listening on addr. Streams are
// registered under "srt://<vhost>/<stream-key>", the stream-key taken
// from the SRT StreamID. If log is nil, slog.Default() is used.
func NewServer(addr, vhost string, reg *registry.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		vhost:    vhost,
		registry: reg,
	}
}

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("srtserver: listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()

	streamKey := extractStreamKey(conn.StreamID())
	streamURL := fmt.Sprintf("srt://%s/%s", s.vhost, streamKey)
	log := s.log.With("stream", streamURL, "remote", conn.RemoteAddr())

	src, err := s.registry.FetchOrCreate(streamURL)
	if err != nil {
		log.Warn("failed to create source", "error", err)
		return
	}
	if err := src.OnPublish(); err != nil {
		log.Warn("publish rejected", "error", err)
		return
	}
	defer src.OnUnpublish()

	b := bridge.NewSRTBridge(src, nil, bridge.SSRCs{}, bridge.FilterOptions{}, log)
	b.OnPublish()
	defer b.OnUnpublish()

	buf := make([]byte, srtReadBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read error", "error", err)
			}
			return
		}
		if err := b.OnPacket(buf[:n]); err != nil {
			log.Debug("bridge rejected packet", "error", err)
			return
		}
	}
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
