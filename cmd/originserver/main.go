// Command originserver runs the live-streaming origin core (spec.md):
// the per-stream registry, hub, DVR plans and HTTP hooks wired against a
// single vhost's configuration, fed by an SRT publish listener.
//
// RTMP and RTSP wire-protocol serving are deliberately not implemented
// here: spec.md's Non-goals keep transport-level framing and
// control-plane HTTP APIs out of scope, and no gortsplib server-handler
// usage is grounded anywhere in the retrieved pack. The registry.Factory
// built below is the integration point a real RTMP/RTSP listener would
// call into via Registry.FetchOrCreate; this binary exercises that same
// path through the one transport the module already wires end to end,
// SRT (see internal/srtserver and internal/bridge.SRTBridge).
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/originhub/internal/bridge"
	"github.com/zsiec/originhub/internal/config"
	"github.com/zsiec/originhub/internal/dvr"
	"github.com/zsiec/originhub/internal/hooks"
	"github.com/zsiec/originhub/internal/hub"
	"github.com/zsiec/originhub/internal/jitter"
	"github.com/zsiec/originhub/internal/metacache"
	"github.com/zsiec/originhub/internal/metacodec"
	"github.com/zsiec/originhub/internal/packet"
	"github.com/zsiec/originhub/internal/registry"
	"github.com/zsiec/originhub/internal/source"
	"github.com/zsiec/originhub/internal/srtserver"
	"github.com/zsiec/originhub/internal/stat"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	vhostName := envOr("VHOST_NAME", "__defaultVhost__")
	srtAddr := envOr("SRT_ADDR", ":6000")

	cfg := loadVhostConfig(vhostName)
	hooksClient := hooks.New(
		cfg.Hooks.OnPublish, cfg.Hooks.OnUnpublish, cfg.Hooks.OnStop,
		cfg.Hooks.OnHLS, cfg.Hooks.OnHLSNotify, cfg.Hooks.OnConnect, cfg.Hooks.OnClose,
		log,
	)
	stats := stat.New()

	log.Info("originserver starting",
		"version", version,
		"vhost", vhostName,
		"srt_addr", srtAddr,
		"dvr_enabled", cfg.DVR.Enabled,
		"gop_cache", cfg.GOPCache,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	reg := registry.New(sourceFactory(cfg, hooksClient, stats, log), onSourceCreated(log), log)
	srtSrv := srtserver.NewServer(srtAddr, vhostName, reg, log)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reg.Run(ctx)
	})
	g.Go(func() error {
		return srtSrv.Start(ctx)
	})
	g.Go(func() error {
		return logStats(ctx, stats, log)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// sourceFactory returns a registry.Factory that builds one fully wired
// Source per stream URL: a dedicated hub, an optional DVR plan attached
// to it as a sink, the AMF0/tag-header metadata collaborators, and the
// hooks/stat collaborators shared by every stream on this vhost.
func sourceFactory(cfg config.VhostConfig, hooksClient *hooks.Client, stats *stat.Collector, log *slog.Logger) registry.Factory {
	return func(streamURL string) (*source.Source, error) {
		looksLikeSH := func(pkt *packet.Packet) bool { return pkt.IsSequence }
		h := hub.New(cfg.HLSOnError, looksLikeSH, log)

		metaCodec := metacodec.NewAMF0Codec()
		parser := metacodec.NewTagHeaderFormatParser()

		// The DVR plan's FormatSource reads format off the Source's own
		// metacache, but the plan must exist before the Source does (it's
		// added to the hub the Source is constructed with). formats defers
		// the lookup through src, filled in once source.New returns below.
		var src *source.Source
		formats := deferredFormatSource{get: func() *source.Source { return src }}

		if cfg.DVR.Enabled && cfg.DVR.Matches(streamURL) {
			plan := buildDVRPlan(cfg, streamURL, h, metaCodec, formats, hooksClient, log)
			h.AddSink(plan, hub.PolicySoft)
		}

		br := bridge.NewRTMPBridge(nil, bridge.SSRCs{}, nil, bridge.SSRCs{}, bridge.FilterOptions{}, false)

		srcCfg := source.Config{
			MixCorrect:           cfg.MixCorrect,
			ATC:                  cfg.ATC,
			ATCAuto:              cfg.ATCAuto,
			ReduceSequenceHeader: cfg.ReduceSequenceHeader,
			ServerName:           "originhub",
			ServerVersion:        version,
		}

		src = source.New(streamURL, srcCfg, parser, metaCodec, h, br, hooksClient, stats, log)
		return src, nil
	}
}

// deferredFormatSource implements dvr.FormatSource by reading off a
// *source.Source that may not exist yet when the DVR plan is built; get
// returns nil until the enclosing factory finishes constructing it, at
// which point every subsequent call sees the real Source.
type deferredFormatSource struct {
	get func() *source.Source
}

func (d deferredFormatSource) AudioFormat() metacache.AudioFormat {
	if s := d.get(); s != nil {
		return s.Meta().AudioFormat()
	}
	return metacache.AudioFormat{}
}

func (d deferredFormatSource) VideoFormat() metacache.VideoFormat {
	if s := d.get(); s != nil {
		return s.Meta().VideoFormat()
	}
	return metacache.VideoFormat{}
}

// buildDVRPlan wires the configured DVR plan (session or segment) with
// an FLV segmenter and a path-template closure over streamURL.
func buildDVRPlan(cfg config.VhostConfig, streamURL string, h *hub.Hub, metaCodec metacache.MetadataCodec, formats dvr.FormatSource, hooksClient *hooks.Client, log *slog.Logger) hub.Sink {
	vhost, app, stream := splitStreamURL(streamURL)
	pathFn := dvr.PathFunc(func() string {
		return expandPath(cfg.DVR.Path, vhost, app, stream, time.Now())
	})
	segmenter := dvr.NewFLVSegmenter(metaCodec, "originhub", version)

	switch cfg.DVR.Plan {
	case config.DVRPlanSegment:
		return dvr.NewSegmentPlan(segmenter, pathFn, formats, h, hooksClient, cfg.DVR.OnDVR, streamURL, "dvr-segment", cfg.DVR.Duration, cfg.DVR.WaitKeyframe, log)
	default:
		return dvr.NewSessionPlan(segmenter, pathFn, formats, hooksClient, cfg.DVR.OnDVR, streamURL, "dvr-session", log)
	}
}

func onSourceCreated(log *slog.Logger) registry.CreatedHook {
	return func(streamURL string, s *source.Source) {
		log.Info("source created", "stream", streamURL)
	}
}

// logStats periodically logs every stream's current snapshot, standing
// in for the control-plane stats API spec.md's Non-goals keep out of
// scope (see the package doc comment).
func logStats(ctx context.Context, stats *stat.Collector, log *slog.Logger) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, snap := range stats.Snapshots() {
				log.Info("stream stats",
					"stream", snap.StreamURL,
					"clients", snap.Clients,
					"video_frames", snap.Video.TotalFrames,
					"video_codec", snap.Video.Codec,
					"audio_frames", snap.Audio.TotalFrames,
					"audio_codec", snap.Audio.Codec,
				)
			}
		}
	}
}

func loadVhostConfig(vhostName string) config.VhostConfig {
	return config.New(func(c *config.VhostConfig) {
		c.Name = vhostName
		c.MixCorrect = envBool("MIX_CORRECT", false)
		c.ATC = envBool("ATC", false)
		c.ATCAuto = envBool("ATC_AUTO", false)
		c.ReduceSequenceHeader = envBool("REDUCE_SEQUENCE_HEADER", true)
		c.TimeJitter = envJitterAlgo("TIME_JITTER", jitter.AlgoFull)

		c.DVR.Enabled = envBool("DVR_ENABLED", false)
		c.DVR.Plan = envDVRPlan("DVR_PLAN", config.DVRPlanSession)
		if path := os.Getenv("DVR_PATH"); path != "" {
			c.DVR.Path = path
		}
		c.DVR.Duration = envDuration("DVR_DURATION", c.DVR.Duration)
		c.DVR.WaitKeyframe = envBool("DVR_WAIT_KEYFRAME", true)
		c.DVR.Apply = envList("DVR_APPLY")
		c.DVR.OnDVR = envList("HOOK_ON_DVR")

		c.HLSOnError = envHLSErrorMode("HLS_ON_ERROR", hub.HLSErrorContinue)

		c.Hooks.OnPublish = envList("HOOK_ON_PUBLISH")
		c.Hooks.OnUnpublish = envList("HOOK_ON_UNPUBLISH")
		c.Hooks.OnStop = envList("HOOK_ON_STOP")
		c.Hooks.OnHLS = envList("HOOK_ON_HLS")
		c.Hooks.OnHLSNotify = envList("HOOK_ON_HLS_NOTIFY")
		c.Hooks.OnConnect = envList("HOOK_ON_CONNECT")
		c.Hooks.OnClose = envList("HOOK_ON_CLOSE")
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envJitterAlgo(key string, fallback jitter.Algorithm) jitter.Algorithm {
	switch os.Getenv(key) {
	case "off":
		return jitter.AlgoOff
	case "zero":
		return jitter.AlgoZero
	case "full":
		return jitter.AlgoFull
	default:
		return fallback
	}
}

func envDVRPlan(key string, fallback config.DVRPlan) config.DVRPlan {
	switch os.Getenv(key) {
	case "session":
		return config.DVRPlanSession
	case "segment":
		return config.DVRPlanSegment
	default:
		return fallback
	}
}

func envHLSErrorMode(key string, fallback hub.HLSErrorMode) hub.HLSErrorMode {
	switch os.Getenv(key) {
	case "ignore":
		return hub.HLSErrorIgnore
	case "continue":
		return hub.HLSErrorContinue
	case "disconnect":
		return hub.HLSErrorDisconnect
	default:
		return fallback
	}
}
