package config

import (
	"time"

	"github.com/zsiec/originhub/internal/hub"
	"github.com/zsiec/originhub/internal/jitter"
)

// VhostConfig is the recognised set of per-vhost options spec.md §6
// names. A zero-value VhostConfig with withDefaults applied behaves like
// a conservative default origin vhost: GOP cache on, full jitter
// correction, no edge/DVR/forward.
type VhostConfig struct {
	Name string

	GOPCache          bool
	GOPCacheMaxFrames int // 0 = unlimited

	QueueLength time.Duration // consumer queue overflow threshold

	MixCorrect bool
	TimeJitter jitter.Algorithm

	ATC     bool
	ATCAuto bool // metadata-driven opt-in via the bravo_atc property

	ReduceSequenceHeader bool
	ParseSPS             bool
	TryAnnexBFirst       bool

	IsEdge bool
	Edge   EdgeConfig

	ForwardEnabled bool
	Forward        []string // dest host:port list
	ForwardBackend string   // URL for dynamic destination discovery

	HLSOnError hub.HLSErrorMode

	DVR DVRConfig

	RTC RTCConfig

	Hooks HookURLs
}

// withDefaults returns a copy of c with documented defaults filled in.
// Only fields with a meaningful non-zero default are touched; booleans
// default to their Go zero value (false) per spec.md §6 unless noted.
func (c VhostConfig) withDefaults() VhostConfig {
	if c.QueueLength == 0 {
		c.QueueLength = 30 * time.Second
	}
	c.GOPCache = true
	c.TimeJitter = jitter.AlgoFull
	c.Edge = c.Edge.withDefaults()
	c.DVR = c.DVR.withDefaults()
	c.RTC = c.RTC.withDefaults()
	return c
}

// New builds a VhostConfig with its documented defaults applied, then lets
// opts override individual fields.
func New(opts ...func(*VhostConfig)) VhostConfig {
	c := VhostConfig{}.withDefaults()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// EdgeConfig is the `edge.*` option group (spec.md §6), consumed when
// IsEdge suppresses the hub and enables the play/publish edges.
type EdgeConfig struct {
	Origins        []string // host:port, tried in order by internal/upstream.LoadBalancer
	TransformVhost string   // template applied to the origin-side vhost name
	ConnectTimeout time.Duration
	StreamTimeout  time.Duration
}

func (c EdgeConfig) withDefaults() EdgeConfig {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 3 * time.Second
	}
	if c.StreamTimeout == 0 {
		c.StreamTimeout = 30 * time.Second
	}
	return c
}

// DVRPlan selects which of the two DVR plans (spec.md §4.15) a vhost
// runs.
type DVRPlan int

// Supported DVR plans.
const (
	DVRPlanSession DVRPlan = iota
	DVRPlanSegment
)

// DVRConfig is the `dvr.*` option group (spec.md §6).
type DVRConfig struct {
	Enabled      bool
	Plan         DVRPlan
	Path         string // path template, see path template tokens
	Duration     time.Duration
	WaitKeyframe bool
	TimeJitter   jitter.Algorithm
	Apply        []string // stream filter: only these streams are recorded, empty = all
	OnDVR        []string // on_dvr hook URLs
}

func (c DVRConfig) withDefaults() DVRConfig {
	if c.Path == "" {
		c.Path = "./dvr/[vhost]/[app]/[stream].[timestamp].flv"
	}
	if c.Duration == 0 {
		c.Duration = 30 * time.Second
	}
	return c
}

// Matches reports whether stream passes the Apply filter (empty Apply
// matches every stream).
func (c DVRConfig) Matches(stream string) bool {
	if len(c.Apply) == 0 {
		return true
	}
	for _, s := range c.Apply {
		if s == stream {
			return true
		}
	}
	return false
}

// RTCConfig is the RTSP SDP / RTC payload-type group (spec.md §6): the
// static payload-type-to-codec mapping a vhost advertises, since this
// core leaves dynamic SDP negotiation to the RTSP collaborator.
type RTCConfig struct {
	VideoPayloadType uint8
	VideoCodec       string // "h264" | "h265"
	AudioPayloadType uint8
	AudioCodec       string // "aac"
	SampleRate       int
	Channels         int
}

func (c RTCConfig) withDefaults() RTCConfig {
	if c.VideoCodec == "" {
		c.VideoCodec = "h264"
	}
	if c.VideoPayloadType == 0 {
		c.VideoPayloadType = 96
	}
	if c.AudioCodec == "" {
		c.AudioCodec = "aac"
	}
	if c.AudioPayloadType == 0 {
		c.AudioPayloadType = 97
	}
	if c.SampleRate == 0 {
		c.SampleRate = 44100
	}
	if c.Channels == 0 {
		c.Channels = 2
	}
	return c
}

// HookURLs groups the URL lists for each HTTP hook spec.md §6 names.
// Hooks with no configured URL are simply never called.
type HookURLs struct {
	OnPublish        []string
	OnUnpublish      []string
	OnPlay           []string
	OnStop           []string
	OnHLS            []string
	OnHLSNotify      []string
	OnForwardBackend []string
	OnConnect        []string
	OnClose          []string
}
