package dvr

import (
	"time"

	"github.com/zsiec/originhub/internal/metacache"
	"github.com/zsiec/originhub/internal/packet"
)

// Fragment describes a segmenter's current output file.
type Fragment struct {
	Path     string
	Duration time.Duration
	Size     int64
}

// Segmenter is the abstract contract both the FLV and the fMP4 writer
// implement (spec.md §4.15): open a fresh file, accept metadata/audio/
// video packets, and close it out. PatchDuration is called by a plan on
// every packet so a concrete segmenter can maintain its own notion of
// elapsed duration (the "on_update_duration" spec.md names).
type Segmenter interface {
	Open(path string) error
	WriteMetadata(pkt *packet.Packet) error
	WriteAudio(pkt *packet.Packet, format metacache.AudioFormat) error
	WriteVideo(pkt *packet.Packet, format metacache.VideoFormat) error
	PatchDuration(pkt *packet.Packet)
	Close() error
	Current() Fragment
}

// Factory builds a fresh Segmenter instance; the segment plan calls it
// once per reap, the session plan once per publish.
type Factory func() Segmenter

// FormatSource is the narrow capability the DVR plan needs from the
// source's meta cache: the concrete audio/video codec parameters a
// segmenter needs alongside each packet it writes.
type FormatSource interface {
	AudioFormat() metacache.AudioFormat
	VideoFormat() metacache.VideoFormat
}

// HooksClient is the external HTTP hooks collaborator. on_dvr fires once
// per configured URL whenever a fragment closes (spec.md §6); failures
// are logged, not fatal.
type HooksClient interface {
	OnDVR(url, contextID, request, path string) error
}

// PathFunc expands the DVR path template (spec.md §6's
// "[vhost] [app] [stream] [timestamp] ...", a helper outside the core)
// into a fresh destination path for the next file.
type PathFunc func() string
