package dvr

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/zsiec/originhub/internal/metacache"
	"github.com/zsiec/originhub/internal/packet"
)

// FLV tag types (ISO/Adobe FLV file format), matching the constants
// internal/upstream/httpflv.go already reads off an HTTP-FLV response
// body — this segmenter is that same byte layout in the write direction.
const (
	flvTagAudio  = 8
	flvTagVideo  = 9
	flvTagScript = 18
)

// FLVSegmenter writes packets to a plain FLV file (spec.md §4.15): a
// temporary filename until close, an onMetaData tag stripped of
// duration/filesize and carrying a service string, and a dedicated
// trailing "footer" script tag holding just duration+filesize that this
// segmenter seek-patches on every refresh.
//
// Byte-offset patching of duration/filesize inside the onMetaData tag
// itself (as spec.md's prose describes) needs exact control over the
// AMF0 wire layout, which the external MetadataCodec deliberately hides
// (spec.md §1 keeps AMF0 encoding out of scope). This segmenter instead
// owns a second, minimal AMF0 encoding used only for that duration/
// filesize pair, so it can patch it without reaching into the codec's
// opaque output.
type FLVSegmenter struct {
	codec                     metacache.MetadataCodec
	serverName, serverVersion string

	finalPath, tmpPath string
	f                  *os.File

	opened      bool
	metaWritten bool

	haveFooter       bool
	footerDataOffset int64

	haveFirst      bool
	firstTimestamp int64
	duration       time.Duration

	offset int64
	size   int64
}

// NewFLVSegmenter returns a Factory producing fresh FLVSegmenter
// instances, each bound to codec for decoding/re-encoding onMetaData's
// non-reserved properties.
func NewFLVSegmenter(codec metacache.MetadataCodec, serverName, serverVersion string) Factory {
	return func() Segmenter {
		return &FLVSegmenter{codec: codec, serverName: serverName, serverVersion: serverVersion}
	}
}

var flvFileHeader = []byte{'F', 'L', 'V', 0x01, 0x05, 0, 0, 0, 9, 0, 0, 0, 0}

// Open creates path's temporary file and writes the FLV file header.
func (s *FLVSegmenter) Open(path string) error {
	s.finalPath = path
	s.tmpPath = path + ".tmp"

	f, err := os.Create(s.tmpPath)
	if err != nil {
		return fmt.Errorf("dvr/flv: create %q: %w", s.tmpPath, err)
	}
	if _, err := f.Write(flvFileHeader); err != nil {
		f.Close()
		return fmt.Errorf("dvr/flv: write file header: %w", err)
	}

	s.f = f
	s.offset = int64(len(flvFileHeader))
	s.size = s.offset
	s.opened = true
	s.metaWritten = false
	s.haveFooter = false
	s.haveFirst = false
	s.duration = 0
	return nil
}

// WriteMetadata writes pkt as the onMetaData script tag on first call,
// stripping duration/filesize and injecting a service string, plus a
// reserved footer tag for those two fields; later script packets (e.g. a
// republished onMetaData or onTextData) pass through unchanged.
func (s *FLVSegmenter) WriteMetadata(pkt *packet.Packet) error {
	if s.metaWritten {
		return s.writeTag(flvTagScript, pkt.Timestamp, pkt.Payload)
	}

	props, err := s.codec.Decode(pkt.Payload)
	if err != nil {
		return fmt.Errorf("dvr/flv: decode metadata: %w", err)
	}
	delete(props, "duration")
	delete(props, "filesize")
	props["service"] = s.serverName + " " + s.serverVersion

	body, err := s.codec.Encode(props)
	if err != nil {
		return fmt.Errorf("dvr/flv: encode metadata: %w", err)
	}
	if err := s.writeTag(flvTagScript, pkt.Timestamp, body); err != nil {
		return err
	}

	s.footerDataOffset = s.offset + 11
	if err := s.writeTag(flvTagScript, pkt.Timestamp, encodeDurationFooter(0, 0)); err != nil {
		return err
	}
	s.haveFooter = true
	s.metaWritten = true
	return nil
}

// WriteAudio writes pkt's raw RTMP audio payload as an audio tag.
func (s *FLVSegmenter) WriteAudio(pkt *packet.Packet, _ metacache.AudioFormat) error {
	return s.writeTag(flvTagAudio, pkt.Timestamp, pkt.Payload)
}

// WriteVideo writes pkt's raw RTMP video payload as a video tag.
func (s *FLVSegmenter) WriteVideo(pkt *packet.Packet, _ metacache.VideoFormat) error {
	return s.writeTag(flvTagVideo, pkt.Timestamp, pkt.Payload)
}

// PatchDuration maintains the fragment's elapsed duration from the first
// packet timestamp seen (spec.md §4.15's on_update_duration).
func (s *FLVSegmenter) PatchDuration(pkt *packet.Packet) {
	if !s.haveFirst {
		s.firstTimestamp = pkt.Timestamp
		s.haveFirst = true
	}
	if d := time.Duration(pkt.Timestamp-s.firstTimestamp) * time.Millisecond; d > s.duration {
		s.duration = d
	}
}

// Close does a final duration/filesize refresh, closes the temp file,
// and renames it to its final path.
func (s *FLVSegmenter) Close() error {
	if !s.opened {
		return nil
	}
	if err := s.refreshFooter(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("dvr/flv: close %q: %w", s.tmpPath, err)
	}
	if err := os.Rename(s.tmpPath, s.finalPath); err != nil {
		return fmt.Errorf("dvr/flv: rename %q -> %q: %w", s.tmpPath, s.finalPath, err)
	}
	s.opened = false
	return nil
}

// Current reports the fragment's eventual final path (valid even before
// Close renames the temp file into place) along with its running
// duration and size.
func (s *FLVSegmenter) Current() Fragment {
	return Fragment{Path: s.finalPath, Duration: s.duration, Size: s.size}
}

func (s *FLVSegmenter) refreshFooter() error {
	if !s.haveFooter {
		return nil
	}
	footer := encodeDurationFooter(s.duration.Seconds(), float64(s.size))
	if _, err := s.f.WriteAt(footer, s.footerDataOffset); err != nil {
		return fmt.Errorf("dvr/flv: patch duration/filesize: %w", err)
	}
	return nil
}

func (s *FLVSegmenter) writeTag(tagType byte, timestamp int64, data []byte) error {
	ts := uint32(timestamp)
	header := make([]byte, 11)
	header[0] = tagType
	putUint24(header[1:4], uint32(len(data)))
	putUint24(header[4:7], ts&0xFFFFFF)
	header[7] = byte(ts >> 24)

	if _, err := s.f.Write(header); err != nil {
		return fmt.Errorf("dvr/flv: write tag header: %w", err)
	}
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("dvr/flv: write tag data: %w", err)
	}
	var prevSize [4]byte
	binary.BigEndian.PutUint32(prevSize[:], uint32(11+len(data)))
	if _, err := s.f.Write(prevSize[:]); err != nil {
		return fmt.Errorf("dvr/flv: write prev tag size: %w", err)
	}

	s.offset += int64(11 + len(data) + 4)
	s.size = s.offset
	return nil
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// encodeDurationFooter builds a tiny standalone AMF0 ECMA array holding
// exactly {duration, filesize} as numbers, fixed in size for any value
// (an AMF0 number is always a 1-byte marker + 8-byte IEEE754 double), so
// refreshFooter can always overwrite it in place without shifting any
// byte that follows it in the file.
func encodeDurationFooter(duration, filesize float64) []byte {
	buf := make([]byte, 0, 48)
	buf = append(buf, 0x08)                 // ECMA array marker
	buf = append(buf, 0x00, 0x00, 0x00, 0x02) // property count
	buf = appendAMF0Number(buf, "duration", duration)
	buf = appendAMF0Number(buf, "filesize", filesize)
	buf = append(buf, 0x00, 0x00, 0x09) // object-end marker
	return buf
}

func appendAMF0Number(buf []byte, name string, val float64) []byte {
	buf = append(buf, byte(len(name)>>8), byte(len(name)))
	buf = append(buf, name...)
	buf = append(buf, 0x00) // number-type marker
	var bits [8]byte
	binary.BigEndian.PutUint64(bits[:], math.Float64bits(val))
	return append(buf, bits[:]...)
}
