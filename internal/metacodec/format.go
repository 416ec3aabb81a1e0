package metacodec

import (
	"fmt"

	"github.com/zsiec/originhub/internal/metacache"
)

// audio SoundFormat nibble values, FLV tag header byte 0 bits 7-4.
const (
	soundFormatAAC = 10
	soundFormatMP3 = 2
)

// audio SoundRate nibble values, FLV tag header byte 0 bits 3-2.
var soundRates = [4]int{5500, 11000, 22050, 44100}

// video CodecID nibble values, FLV tag header byte 0 bits 3-0.
const (
	videoCodecAVC  = 7
	videoCodecHEVC = 12 // enhanced-RTMP FourCC path also lands here
)

// TagHeaderFormatParser implements metacache.FormatParser using only the
// FLV audio/video tag header bits spec.md §4.10 already has this module
// decode elsewhere for sequence-header/keyframe detection (see
// internal/upstream/httpflv.go's DemuxTag). It deliberately does not
// parse SPS/VPS or AudioSpecificConfig bitstreams: actual codec-internal
// parsing is out of scope (spec.md §1), so VideoFormat.Width/Height and
// VideoFormat.Profile are always left at their zero value here. A
// deployment that needs those fields wires a real parser (e.g. one
// built on bluenviron/mediacommon's h264/h265 SPS readers) behind this
// same interface instead.
type TagHeaderFormatParser struct{}

// NewTagHeaderFormatParser returns a TagHeaderFormatParser. It holds no
// state.
func NewTagHeaderFormatParser() *TagHeaderFormatParser { return &TagHeaderFormatParser{} }

// ParseAudio reads SoundFormat/SoundRate/SoundType out of the first
// header byte of an AAC/MP3 audio tag payload.
func (TagHeaderFormatParser) ParseAudio(payload []byte) (metacache.AudioFormat, error) {
	if len(payload) < 1 {
		return metacache.AudioFormat{}, fmt.Errorf("metacodec: parse audio: empty payload")
	}
	header := payload[0]
	soundFormat := header >> 4
	soundRate := (header >> 2) & 0x03
	soundType := header & 0x01

	channels := 1
	if soundType == 1 {
		channels = 2
	}

	switch soundFormat {
	case soundFormatAAC:
		// AAC always reports 44.1kHz stereo at the FLV tag-header level;
		// the real sample rate/channel count live in the AudioSpecificConfig
		// this parser does not decode.
		return metacache.AudioFormat{CodecID: "aac", SampleRate: 44100, Channels: 2}, nil
	case soundFormatMP3:
		return metacache.AudioFormat{CodecID: "mp3", SampleRate: soundRates[soundRate], Channels: channels}, nil
	default:
		return metacache.AudioFormat{CodecID: fmt.Sprintf("flv-sound-%d", soundFormat), SampleRate: soundRates[soundRate], Channels: channels}, nil
	}
}

// ParseVideo reads CodecID out of the first header byte of an
// AVC/HEVC video tag payload. Width/Height/Profile are left zero; see
// the type doc comment.
func (TagHeaderFormatParser) ParseVideo(payload []byte) (metacache.VideoFormat, error) {
	if len(payload) < 1 {
		return metacache.VideoFormat{}, fmt.Errorf("metacodec: parse video: empty payload")
	}
	codecID := payload[0] & 0x0f

	switch codecID {
	case videoCodecAVC:
		return metacache.VideoFormat{CodecID: "h264"}, nil
	case videoCodecHEVC:
		return metacache.VideoFormat{CodecID: "hevc"}, nil
	default:
		return metacache.VideoFormat{CodecID: fmt.Sprintf("flv-video-%d", codecID)}, nil
	}
}
