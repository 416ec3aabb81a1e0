package rtsp

import (
	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/bluenviron/gortsplib/v5/pkg/format"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// buildSession turns the tracks a StreamProvider describes into a
// gortsplib SDP session, one description.Media per track in order.
func buildSession(tracks []TrackDescription) *description.Session {
	desc := &description.Session{}
	for _, t := range tracks {
		media := buildMedia(t)
		if media != nil {
			desc.Medias = append(desc.Medias, media)
		}
	}
	return desc
}

func buildMedia(t TrackDescription) *description.Media {
	f := buildFormat(t)
	if f == nil {
		return nil
	}
	mediaType := description.MediaTypeVideo
	if t.Audio {
		mediaType = description.MediaTypeAudio
	}
	return &description.Media{Type: mediaType, Formats: []format.Format{f}}
}

func buildFormat(t TrackDescription) format.Format {
	switch t.CodecID {
	case "h264":
		return &format.H264{
			PayloadTyp:        t.PayloadType,
			SPS:               t.SPS,
			PPS:               t.PPS,
			PacketizationMode: 1,
		}
	case "h265", "hevc":
		return &format.H265{
			PayloadTyp: t.PayloadType,
			VPS:        t.VPS,
			SPS:        t.SPS,
			PPS:        t.PPS,
		}
	case "aac":
		return &format.MPEG4Audio{
			PayloadTyp:       t.PayloadType,
			SizeLength:       13,
			IndexLength:      3,
			IndexDeltaLength: 3,
			Config: &mpeg4audio.AudioSpecificConfig{
				Type:          mpeg4audio.ObjectTypeAACLC,
				SampleRate:    t.SampleRate,
				ChannelConfig: t.Channels,
			},
		}
	default:
		return nil
	}
}
