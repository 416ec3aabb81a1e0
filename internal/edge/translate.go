package edge

import (
	"github.com/zsiec/originhub/internal/packet"
	"github.com/zsiec/originhub/internal/upstream"
)

// DefaultToMessage is the forwarder's push-direction counterpart to
// DefaultTranslator: packet.Packet -> upstream.Message.
func DefaultToMessage(pkt *packet.Packet) upstream.Message {
	mt := upstream.MessageMetadata
	switch pkt.Type {
	case packet.TypeAudio:
		mt = upstream.MessageAudio
	case packet.TypeVideo:
		mt = upstream.MessageVideo
	}
	return upstream.Message{
		Type:       mt,
		Payload:    pkt.Payload,
		Timestamp:  pkt.Timestamp,
		IsKeyframe: pkt.IsKeyframe,
		IsSequence: pkt.IsSequence,
	}
}

// DefaultTranslator turns an upstream.Message into a packet.Packet,
// carrying the payload through unchanged — the parsing needed to derive
// codec/format details happens downstream in source.OnAudio/OnVideo via
// the shared metacache parser, the same division of labor spec.md §9
// describes for "format handles" derived once and reused.
func DefaultTranslator(streamID string) PacketTranslator {
	return func(msg upstream.Message) (*packet.Packet, error) {
		pt := packet.TypeScript
		switch msg.Type {
		case upstream.MessageAudio:
			pt = packet.TypeAudio
		case upstream.MessageVideo:
			pt = packet.TypeVideo
		}
		return &packet.Packet{
			Payload:    msg.Payload,
			Type:       pt,
			Timestamp:  msg.Timestamp,
			StreamID:   streamID,
			AVSyncTime: packet.NoAVSync,
			IsKeyframe: msg.IsKeyframe,
			IsSequence: msg.IsSequence,
		}, nil
	}
}
