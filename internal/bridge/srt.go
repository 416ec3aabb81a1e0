package bridge

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/rtp"

	"github.com/zsiec/originhub/internal/demux"
	"github.com/zsiec/originhub/internal/mpegts"
	"github.com/zsiec/originhub/internal/packet"
)

// MPEG-TS stream_type values this bridge recognizes (ISO/IEC 13818-1
// Table 2-34 plus the ATSC/DVB-assigned HEVC type).
const (
	streamTypeH264 = 0x1B
	streamTypeHEVC = 0x24
	streamTypeAAC  = 0x0F
)

// SRTBridge is the SRT stream bridge (spec.md §4.12): it demuxes the
// incoming MPEG-TS stream into elementary frames (on_packet), then fans
// each frame out to the RTMP live source and to RTC (on_frame).
type SRTBridge struct {
	log *slog.Logger

	rtmpSink RTMPSink
	rtc      *rtpEgress
	rtcSink  RTCSink

	mu         sync.Mutex
	pw         *io.PipeWriter
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	pidCodec   map[uint16]uint8 // elementary PID -> stream_type
}

// NewSRTBridge builds an SRT bridge. rtmpSink receives demuxed frames
// for the RTMP live source; rtcSink (optional) receives the same frames
// packetized as RTP.
func NewSRTBridge(rtmpSink RTMPSink, rtcSink RTCSink, rtcSSRCs SSRCs, filter FilterOptions, log *slog.Logger) *SRTBridge {
	if log == nil {
		log = slog.Default()
	}
	return &SRTBridge{
		log:      log.With("component", "bridge", "bridge_type", "srt"),
		rtmpSink: rtmpSink,
		rtc:      newRTPEgress(filter, false, rtcSSRCs),
		rtcSink:  rtcSink,
		pidCodec: make(map[uint16]uint8),
	}
}

// Empty reports whether this bridge has no egress sinks at all.
func (b *SRTBridge) Empty() bool {
	return b.rtmpSink == nil && b.rtcSink == nil
}

// OnPublish starts the background TS demux loop for a new publish
// session.
func (b *SRTBridge) OnPublish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rtc.reset()
	b.pidCodec = make(map[uint16]uint8)

	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	b.pw = pw
	b.cancel = cancel

	b.wg.Add(1)
	go b.demuxLoop(ctx, pr)
}

// OnUnpublish stops the demux loop and releases its pipe.
func (b *SRTBridge) OnUnpublish() {
	b.mu.Lock()
	pw := b.pw
	cancel := b.cancel
	b.pw = nil
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pw != nil {
		pw.Close()
	}
	b.wg.Wait()
}

// OnPacket implements spec.md §4.12's SRT on_packet(ts_packet) entry: it
// feeds one raw MPEG-TS packet into the demuxer.
func (b *SRTBridge) OnPacket(tsPacket []byte) error {
	b.mu.Lock()
	pw := b.pw
	b.mu.Unlock()
	if pw == nil {
		return nil // not currently publishing
	}
	_, err := pw.Write(tsPacket)
	return err
}

func (b *SRTBridge) demuxLoop(ctx context.Context, r io.Reader) {
	defer b.wg.Done()

	d := mpegts.NewDemuxer(ctx, r)
	for {
		data, err := d.NextData()
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				b.log.Warn("mpeg-ts demux ended", "error", err)
			}
			return
		}

		switch {
		case data.PMT != nil:
			b.mu.Lock()
			for _, es := range data.PMT.ElementaryStreams {
				b.pidCodec[es.ElementaryPID] = es.StreamType
			}
			b.mu.Unlock()
		case data.PES != nil:
			b.onPES(data)
		}
	}
}

// onPES implements spec.md §4.12's SRT on_frame(media_packet) entry,
// fed by the demuxer rather than called directly by a caller: it turns
// one reassembled PES payload into a packet.Packet and forwards it to
// the RTMP live source and RTC egress.
func (b *SRTBridge) onPES(data *mpegts.DemuxerData) {
	if data.FirstPacket == nil {
		return
	}
	pid := data.FirstPacket.Header.PID

	b.mu.Lock()
	streamType, known := b.pidCodec[pid]
	b.mu.Unlock()
	if !known {
		return
	}

	var pt packet.Type
	switch streamType {
	case streamTypeH264, streamTypeHEVC:
		pt = packet.TypeVideo
	case streamTypeAAC:
		pt = packet.TypeAudio
	default:
		return // unsupported elementary stream type
	}

	ts := packet.NoAVSync
	if data.PES.Header != nil && data.PES.Header.OptionalHeader != nil && data.PES.Header.OptionalHeader.PTS != nil {
		ts = data.PES.Header.OptionalHeader.PTS.Base / 90 // 90kHz ticks -> ms
	}

	isKeyframe := false
	if pt == packet.TypeVideo {
		isKeyframe = detectTSKeyframe(streamType, data.PES.Data)
	}

	pkt := &packet.Packet{
		Payload:    data.PES.Data,
		Type:       pt,
		Timestamp:  ts,
		AVSyncTime: packet.NoAVSync,
		IsKeyframe: isKeyframe,
	}

	if b.rtmpSink != nil {
		var err error
		if pt == packet.TypeAudio {
			err = b.rtmpSink.OnAudio(pkt)
		} else {
			err = b.rtmpSink.OnVideo(pkt)
		}
		if err != nil {
			b.log.Warn("rtmp sink rejected demuxed packet", "error", err)
		}
	}
	if b.rtcSink != nil {
		if pt == packet.TypeVideo {
			b.rtc.setCodec(codecFromStreamType(streamType))
		}
		b.rtc.onFrame(pkt, func(pkts []*rtp.Packet, audio bool) { b.rtcSink.OnRTPPacket(pkts, audio) })
	}
}

func codecFromStreamType(streamType uint8) Codec {
	switch streamType {
	case streamTypeH264:
		return CodecAVC
	case streamTypeHEVC:
		return CodecHEVC
	default:
		return CodecUnknown
	}
}

func detectTSKeyframe(streamType uint8, payload []byte) bool {
	switch streamType {
	case streamTypeH264:
		for _, n := range demux.ParseAnnexB(payload) {
			if demux.IsKeyframe(n.Type) {
				return true
			}
		}
	case streamTypeHEVC:
		for _, n := range demux.ParseAnnexBHEVC(payload) {
			if demux.IsHEVCKeyframe(n.Type) {
				return true
			}
		}
	}
	return false
}
