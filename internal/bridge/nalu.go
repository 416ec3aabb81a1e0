// Package bridge implements the stream bridges (spec.md §4.12) that
// carry media between the RTMP, SRT, and RTC transports: the RTMP
// bridge fans RTMP-ingested frames out to RTC and RTSP, the SRT bridge
// demuxes MPEG-TS into frames for RTMP and RTC, and the RTC bridge
// reassembles inbound RTP into frames for RTMP. NALU filtering and RTP
// packetization (FU-A fragmentation) are shared across all three.
package bridge

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/zsiec/originhub/internal/demux"
)

// Codec identifies the video codec a bridge is filtering/packetizing
// for. NALU filtering and keyframe detection differ between AVC and
// HEVC (spec.md §4.12).
type Codec int

const (
	CodecUnknown Codec = iota
	CodecAVC
	CodecHEVC
)

// FilterOptions mirrors the per-vhost bridge knobs spec.md §4.12 names.
type FilterOptions struct {
	// KeepAVCNaluSEI, when false, drops SEI NAL units from AVC streams.
	// HEVC streams are never SEI-filtered regardless of this flag.
	KeepAVCNaluSEI bool
	// KeepBFrame, when false, drops B-slice NAL units for both AVC and
	// HEVC streams.
	KeepBFrame bool
}

// FilterNALUs applies spec.md §4.12's NALU filter to a set of parsed NAL
// units and reports whether the (possibly filtered) set contains an IDR
// picture. SPS/PPS/VPS and IDR NAL units are always preserved.
func FilterNALUs(codec Codec, nalus []demux.NALUnit, opts FilterOptions) (filtered []demux.NALUnit, hasIDR bool) {
	filtered = make([]demux.NALUnit, 0, len(nalus))

	for _, n := range nalus {
		switch codec {
		case CodecAVC:
			naluType := h264.NALUType(n.Type)
			if naluType == h264.NALUTypeIDR {
				hasIDR = true
			}
			if !opts.KeepAVCNaluSEI && naluType == h264.NALUTypeSEI {
				continue
			}
			if !opts.KeepBFrame && isAVCBSlice(n) {
				continue
			}
		case CodecHEVC:
			if isHEVCIRAP(h265.NALUType(n.Type)) {
				hasIDR = true
			}
			// HEVC is never SEI-filtered (spec.md §4.12).
			if !opts.KeepBFrame && isHEVCBSlice(n) {
				continue
			}
		}
		filtered = append(filtered, n)
	}

	return filtered, hasIDR
}

// isHEVCIRAP reports whether naluType falls in the IRAP picture range
// (BLA, IDR, or CRA), per ITU-T H.265 Table 7-1 — the same boundary
// mediacommon's own h265 package names (NALUType_BLA_W_LP..CRA_NUT).
func isHEVCIRAP(naluType h265.NALUType) bool {
	return naluType >= h265.NALUType_BLA_W_LP && naluType <= h265.NALUType_CRA_NUT
}

// isAVCBSlice parses the slice header's first_mb_in_slice and
// slice_type exp-Golomb fields to detect a B slice (slice_type 1 or 6).
// Only ordinary slice NALUs (non-IDR) can be B slices.
func isAVCBSlice(n demux.NALUnit) bool {
	if h264.NALUType(n.Type) != h264.NALUTypeNonIDR {
		return false
	}
	sliceType, ok := parseSliceTypeAVC(n.Data)
	if !ok {
		return false
	}
	return sliceType%5 == 1
}

// isHEVCBSlice inspects an HEVC slice segment header's slice_type field
// for a B slice (slice_type 0). Only trailing-picture slice NALUs carry
// a full slice_segment_header worth parsing here; IRAP types are never
// B slices and are excluded by the type-range check below.
func isHEVCBSlice(n demux.NALUnit) bool {
	if n.Type > 9 {
		// Not a VCL NAL (slice) type in the "normal" trailing-picture
		// range (TRAIL_N..RASL_R); IRAP/BLA/CRA pictures are never B
		// slices, so they are never dropped here.
		return false
	}
	sliceType, ok := parseSliceTypeHEVC(n.Data)
	if !ok {
		return false
	}
	return sliceType == 0
}
