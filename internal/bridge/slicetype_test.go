package bridge

import (
	"testing"

	"github.com/zsiec/originhub/internal/demux"
)

// A slice header encoding first_mb_in_slice=0 ("1") and slice_type=1 i.e.
// B ("010"), packed MSB-first: 1 0 1 0 | 0 0 0 0 -> 0xA0.
var bSliceHeaderByte = byte(0xA0)

// first_mb_in_slice=0 ("1"), slice_type=2 i.e. I ("011"): 1 0 1 1 0000 -> 0xB0.
var iSliceHeaderByte = byte(0xB0)

func TestFilterNALUsDropsBSliceWhenDisabled(t *testing.T) {
	nalus := []demux.NALUnit{
		{Type: demux.NALTypeSlice, Data: []byte{0x01, bSliceHeaderByte}},
	}
	filtered, _ := FilterNALUs(CodecAVC, nalus, FilterOptions{KeepAVCNaluSEI: true, KeepBFrame: false})
	if len(filtered) != 0 {
		t.Fatalf("expected B-slice dropped, got %d NALUs", len(filtered))
	}
}

func TestFilterNALUsKeepsISliceWhenBFramesDisabled(t *testing.T) {
	nalus := []demux.NALUnit{
		{Type: demux.NALTypeSlice, Data: []byte{0x01, iSliceHeaderByte}},
	}
	filtered, _ := FilterNALUs(CodecAVC, nalus, FilterOptions{KeepAVCNaluSEI: true, KeepBFrame: false})
	if len(filtered) != 1 {
		t.Fatalf("expected I-slice preserved, got %d NALUs", len(filtered))
	}
}

func TestFilterNALUsKeepsBSliceWhenEnabled(t *testing.T) {
	nalus := []demux.NALUnit{
		{Type: demux.NALTypeSlice, Data: []byte{0x01, bSliceHeaderByte}},
	}
	filtered, _ := FilterNALUs(CodecAVC, nalus, FilterOptions{KeepAVCNaluSEI: true, KeepBFrame: true})
	if len(filtered) != 1 {
		t.Fatalf("expected B-slice preserved when KeepBFrame=true, got %d NALUs", len(filtered))
	}
}

func TestParseSliceTypeHEVCFirstSliceSegment(t *testing.T) {
	// HEVC slice header: 2-byte NAL header, then
	// first_slice_segment_in_pic_flag=1 ("1"),
	// slice_pic_parameter_set_id=0 ("1"), slice_type=0 (B, "1") ->
	// packed: 1 1 1 | 00000 -> 0xE0.
	nalu := []byte{0x02, 0x01, 0xE0}
	sliceType, ok := parseSliceTypeHEVC(nalu)
	if !ok {
		t.Fatalf("expected parse success for first_slice_segment_in_pic_flag=1")
	}
	if sliceType != 0 {
		t.Fatalf("expected slice_type=0 (B), got %d", sliceType)
	}
}

func TestParseSliceTypeHEVCNonFirstSliceSegmentUnparsed(t *testing.T) {
	nalu := []byte{0x02, 0x01, 0x00} // first_slice_segment_in_pic_flag=0
	_, ok := parseSliceTypeHEVC(nalu)
	if ok {
		t.Fatalf("expected parse failure when not the first slice segment (unknown address width)")
	}
}
