package bridge

import (
	"testing"

	"github.com/zsiec/originhub/internal/demux"
)

func TestFilterNALUsDropsSEIWhenDisabled(t *testing.T) {
	nalus := []demux.NALUnit{
		{Type: demux.NALTypeSPS, Data: []byte{0x67, 0x00}},
		{Type: demux.NALTypeSEI, Data: []byte{0x06, 0x00}},
		{Type: demux.NALTypeIDR, Data: []byte{0x65, 0x00}},
	}

	filtered, hasIDR := FilterNALUs(CodecAVC, nalus, FilterOptions{KeepAVCNaluSEI: false, KeepBFrame: true})
	if !hasIDR {
		t.Fatalf("expected hasIDR true")
	}
	for _, n := range filtered {
		if n.Type == demux.NALTypeSEI {
			t.Fatalf("SEI NALU survived filtering with KeepAVCNaluSEI=false")
		}
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 NALUs after dropping SEI, got %d", len(filtered))
	}
}

func TestFilterNALUsKeepsSEIWhenEnabled(t *testing.T) {
	nalus := []demux.NALUnit{
		{Type: demux.NALTypeSEI, Data: []byte{0x06, 0x00}},
	}
	filtered, _ := FilterNALUs(CodecAVC, nalus, FilterOptions{KeepAVCNaluSEI: true, KeepBFrame: true})
	if len(filtered) != 1 {
		t.Fatalf("expected SEI to survive with KeepAVCNaluSEI=true, got %d NALUs", len(filtered))
	}
}

func TestFilterNALUsNeverDropsSEIForHEVC(t *testing.T) {
	// spec.md §4.12: SEI filtering is never applied for HEVC, even with
	// KeepAVCNaluSEI=false (the option is AVC-specific by name).
	nalus := []demux.NALUnit{
		{Type: demux.HEVCNALSEIPrefix, Data: []byte{0x4E, 0x01, 0x00}},
	}
	filtered, _ := FilterNALUs(CodecHEVC, nalus, FilterOptions{KeepAVCNaluSEI: false, KeepBFrame: true})
	if len(filtered) != 1 {
		t.Fatalf("expected HEVC SEI to survive regardless of KeepAVCNaluSEI, got %d NALUs", len(filtered))
	}
}

func TestFilterNALUsAlwaysPreservesSPSPPSIDR(t *testing.T) {
	nalus := []demux.NALUnit{
		{Type: demux.NALTypeSPS, Data: []byte{0x67}},
		{Type: demux.NALTypePPS, Data: []byte{0x68}},
		{Type: demux.NALTypeIDR, Data: []byte{0x65, 0x88}}, // slice_type irrelevant for IDR
	}
	filtered, hasIDR := FilterNALUs(CodecAVC, nalus, FilterOptions{KeepAVCNaluSEI: false, KeepBFrame: false})
	if len(filtered) != 3 {
		t.Fatalf("expected SPS/PPS/IDR all preserved, got %d NALUs", len(filtered))
	}
	if !hasIDR {
		t.Fatalf("expected hasIDR true")
	}
}
