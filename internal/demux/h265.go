package demux

import (
	"fmt"
	"math/bits"
	"strings"
)

// H.265/HEVC NAL unit type constants, ITU-T H.265 Table 7-1. HEVC NAL
// headers are two bytes (forbidden_zero_bit(1) + type(6) + layer_id(6) +
// temporal_id_plus1(3)); the type occupies bits 1-6 of the first byte.
const (
	HEVCNALBlaWLP    = 16
	HEVCNALIDRWRadl  = 19
	HEVCNALIDRNlp    = 20
	HEVCNALCraNut    = 21
	HEVCNALVPS       = 32
	HEVCNALSPS       = 33
	HEVCNALPPS       = 34
	HEVCNALAUD       = 35
	HEVCNALSEIPrefix = 39
)

// HEVCNALType extracts the 6-bit NAL unit type from the first byte of an
// HEVC NAL unit.
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// IsHEVCKeyframe reports whether nalType is one of the IRAP picture types
// (BLA, IDR, or CRA — types 16 through 21).
func IsHEVCKeyframe(nalType byte) bool {
	return nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut
}

// IsHEVCVPS reports whether nalType is a Video Parameter Set.
func IsHEVCVPS(nalType byte) bool { return nalType == HEVCNALVPS }

// IsHEVCSPS reports whether nalType is a Sequence Parameter Set.
func IsHEVCSPS(nalType byte) bool { return nalType == HEVCNALSPS }

// IsHEVCPPS reports whether nalType is a Picture Parameter Set.
func IsHEVCPPS(nalType byte) bool { return nalType == HEVCNALPPS }

// ParseAnnexBHEVC parses an HEVC Annex B byte stream into individual NAL
// units, recognizing both 3-byte and 4-byte start codes.
func ParseAnnexBHEVC(data []byte) []NALUnit {
	return parseAnnexBGeneric(data, 2, func(d []byte) byte { return HEVCNALType(d[0]) })
}

// HEVCSPSInfo holds parameters extracted from an HEVC Sequence Parameter
// Set, including resolution and the profile/tier/level/constraint fields
// needed to build an RFC 6381 codec string.
type HEVCSPSInfo struct {
	Width                     int
	Height                    int
	ProfileIDC                byte
	TierFlag                  byte
	LevelIDC                  byte
	ProfileCompatibilityFlags uint32
	ConstraintIndicatorFlags  uint64 // 48 bits, left-justified in the low 48 bits
}

// CodecString returns the RFC 6381 codec parameter string (e.g.
// "hev1.1.2.L93.B0") for use in WebCodecs configuration and MIME types.
func (s HEVCSPSInfo) CodecString() string {
	tier := "L"
	if s.TierFlag != 0 {
		tier = "H"
	}

	reversed := bits.Reverse32(s.ProfileCompatibilityFlags)

	var sb strings.Builder
	fmt.Fprintf(&sb, "hev1.%d.%x.%s%d", s.ProfileIDC, reversed, tier, s.LevelIDC)

	var cbytes [6]byte
	for i := 0; i < 6; i++ {
		cbytes[i] = byte(s.ConstraintIndicatorFlags >> uint(40-8*i))
	}
	end := 6
	for end > 0 && cbytes[end-1] == 0 {
		end--
	}
	for i := 0; i < end; i++ {
		fmt.Fprintf(&sb, ".%02X", cbytes[i])
	}

	return sb.String()
}

var errHEVCSPSTooShort = fmt.Errorf("HEVC SPS data too short")

// ParseHEVCSPS parses an HEVC SPS NAL unit to extract resolution and
// profile/tier/level parameters. The input should be the raw NAL data
// including the 2-byte NAL header, without the start code.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 15 {
		return HEVCSPSInfo{}, errHEVCSPSTooShort
	}

	rbsp := removeEmulationPrevention(nalu[2:])
	if len(rbsp) < 13 {
		return HEVCSPSInfo{}, errHEVCSPSTooShort
	}
	br := newBitReader(rbsp)

	if _, err := br.readBits(4); err != nil { // sps_video_parameter_set_id
		return HEVCSPSInfo{}, err
	}
	maxSubLayersMinus1, err := br.readBits(3)
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	if _, err := br.readBits(1); err != nil { // sps_temporal_id_nesting_flag
		return HEVCSPSInfo{}, err
	}

	info, err := parseHEVCProfileTierLevel(br, maxSubLayersMinus1)
	if err != nil {
		return HEVCSPSInfo{}, err
	}

	if _, err := br.readUE(); err != nil { // sps_seq_parameter_set_id
		return HEVCSPSInfo{}, err
	}
	chromaFormatIdc, err := br.readUE()
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	if chromaFormatIdc == 3 {
		if _, err := br.readBits(1); err != nil { // separate_colour_plane_flag
			return HEVCSPSInfo{}, err
		}
	}

	width, err := br.readUE()
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	height, err := br.readUE()
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	info.Width = int(width)
	info.Height = int(height)

	return info, nil
}

// parseHEVCProfileTierLevel parses the profile_tier_level() structure
// (ITU-T H.265 §7.3.3), always present with profilePresentFlag=1 for an
// SPS, returning the general profile/tier/level/constraint fields. Per-
// sub-layer profile/level fields are consumed but not retained — no
// SPEC_FULL operation needs them.
func parseHEVCProfileTierLevel(br *bitReader, maxSubLayersMinus1 uint) (HEVCSPSInfo, error) {
	profileSpace, err := br.readBits(2)
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	_ = profileSpace
	tierFlag, err := br.readBits(1)
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	profileIdc, err := br.readBits(5)
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	compatFlags, err := br.readBits(32)
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	constraintFlags, err := br.readBits(48)
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	levelIdc, err := br.readBits(8)
	if err != nil {
		return HEVCSPSInfo{}, err
	}

	info := HEVCSPSInfo{
		ProfileIDC:                byte(profileIdc),
		TierFlag:                  byte(tierFlag),
		LevelIDC:                  byte(levelIdc),
		ProfileCompatibilityFlags: uint32(compatFlags),
		ConstraintIndicatorFlags:  uint64(constraintFlags),
	}

	if maxSubLayersMinus1 == 0 {
		return info, nil
	}

	subLayerProfilePresent := make([]bool, maxSubLayersMinus1)
	subLayerLevelPresent := make([]bool, maxSubLayersMinus1)
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		p, err := br.readBits(1)
		if err != nil {
			return HEVCSPSInfo{}, err
		}
		l, err := br.readBits(1)
		if err != nil {
			return HEVCSPSInfo{}, err
		}
		subLayerProfilePresent[i] = p == 1
		subLayerLevelPresent[i] = l == 1
	}
	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			if _, err := br.readBits(2); err != nil { // reserved_zero_2bits
				return HEVCSPSInfo{}, err
			}
		}
	}
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		if subLayerProfilePresent[i] {
			if _, err := br.readBits(2+1+5+32+48); err != nil {
				return HEVCSPSInfo{}, err
			}
		}
		if subLayerLevelPresent[i] {
			if _, err := br.readBits(8); err != nil {
				return HEVCSPSInfo{}, err
			}
		}
	}

	return info, nil
}
