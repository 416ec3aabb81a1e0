package metacodec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/notedit/rtmp/format/flv/flvio"
)

// AMF0Codec implements metacache.MetadataCodec. Decode reuses the same
// flvio.ParseAMFVals path internal/upstream's RTMP and HTTP-FLV clients
// already depend on for command/metadata parsing; Encode is a small
// hand-rolled AMF0 ECMA-array writer in the same style as
// internal/dvr/flv.go's duration-footer encoder, since no in-pack
// example depends on flvio for the write direction.
type AMF0Codec struct{}

// NewAMF0Codec returns an AMF0Codec. It holds no state.
func NewAMF0Codec() *AMF0Codec { return &AMF0Codec{} }

// Decode parses an onMetaData-style AMF0 payload into a flat property
// map, merging the entries of every AMFMap value (a later map's key
// overwrites an earlier one's), matching internal/upstream.RTMPClient.DecodeMessage's handling of the
// same wire shape.
func (AMF0Codec) Decode(payload []byte) (map[string]any, error) {
	vals, err := flvio.ParseAMFVals(payload, false)
	if err != nil {
		return nil, fmt.Errorf("metacodec: decode amf0: %w", err)
	}
	props := map[string]any{}
	for _, v := range vals {
		if m, ok := v.(flvio.AMFMap); ok {
			for k, fv := range m {
				props[k] = fv
			}
		}
	}
	return props, nil
}

// Encode writes props back out as an AMF0 "onMetaData" command: the
// string marker "onMetaData" followed by a single ECMA array of the
// property map. Supported value types are float64/int/int64/string/bool;
// any other value type fails the whole encode with an error.
func (AMF0Codec) Encode(props map[string]any) ([]byte, error) {
	buf := make([]byte, 0, 64+16*len(props))
	buf = appendAMF0String(buf, "onMetaData")

	buf = append(buf, 0x08) // ECMA array marker
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(props)))
	buf = append(buf, count[:]...)
	for name, val := range props {
		var ok bool
		buf, ok = appendAMF0Prop(buf, name, val)
		if !ok {
			return nil, fmt.Errorf("metacodec: encode amf0: unsupported value type for %q: %T", name, val)
		}
	}
	buf = append(buf, 0x00, 0x00, 0x09) // object-end marker
	return buf, nil
}

func appendAMF0Prop(buf []byte, name string, val any) ([]byte, bool) {
	buf = appendAMF0PropName(buf, name)
	switch v := val.(type) {
	case float64:
		return appendAMF0NumberVal(buf, v), true
	case int:
		return appendAMF0NumberVal(buf, float64(v)), true
	case int64:
		return appendAMF0NumberVal(buf, float64(v)), true
	case string:
		return appendAMF0StringVal(buf, v), true
	case bool:
		return appendAMF0BoolVal(buf, v), true
	default:
		return buf, false
	}
}

func appendAMF0PropName(buf []byte, name string) []byte {
	buf = append(buf, byte(len(name)>>8), byte(len(name)))
	return append(buf, name...)
}

func appendAMF0NumberVal(buf []byte, val float64) []byte {
	buf = append(buf, 0x00) // number-type marker
	var bits [8]byte
	binary.BigEndian.PutUint64(bits[:], math.Float64bits(val))
	return append(buf, bits[:]...)
}

func appendAMF0StringVal(buf []byte, val string) []byte {
	buf = append(buf, 0x02) // string-type marker
	buf = append(buf, byte(len(val)>>8), byte(len(val)))
	return append(buf, val...)
}

func appendAMF0BoolVal(buf []byte, val bool) []byte {
	buf = append(buf, 0x01) // boolean-type marker
	if val {
		return append(buf, 0x01)
	}
	return append(buf, 0x00)
}

// appendAMF0String writes a standalone top-level AMF0 string value (the
// command-name slot preceding the ECMA array in an onMetaData message).
func appendAMF0String(buf []byte, val string) []byte {
	return appendAMF0StringVal(buf, val)
}
