// Package metacodec provides the concrete metacache.MetadataCodec and
// metacache.FormatParser implementations cmd/originserver wires into
// internal/source. Both interfaces are deliberately external to the
// core per spec.md §1 ("AMF0/SPS parsing out of scope"); this package is
// where that boundary is crossed, using only what the FLV tag header
// itself carries plus the AMF0 decoder already depended on elsewhere in
// this module (internal/upstream's RTMP/HTTP-FLV clients).
package metacodec
