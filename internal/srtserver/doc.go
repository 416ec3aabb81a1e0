// Package srtserver is the SRT publish listener: it accepts incoming
// srtgo connections, resolves a stream URL from the SRT StreamID, and
// feeds the raw MPEG-TS byte stream into a bridge.SRTBridge bound to the
// registry's Source for that stream (spec.md §4.12). It is the one
// concrete transport listener this module wires end to end — RTMP/RTSP
// wire servers are left out per spec.md's Non-goals (see DESIGN.md).
//
// Grounded on ingest/srt/server.go's srtgo.Listen/Accept/SetAcceptRejectFunc
// idiom, generalized from that package's ingest.Registry hand-off to this
// module's registry.Registry + bridge.SRTBridge pairing.
package srtserver
