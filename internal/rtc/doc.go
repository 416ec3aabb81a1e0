// Package rtc implements the RTC frame builder (spec.md §4.13): it
// reassembles inbound RTP audio/video into complete media packets for
// delivery to the RTMP live source, the RTC→RTMP direction of C13's
// stream bridges.
package rtc
