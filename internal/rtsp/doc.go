// Package rtsp implements the RTSP session (spec.md §4.14): per-connection
// OPTIONS/DESCRIBE/SETUP/PLAY/TEARDOWN handling and the play stream that
// fans outbound RTP out to per-SSRC network writers.
package rtsp
