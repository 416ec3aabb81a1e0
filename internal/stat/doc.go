// Package stat implements the statistics collector spec.md §4.8/§4.9
// name as "mark statistic": per-stream counters updated on publish/
// unpublish and on every audio/video packet, exposed as a JSON-friendly
// snapshot. It is an external collaborator relative to the core
// (spec.md §1) — sources and consumers hold it only through the narrow
// source.StatRecorder capability.
package stat
