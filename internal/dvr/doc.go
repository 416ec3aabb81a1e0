// Package dvr implements DVR recording (spec.md §4.15): a plan
// (session or segment) that drives a segmenter (FLV or fMP4) from
// origin-hub events, plus the on_dvr reap hook.
package dvr
