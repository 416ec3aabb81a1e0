package main

import (
	"strconv"
	"strings"
	"time"
)

// expandPath substitutes spec.md §6's path template tokens ([vhost]
// [app] [stream] [timestamp] [2006] [01] [02] [15] [04] [05] [999]) with
// concrete values. This is glue outside the core (spec.md says so
// explicitly) — dvr.PathFunc just wants a fresh string per call, however
// it is produced.
func expandPath(tmpl, vhost, app, stream string, t time.Time) string {
	r := strings.NewReplacer(
		"[vhost]", vhost,
		"[app]", app,
		"[stream]", stream,
		"[timestamp]", strconv.FormatInt(t.UnixMilli(), 10),
		"[2006]", t.Format("2006"),
		"[01]", t.Format("01"),
		"[02]", t.Format("02"),
		"[15]", t.Format("15"),
		"[04]", t.Format("04"),
		"[05]", t.Format("05"),
		"[999]", t.Format("000"),
	)
	return r.Replace(tmpl)
}

// splitStreamURL pulls the app/stream path segments out of a
// "scheme://vhost/app/stream" URL for path-template expansion. Missing
// segments come back empty rather than erroring: a DVR path built from
// an incomplete stream URL simply has blank [app]/[stream] tokens.
func splitStreamURL(streamURL string) (vhost, app, stream string) {
	rest := streamURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) > 0 {
		vhost = parts[0]
	}
	if len(parts) > 1 {
		app = parts[1]
	}
	if len(parts) > 2 {
		stream = parts[2]
	}
	return vhost, app, stream
}
