// Package hooks implements the HTTP hooks collaborator spec.md §6 names:
// on_publish/on_unpublish/on_play/on_stop/on_dvr/on_hls/on_hls_notify/
// on_forward_backend/on_connect/on_close. It POSTs form-encoded params to
// every configured URL for a hook and, per spec.md §6, treats a failure
// of any non-critical hook as log-and-continue rather than fatal.
package hooks
