package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zsiec/originhub/internal/source"
)

const defaultTimeout = 3 * time.Second

// Client is the HTTP hooks collaborator: one POST per configured URL,
// form-encoded, with failures logged rather than returned where spec.md
// §6 marks the hook non-critical.
type Client struct {
	httpClient *http.Client
	log        *slog.Logger

	publish   []string
	unpublish []string
	stop      []string
	hls       []string
	hlsNotify []string
	connect   []string
	close     []string
}

// New builds a Client that calls the given URL lists for on_publish/
// on_unpublish/on_stop/on_hls/on_hls_notify/on_connect/on_close. Any list
// may be nil. on_play/on_dvr/on_forward_backend are called per-URL by
// their own collaborator (internal/rtsp, internal/dvr, internal/edge), so
// they aren't grouped here.
func New(publish, unpublish, stop, hls, hlsNotify, connect, closeURLs []string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log,
		publish:    publish,
		unpublish:  unpublish,
		stop:       stop,
		hls:        hls,
		hlsNotify:  hlsNotify,
		connect:    connect,
		close:      closeURLs,
	}
}

// OnSourcePublish implements internal/source.Handler.
func (c *Client) OnSourcePublish(s *source.Source) {
	c.fireAll(c.publish, url.Values{"action": {"on_publish"}, "stream_url": {s.StreamURL()}})
}

// OnSourceUnpublish implements internal/source.Handler.
func (c *Client) OnSourceUnpublish(s *source.Source) {
	c.fireAll(c.unpublish, url.Values{"action": {"on_unpublish"}, "stream_url": {s.StreamURL()}})
}

// OnStop fires every configured on_stop URL for streamURL.
func (c *Client) OnStop(streamURL string) {
	c.fireAll(c.stop, url.Values{"action": {"on_stop"}, "stream_url": {streamURL}})
}

// OnConnect fires every configured on_connect URL for the connecting
// client's address.
func (c *Client) OnConnect(remoteAddr string) {
	c.fireAll(c.connect, url.Values{"action": {"on_connect"}, "remote_addr": {remoteAddr}})
}

// OnClose fires every configured on_close URL.
func (c *Client) OnClose(remoteAddr string) {
	c.fireAll(c.close, url.Values{"action": {"on_close"}, "remote_addr": {remoteAddr}})
}

// OnHLS fires every configured on_hls URL for a just-written HLS segment.
func (c *Client) OnHLS(streamURL, path string, seqNo int, duration time.Duration) {
	c.fireAll(c.hls, url.Values{
		"action":     {"on_hls"},
		"stream_url": {streamURL},
		"path":       {path},
		"seq_no":     {strconv.Itoa(seqNo)},
		"duration":   {strconv.FormatFloat(duration.Seconds(), 'f', 3, 64)},
	})
}

// OnHLSNotify fires every configured on_hls_notify URL.
func (c *Client) OnHLSNotify(streamURL, path string) {
	c.fireAll(c.hlsNotify, url.Values{"action": {"on_hls_notify"}, "stream_url": {streamURL}, "path": {path}})
}

// OnPlay implements internal/rtsp.HooksClient: one synchronous call to a
// single configured URL.
func (c *Client) OnPlay(hookURL, sessionID, streamURL string) error {
	return c.post(hookURL, url.Values{
		"action":     {"on_play"},
		"session_id": {sessionID},
		"stream_url": {streamURL},
	})
}

// OnDVR implements internal/dvr.HooksClient.
func (c *Client) OnDVR(hookURL, contextID, request, path string) error {
	return c.post(hookURL, url.Values{
		"action":     {"on_dvr"},
		"context_id": {contextID},
		"request":    {request},
		"path":       {path},
	})
}

// OnForwardBackend implements internal/edge's dynamic forward-destination
// discovery: it POSTs to hookURL and returns the response body, trimmed,
// as the destination host:port.
func (c *Client) OnForwardBackend(hookURL, streamURL string) (string, error) {
	req, err := http.NewRequest(http.MethodPost, hookURL, strings.NewReader(url.Values{
		"action":     {"on_forward_backend"},
		"stream_url": {streamURL},
	}.Encode()))
	if err != nil {
		return "", fmt.Errorf("hooks: build on_forward_backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("hooks: on_forward_backend: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("hooks: on_forward_backend %q: status %d", hookURL, resp.StatusCode)
	}

	buf := make([]byte, 256)
	n, _ := resp.Body.Read(buf)
	return strings.TrimSpace(string(buf[:n])), nil
}

func (c *Client) fireAll(urls []string, params url.Values) {
	for _, u := range urls {
		if err := c.post(u, params); err != nil {
			c.log.Warn("hooks: call failed", "url", u, "error", err)
		}
	}
}

func (c *Client) post(hookURL string, params url.Values) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hookURL, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("hooks: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hooks: post %q: %w", hookURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hooks: post %q: status %d", hookURL, resp.StatusCode)
	}
	return nil
}
