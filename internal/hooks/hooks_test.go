package hooks

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/zsiec/originhub/internal/source"
)

type capturedCall struct {
	path   string
	params url.Values
}

func newRecordingServer(t *testing.T) (*httptest.Server, func() []capturedCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []capturedCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		mu.Lock()
		calls = append(calls, capturedCall{path: r.URL.Path, params: r.PostForm})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedCall(nil), calls...)
	}
}

func TestOnSourcePublishCallsConfiguredURLs(t *testing.T) {
	srv, calls := newRecordingServer(t)
	c := New([]string{srv.URL}, nil, nil, nil, nil, nil, nil, nil)

	s := source.New("rtmp://v/app/s1", source.Config{}, nil, nil, nil, nil, nil, nil, nil)
	c.OnSourcePublish(s)

	got := calls()
	if len(got) != 1 {
		t.Fatalf("expected 1 call, got %d", len(got))
	}
	if got[0].params.Get("action") != "on_publish" {
		t.Fatalf("expected on_publish action, got %q", got[0].params.Get("action"))
	}
	if got[0].params.Get("stream_url") != "rtmp://v/app/s1" {
		t.Fatalf("expected stream_url param, got %q", got[0].params.Get("stream_url"))
	}
}

func TestOnPlayReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(nil, nil, nil, nil, nil, nil, nil, nil)
	if err := c.OnPlay(srv.URL, "sess1", "rtmp://v/app/s1"); err == nil {
		t.Fatalf("expected an error from a non-200 response")
	}
}

func TestOnDVRPostsExpectedParams(t *testing.T) {
	srv, calls := newRecordingServer(t)
	c := New(nil, nil, nil, nil, nil, nil, nil, nil)

	if err := c.OnDVR(srv.URL, "ctx1", "req1", "/dvr/s1.flv"); err != nil {
		t.Fatalf("OnDVR: %v", err)
	}

	got := calls()
	if len(got) != 1 {
		t.Fatalf("expected 1 call, got %d", len(got))
	}
	if got[0].params.Get("path") != "/dvr/s1.flv" || got[0].params.Get("context_id") != "ctx1" {
		t.Fatalf("unexpected params: %+v", got[0].params)
	}
}

func TestOnForwardBackendReturnsTrimmedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("backend-host:1935\n"))
	}))
	defer srv.Close()

	c := New(nil, nil, nil, nil, nil, nil, nil, nil)
	dest, err := c.OnForwardBackend(srv.URL, "rtmp://v/app/s1")
	if err != nil {
		t.Fatalf("OnForwardBackend: %v", err)
	}
	if dest != "backend-host:1935" {
		t.Fatalf("expected trimmed destination, got %q", dest)
	}
}

func TestFireAllLogsAndContinuesOnFailure(t *testing.T) {
	srv, calls := newRecordingServer(t)
	c := New(nil, nil, []string{"http://127.0.0.1:1", srv.URL}, nil, nil, nil, nil, nil)

	c.OnStop("rtmp://v/app/s1")

	got := calls()
	if len(got) != 1 {
		t.Fatalf("expected the reachable URL to still be called despite the first failing, got %d calls", len(got))
	}
}
