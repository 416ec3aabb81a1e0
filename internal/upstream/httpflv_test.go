package upstream

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

func appendTag(buf []byte, tagType byte, timestamp uint32, data []byte) []byte {
	var header [11]byte
	header[0] = tagType
	dataSize := uint32(len(data))
	header[1] = byte(dataSize >> 16)
	header[2] = byte(dataSize >> 8)
	header[3] = byte(dataSize)
	header[4] = byte(timestamp >> 16)
	header[5] = byte(timestamp >> 8)
	header[6] = byte(timestamp)
	header[7] = byte(timestamp >> 24)
	buf = append(buf, header[:]...)
	buf = append(buf, data...)
	tagSize := uint32(11 + len(data))
	var prevTagSize [4]byte
	prevTagSize[0] = byte(tagSize >> 24)
	prevTagSize[1] = byte(tagSize >> 16)
	prevTagSize[2] = byte(tagSize >> 8)
	prevTagSize[3] = byte(tagSize)
	return append(buf, prevTagSize[:]...)
}

func buildFLVStream(tags ...struct {
	tagType byte
	ts      uint32
	data    []byte
}) []byte {
	buf := []byte{'F', 'L', 'V', 1, 0x05, 0, 0, 0, 9}
	buf = append(buf, 0, 0, 0, 0) // leading previous_tag_size
	for _, tg := range tags {
		buf = appendTag(buf, tg.tagType, tg.ts, tg.data)
	}
	return buf
}

func TestHTTPFLVClientDecodesTagStream(t *testing.T) {
	stream := buildFLVStream(
		struct {
			tagType byte
			ts      uint32
			data    []byte
		}{flvTagAudio, 0, []byte("ash")},
		struct {
			tagType byte
			ts      uint32
			data    []byte
		}{flvTagVideo, 40, []byte("vframe")},
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(stream)
	}))
	defer srv.Close()

	c := NewHTTPFLVClient()
	host, port := splitHostPort(t, srv.URL)
	if err := c.Connect(context.Background(), Request{Host: host, Port: port, App: "live", Stream: "s1"}); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	msg1, err := c.RecvMessage()
	if err != nil {
		t.Fatal(err)
	}
	if msg1.Type != MessageAudio || string(msg1.Payload) != "ash" {
		t.Fatalf("unexpected first message: %+v", msg1)
	}

	msg2, err := c.RecvMessage()
	if err != nil {
		t.Fatal(err)
	}
	if msg2.Type != MessageVideo || msg2.Timestamp != 40 || string(msg2.Payload) != "vframe" {
		t.Fatalf("unexpected second message: %+v", msg2)
	}

	if _, err := c.RecvMessage(); err == nil {
		t.Fatalf("expected an error once the tag stream is exhausted")
	}
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}
