package upstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/notedit/rtmp/format/flv/flvio"
)

// FLV tag types, per the FLV file format (ISO/Adobe spec), matched
// against the TagType byte read off the wire — standard library only:
// no pack example decodes a raw FLV tag stream off an http.Response
// body (notedit/rtmp's flvio tag reader is used elsewhere in this repo
// bound to a demuxer over a concrete io.ReadWriteSeeker, not a bare
// streaming GET body), so this is hand-rolled per spec.md §4.10's exact
// byte-layout description (9-byte header, leading previous_tag_size,
// then TagType/DataSize/Timestamp/TimestampExtended/StreamID/Data).
const (
	flvTagAudio      = 8
	flvTagVideo      = 9
	flvTagScriptData = 18
)

// HTTPFLVClient is the HTTP-FLV realization of Client: it GETs the
// stream's FLV URL and reconstructs RTMP-shaped messages from the tag
// stream (spec.md §4.10).
type HTTPFLVClient struct {
	httpClient *http.Client

	mu         sync.Mutex
	resp       *http.Response
	r          *bufio.Reader
	host       string
	port       int
	recvWindow time.Duration
}

// NewHTTPFLVClient creates an unconnected HTTP-FLV upstream client.
func NewHTTPFLVClient() *HTTPFLVClient {
	return &HTTPFLVClient{
		httpClient: &http.Client{},
		recvWindow: DefaultStreamTimeout,
	}
}

// Connect issues the FLV GET request and consumes the 9-byte FLV file
// header plus its trailing previous_tag_size(0) field.
func (c *HTTPFLVClient) Connect(ctx context.Context, req Request) error {
	url := fmt.Sprintf("http://%s:%d/%s/%s.flv", req.Host, req.Port, req.App, req.Stream)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("upstream httpflv: build request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("upstream httpflv: get %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("upstream httpflv: get %s: status %d", url, resp.StatusCode)
	}

	r := bufio.NewReader(resp.Body)
	var header [9]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		resp.Body.Close()
		return fmt.Errorf("upstream httpflv: read file header: %w", err)
	}
	if header[0] != 'F' || header[1] != 'L' || header[2] != 'V' {
		resp.Body.Close()
		return fmt.Errorf("upstream httpflv: %s: not an FLV stream", url)
	}
	var prevTagSize [4]byte
	if _, err := io.ReadFull(r, prevTagSize[:]); err != nil {
		resp.Body.Close()
		return fmt.Errorf("upstream httpflv: read leading previous_tag_size: %w", err)
	}

	c.mu.Lock()
	c.resp = resp
	c.r = r
	c.host = req.Host
	c.port = req.Port
	c.mu.Unlock()
	return nil
}

// RecvMessage reads the next FLV tag and translates it into a Message.
func (c *HTTPFLVClient) RecvMessage() (Message, error) {
	c.mu.Lock()
	r := c.r
	resp := c.resp
	recvWindow := c.recvWindow
	c.mu.Unlock()
	if r == nil {
		return Message{}, ErrClosed
	}
	if recvWindow > 0 {
		// The response body has no read deadline, so closing it is what
		// ends a read that outlives recvWindow.
		timer := time.AfterFunc(recvWindow, func() { resp.Body.Close() })
		defer timer.Stop()
	}

	var tagHeader [11]byte
	if _, err := io.ReadFull(r, tagHeader[:]); err != nil {
		return Message{}, fmt.Errorf("upstream httpflv: read tag header: %w", err)
	}

	tagType := tagHeader[0]
	dataSize := uint32(tagHeader[1])<<16 | uint32(tagHeader[2])<<8 | uint32(tagHeader[3])
	ts := uint32(tagHeader[4])<<16 | uint32(tagHeader[5])<<8 | uint32(tagHeader[6])
	tsExt := uint32(tagHeader[7])
	timestamp := int64(tsExt<<24 | ts)

	data := make([]byte, dataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return Message{}, fmt.Errorf("upstream httpflv: read tag body: %w", err)
	}
	var prevTagSize [4]byte
	if _, err := io.ReadFull(r, prevTagSize[:]); err != nil {
		return Message{}, fmt.Errorf("upstream httpflv: read trailing previous_tag_size: %w", err)
	}

	msg := Message{Timestamp: timestamp, Payload: data}
	switch tagType {
	case flvTagAudio:
		msg.Type = MessageAudio
		// SoundFormat in the high nibble of byte 0; AACPacketType (byte 1)
		// == 0 marks the AAC sequence header (ASC) when SoundFormat == 10.
		if len(data) >= 2 && data[0]>>4 == 10 && data[1] == 0 {
			msg.IsSequence = true
		}
	case flvTagVideo:
		msg.Type = MessageVideo
		if len(data) >= 1 {
			frameType := data[0] >> 4
			msg.IsKeyframe = frameType == 1
		}
		// AVCPacketType (byte 1) == 0 marks the AVCC sequence header when
		// CodecID == 7 (AVC); HEVC follows the same convention at the
		// same offset in the FLV-extended-codec tags this repo consumes.
		if len(data) >= 2 && data[1] == 0 {
			msg.IsSequence = true
		}
	case flvTagScriptData:
		msg.Type = MessageMetadata
	default:
		return Message{}, fmt.Errorf("upstream httpflv: unknown tag type %d", tagType)
	}
	return msg, nil
}

// DecodeMessage parses a script-data (AMF0) tag payload, the same
// flvio.ParseAMFVals path the RTMP client uses.
func (c *HTTPFLVClient) DecodeMessage(msg Message) (Command, error) {
	vals, err := flvio.ParseAMFVals(msg.Payload, false)
	if err != nil {
		return Command{}, fmt.Errorf("upstream httpflv: decode: %w", err)
	}
	cmd := Command{Fields: map[string]any{}}
	if len(vals) > 0 {
		if name, ok := vals[0].(string); ok {
			cmd.Name = name
		}
	}
	for _, v := range vals {
		if m, ok := v.(flvio.AMFMap); ok {
			for k, fv := range m {
				cmd.Fields[k] = fv
			}
		}
	}
	return cmd, nil
}

// Close releases the HTTP response body.
func (c *HTTPFLVClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resp == nil {
		return nil
	}
	err := c.resp.Body.Close()
	c.resp = nil
	c.r = nil
	return err
}

// Selected reports the host:port this client connected to.
func (c *HTTPFLVClient) Selected() (host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host, c.port
}

// SetRecvTimeout bounds how long RecvMessage may block: a read still
// pending after d closes the response body, so RecvMessage returns a read
// error and the client has to reconnect.
func (c *HTTPFLVClient) SetRecvTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvWindow = d
}

// KbpsSample is diagnostics-only, see RTMPClient.KbpsSample.
func (c *HTTPFLVClient) KbpsSample(label string, age time.Duration) {}
