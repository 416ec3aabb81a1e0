package dvr

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsiec/originhub/internal/metacache"
	"github.com/zsiec/originhub/internal/packet"
)

type identityCodec struct{}

func (identityCodec) Decode(payload []byte) (map[string]any, error) {
	return map[string]any{"duration": 1.0, "filesize": 2.0, "width": 1920.0}, nil
}

func (identityCodec) Encode(props map[string]any) ([]byte, error) {
	if _, ok := props["duration"]; ok {
		return nil, errors.New("duration must be stripped before re-encoding")
	}
	return []byte("encoded-metadata"), nil
}

func TestFLVSegmenterWritesHeaderAndTags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.flv")

	seg := &FLVSegmenter{codec: identityCodec{}, serverName: "originhub", serverVersion: "1.0"}
	if err := seg.Open(path); err != nil {
		t.Fatalf("open: %v", err)
	}

	meta := &packet.Packet{Type: packet.TypeScript, Payload: []byte("raw-amf"), Timestamp: 0}
	seg.PatchDuration(meta)
	if err := seg.WriteMetadata(meta); err != nil {
		t.Fatalf("write metadata: %v", err)
	}

	video := &packet.Packet{Type: packet.TypeVideo, Payload: []byte{0x17, 0x01, 0, 0, 0, 0xAA}, Timestamp: 40, IsKeyframe: true}
	seg.PatchDuration(video)
	if err := seg.WriteVideo(video, metacache.VideoFormat{CodecID: "h264"}); err != nil {
		t.Fatalf("write video: %v", err)
	}

	audio := &packet.Packet{Type: packet.TypeAudio, Payload: []byte{0xAF, 0x01, 0xBB}, Timestamp: 42}
	seg.PatchDuration(audio)
	if err := seg.WriteAudio(audio, metacache.AudioFormat{CodecID: "aac"}); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	if err := seg.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected final file to exist after close: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be gone after rename")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("FLV")) {
		t.Fatalf("expected file to start with the FLV signature")
	}
	if !bytes.Contains(data, []byte("encoded-metadata")) {
		t.Fatalf("expected the re-encoded onMetaData body to be present")
	}

	if seg.duration != 42*time.Millisecond {
		t.Fatalf("expected duration 42ms, got %v", seg.duration)
	}
}

func TestFLVSegmenterCurrentReportsFinalPathBeforeClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.flv")
	seg := &FLVSegmenter{codec: identityCodec{}}
	if err := seg.Open(path); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer seg.Close()

	if got := seg.Current().Path; got != path {
		t.Fatalf("expected Current().Path %q before close, got %q", path, got)
	}
}

func TestEncodeDurationFooterFixedSize(t *testing.T) {
	a := encodeDurationFooter(0, 0)
	b := encodeDurationFooter(123.456, 9999999)
	if len(a) != len(b) {
		t.Fatalf("expected footer encoding to be a fixed size regardless of value, got %d vs %d", len(a), len(b))
	}
}
