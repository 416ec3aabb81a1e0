package metacodec

import "testing"

func TestAMF0CodecEncodeDecodeRoundTrips(t *testing.T) {
	codec := NewAMF0Codec()
	props := map[string]any{
		"duration": 12.5,
		"server":   "originhub",
		"bravo":    true,
	}

	payload, err := codec.Encode(props)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := codec.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["duration"] != 12.5 {
		t.Fatalf("duration = %v, want 12.5", got["duration"])
	}
	if got["server"] != "originhub" {
		t.Fatalf("server = %v, want originhub", got["server"])
	}
	if got["bravo"] != true {
		t.Fatalf("bravo = %v, want true", got["bravo"])
	}
}

func TestAMF0CodecEncodeRejectsUnsupportedType(t *testing.T) {
	codec := NewAMF0Codec()
	if _, err := codec.Encode(map[string]any{"bad": []int{1, 2}}); err == nil {
		t.Fatalf("expected an error for an unsupported property type")
	}
}

func TestTagHeaderFormatParserParseAudio(t *testing.T) {
	p := NewTagHeaderFormatParser()

	aac, err := p.ParseAudio([]byte{0xAF, 0x00})
	if err != nil {
		t.Fatalf("parse aac: %v", err)
	}
	if aac.CodecID != "aac" || aac.SampleRate != 44100 || aac.Channels != 2 {
		t.Fatalf("unexpected aac format: %+v", aac)
	}

	mp3, err := p.ParseAudio([]byte{0x2E})
	if err != nil {
		t.Fatalf("parse mp3: %v", err)
	}
	if mp3.CodecID != "mp3" || mp3.SampleRate != 44100 || mp3.Channels != 1 {
		t.Fatalf("unexpected mp3 format: %+v", mp3)
	}
}

func TestTagHeaderFormatParserParseVideo(t *testing.T) {
	p := NewTagHeaderFormatParser()

	avc, err := p.ParseVideo([]byte{0x17, 0x00})
	if err != nil {
		t.Fatalf("parse avc: %v", err)
	}
	if avc.CodecID != "h264" {
		t.Fatalf("codec = %q, want h264", avc.CodecID)
	}

	hevc, err := p.ParseVideo([]byte{0x1C, 0x00})
	if err != nil {
		t.Fatalf("parse hevc: %v", err)
	}
	if hevc.CodecID != "hevc" {
		t.Fatalf("codec = %q, want hevc", hevc.CodecID)
	}
}

func TestParsersErrorOnEmptyPayload(t *testing.T) {
	p := NewTagHeaderFormatParser()
	if _, err := p.ParseAudio(nil); err == nil {
		t.Fatalf("expected error on empty audio payload")
	}
	if _, err := p.ParseVideo(nil); err == nil {
		t.Fatalf("expected error on empty video payload")
	}
}
