package packet

import "testing"

func TestCopyIsIndependent(t *testing.T) {
	p := &Packet{Payload: []byte{1, 2, 3}, Type: TypeVideo, Timestamp: 10}
	cp := p.Copy()

	cp.Payload[0] = 0xFF
	if p.Payload[0] != 1 {
		t.Fatalf("Copy shared the underlying payload array")
	}
	if cp.Type != p.Type || cp.Timestamp != p.Timestamp {
		t.Fatalf("Copy dropped scalar fields: got %+v want %+v", cp, p)
	}
}

func TestCopyNil(t *testing.T) {
	var p *Packet
	if p.Copy() != nil {
		t.Fatalf("Copy of nil packet should be nil")
	}
}

func TestTypePredicates(t *testing.T) {
	cases := []struct {
		typ          Type
		audio, video, meta bool
	}{
		{TypeAudio, true, false, false},
		{TypeVideo, false, true, false},
		{TypeScript, false, false, true},
	}
	for _, c := range cases {
		p := &Packet{Type: c.typ}
		if p.IsAudio() != c.audio || p.IsVideo() != c.video || p.IsMetadata() != c.meta {
			t.Fatalf("predicates mismatch for %v", c.typ)
		}
	}
}
