package stat

import "testing"

func TestSnapshotMissingStreamNotOK(t *testing.T) {
	c := New()
	if _, ok := c.Snapshot("rtmp://v/app/nope"); ok {
		t.Fatalf("expected no snapshot for an unpublished stream")
	}
}

func TestPublishRecordAndSnapshot(t *testing.T) {
	c := New()
	c.OnPublish("rtmp://v/app/s1")
	c.RecordVideoCodec("rtmp://v/app/s1", "h264", 1920, 1080)
	c.RecordVideoFrame("rtmp://v/app/s1", 1000, true)
	c.RecordVideoFrame("rtmp://v/app/s1", 500, false)
	c.RecordAudioCodec("rtmp://v/app/s1", "aac", 44100, 2)
	c.RecordAudioFrame("rtmp://v/app/s1", 100)
	c.OnConsumerJoin("rtmp://v/app/s1")
	c.OnConsumerJoin("rtmp://v/app/s1")
	c.OnConsumerLeave("rtmp://v/app/s1")

	snap, ok := c.Snapshot("rtmp://v/app/s1")
	if !ok {
		t.Fatalf("expected a snapshot after publish")
	}
	if snap.Video.TotalFrames != 2 || snap.Video.KeyFrames != 1 || snap.Video.TotalBytes != 1500 {
		t.Fatalf("unexpected video stats: %+v", snap.Video)
	}
	if snap.Video.Codec != "h264" || snap.Video.Width != 1920 {
		t.Fatalf("unexpected video codec info: %+v", snap.Video)
	}
	if snap.Audio.TotalFrames != 1 || snap.Audio.TotalBytes != 100 || snap.Audio.Codec != "aac" {
		t.Fatalf("unexpected audio stats: %+v", snap.Audio)
	}
	if snap.Clients != 1 {
		t.Fatalf("expected 1 connected client, got %d", snap.Clients)
	}
}

func TestUnpublishDropsEntry(t *testing.T) {
	c := New()
	c.OnPublish("rtmp://v/app/s1")
	c.OnUnpublish("rtmp://v/app/s1")
	if _, ok := c.Snapshot("rtmp://v/app/s1"); ok {
		t.Fatalf("expected no snapshot after unpublish")
	}
}

func TestSnapshotsListsAllPublishedStreams(t *testing.T) {
	c := New()
	c.OnPublish("rtmp://v/app/s1")
	c.OnPublish("rtmp://v/app/s2")
	snaps := c.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
}

func TestRecordingOnUnknownStreamIsNoOp(t *testing.T) {
	c := New()
	c.RecordVideoFrame("rtmp://v/app/never-published", 10, true)
	if _, ok := c.Snapshot("rtmp://v/app/never-published"); ok {
		t.Fatalf("expected recording against an unpublished stream to be a no-op")
	}
}
