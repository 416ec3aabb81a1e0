package main

import (
	"testing"

	"github.com/zsiec/originhub/internal/config"
	"github.com/zsiec/originhub/internal/hooks"
	"github.com/zsiec/originhub/internal/stat"
)

func TestSourceFactoryBuildsAPublishableSource(t *testing.T) {
	cfg := config.New(func(c *config.VhostConfig) {
		c.DVR.Enabled = true
	})
	hooksClient := hooks.New(nil, nil, nil, nil, nil, nil, nil, nil)
	stats := stat.New()

	factory := sourceFactory(cfg, hooksClient, stats, nil)
	src, err := factory("srt://v/live/s1")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if src == nil {
		t.Fatalf("expected a non-nil source")
	}
	if !src.CanPublish() {
		t.Fatalf("expected a freshly built source to be publishable")
	}
}

func TestSourceFactoryWithoutDVR(t *testing.T) {
	cfg := config.New()
	hooksClient := hooks.New(nil, nil, nil, nil, nil, nil, nil, nil)
	stats := stat.New()

	factory := sourceFactory(cfg, hooksClient, stats, nil)
	src, err := factory("srt://v/live/s2")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if src.StreamURL() != "srt://v/live/s2" {
		t.Fatalf("StreamURL = %q", src.StreamURL())
	}
}
