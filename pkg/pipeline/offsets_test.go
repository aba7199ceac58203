// Copyright 2025 Certen Protocol

package pipeline

import (
	"testing"

	"github.com/certen/bundler/pkg/database"
)

func TestTagValue_FindsNamedTag(t *testing.T) {
	tags := []database.ItemTag{{Name: "Content-Type", Value: "image/png"}, {Name: "Bundle-Format", Value: "v1"}}
	if got := tagValue(tags, "Bundle-Format"); got != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}
}

func TestTagValue_MissingTagReturnsEmpty(t *testing.T) {
	var tags []database.ItemTag
	if got := tagValue(tags, "Bundle-Format"); got != "" {
		t.Fatalf("expected empty string for missing tag, got %q", got)
	}
}

func TestSpoolPath_UnderBundlesSubdir(t *testing.T) {
	p := &Pipeline{dataDir: "/var/bundler/data"}
	got := p.spoolPath("plan-123")
	want := "/var/bundler/data/bundles/plan-123.bundle"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
