// Copyright 2025 Certen Protocol

package admission

import "testing"

func TestPolicy_AllowAndBlockLists(t *testing.T) {
	p := NewPolicy(
		[]string{"owner-allow"},
		[]string{"owner-block"},
		[]string{"owner-optical-skip"},
		1024, 1000, 4<<30, true,
	)

	if !p.IsAllowListed("owner-allow") {
		t.Error("expected owner-allow to be allow-listed")
	}
	if p.IsAllowListed("owner-other") {
		t.Error("expected owner-other to not be allow-listed")
	}
	if !p.IsBlockListed("owner-block") {
		t.Error("expected owner-block to be block-listed")
	}
	if !p.SkipsOpticalBridge("owner-optical-skip") {
		t.Error("expected owner-optical-skip to skip the optical bridge")
	}
}

func TestPolicy_IsFreeUpload(t *testing.T) {
	p := NewPolicy(nil, nil, nil, 0, 1000, 4<<30, true)
	if !p.IsFreeUpload(1000) {
		t.Error("expected exactly-at-limit upload to be free")
	}
	if p.IsFreeUpload(1001) {
		t.Error("expected over-limit upload to not be free")
	}
}

func TestPolicy_IsSpammerPattern(t *testing.T) {
	p := NewPolicy(nil, nil, nil, 256, 0, 4<<30, true)
	if !p.IsSpammerPattern(256, 0) {
		t.Error("expected exact-size, zero-tag upload to match the spam pattern")
	}
	if p.IsSpammerPattern(256, 1) {
		t.Error("expected a tagged upload to not match the spam pattern")
	}
	if p.IsSpammerPattern(255, 0) {
		t.Error("expected an off-size upload to not match the spam pattern")
	}
}

func TestPolicy_IsSpammerPattern_DisabledWhenSizeZero(t *testing.T) {
	p := NewPolicy(nil, nil, nil, 0, 0, 4<<30, true)
	if p.IsSpammerPattern(0, 0) {
		t.Error("expected a zero-configured spammer size to never match")
	}
}
