// Copyright 2025 Certen Protocol

package inflight

import (
	"testing"
	"time"
)

func TestClaim_FirstClaimSucceedsSecondFails(t *testing.T) {
	c := New(time.Minute)
	if !c.Claim("item-1") {
		t.Fatal("expected first claim to succeed")
	}
	if c.Claim("item-1") {
		t.Fatal("expected second concurrent claim to fail")
	}
}

func TestRelease_AllowsReClaim(t *testing.T) {
	c := New(time.Minute)
	c.Claim("item-1")
	c.Release("item-1")
	if !c.Claim("item-1") {
		t.Fatal("expected claim to succeed after release")
	}
}

func TestClaim_ExpiredEntryAllowsReClaim(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Claim("item-1")
	time.Sleep(30 * time.Millisecond)
	if !c.Claim("item-1") {
		t.Fatal("expected claim to succeed after TTL expiry")
	}
}

func TestSweep_RemovesOnlyExpiredEntries(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Claim("short-lived")
	time.Sleep(30 * time.Millisecond)
	c.Claim("fresh")

	removed := c.Sweep()
	if removed != 1 {
		t.Fatalf("swept %d entries, want 1", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}
