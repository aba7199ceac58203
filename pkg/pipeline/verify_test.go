// Copyright 2025 Certen Protocol

package pipeline

import (
	"testing"
	"time"
)

func TestVerifyOutcome_ConfirmedAtExactDepth(t *testing.T) {
	if got := verifyOutcome(true, 18, 18, time.Minute, 6*time.Hour); got != outcomeConfirmed {
		t.Fatalf("expected outcomeConfirmed, got %v", got)
	}
}

func TestVerifyOutcome_ConfirmedTakesPriorityOverExpiredTimeout(t *testing.T) {
	// Found with sufficient depth even though the timeout has technically
	// also elapsed: success wins.
	if got := verifyOutcome(true, 20, 18, 7*time.Hour, 6*time.Hour); got != outcomeConfirmed {
		t.Fatalf("expected outcomeConfirmed, got %v", got)
	}
}

func TestVerifyOutcome_NotFoundWithinWindowIsNotYetVisible(t *testing.T) {
	if got := verifyOutcome(false, 0, 18, time.Hour, 6*time.Hour); got != outcomeNotYetVisible {
		t.Fatalf("expected outcomeNotYetVisible, got %v", got)
	}
}

func TestVerifyOutcome_NotFoundPastWindowTimesOut(t *testing.T) {
	if got := verifyOutcome(false, 0, 18, 7*time.Hour, 6*time.Hour); got != outcomeTimedOut {
		t.Fatalf("expected outcomeTimedOut, got %v", got)
	}
}

func TestVerifyOutcome_FoundButShallowIsPending(t *testing.T) {
	if got := verifyOutcome(true, 3, 18, time.Minute, 6*time.Hour); got != outcomePending {
		t.Fatalf("expected outcomePending, got %v", got)
	}
}
