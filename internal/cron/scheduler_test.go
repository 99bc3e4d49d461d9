package cron

import (
	"testing"
	"time"
)

func TestUntilNextBoundaryHourly(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 42, 30, 0, time.UTC)
	wait := untilNextBoundary(now, time.Hour)
	if next := now.Add(wait); next != time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC) {
		t.Fatalf("next boundary = %v", next)
	}
}

func TestUntilNextBoundaryDailyLandsOnMidnightUTC(t *testing.T) {
	now := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	wait := untilNextBoundary(now, 24*time.Hour)
	next := now.Add(wait)
	if next.Hour() != 0 || next.Minute() != 0 || next.Day() != 2 {
		t.Fatalf("next boundary = %v, want midnight UTC", next)
	}
}

func TestUntilNextBoundaryExactBoundaryMovesForward(t *testing.T) {
	now := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	wait := untilNextBoundary(now, time.Hour)
	if wait != time.Hour {
		t.Fatalf("wait = %v, want a full interval from an exact boundary", wait)
	}
}
