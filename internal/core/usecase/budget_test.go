package usecase

import (
	"testing"
	"time"
)

func TestLatencyTrackerFloorWithoutSamples(t *testing.T) {
	tracker := NewLatencyTracker(100 * time.Millisecond)
	budget := tracker.Budget()
	if budget.Soft != 100*time.Millisecond {
		t.Fatalf("expected floor soft budget, got %v", budget.Soft)
	}
	if budget.Hard != 200*time.Millisecond {
		t.Fatalf("expected hard budget twice soft, got %v", budget.Hard)
	}
}

func TestLatencyTrackerDefaultFloor(t *testing.T) {
	tracker := NewLatencyTracker(0)
	if got := tracker.Budget().Soft; got != 50*time.Millisecond {
		t.Fatalf("expected 50ms default floor, got %v", got)
	}
}

func TestLatencyTrackerFewSamplesUseMax(t *testing.T) {
	tracker := NewLatencyTracker(10 * time.Millisecond)
	tracker.Observe(40 * time.Millisecond)
	tracker.Observe(200 * time.Millisecond)
	tracker.Observe(60 * time.Millisecond)

	budget := tracker.Budget()
	want := time.Duration(float64(200*time.Millisecond) * 1.2)
	if budget.Soft != want {
		t.Fatalf("expected max-based soft budget %v, got %v", want, budget.Soft)
	}
}

func TestLatencyTrackerAdaptsToP95(t *testing.T) {
	tracker := NewLatencyTracker(10 * time.Millisecond)
	for i := 0; i < 99; i++ {
		tracker.Observe(50 * time.Millisecond)
	}
	tracker.Observe(5 * time.Second) // one outlier

	budget := tracker.Budget()
	want := time.Duration(float64(50*time.Millisecond) * 1.2)
	if budget.Soft != want {
		t.Fatalf("P95 must shrug off a single outlier, want %v got %v", want, budget.Soft)
	}
}

func TestLatencyTrackerWindowRolls(t *testing.T) {
	tracker := NewLatencyTracker(10 * time.Millisecond)
	for i := 0; i < latencyWindowSize; i++ {
		tracker.Observe(time.Second)
	}
	for i := 0; i < latencyWindowSize; i++ {
		tracker.Observe(20 * time.Millisecond)
	}

	budget := tracker.Budget()
	want := time.Duration(float64(20*time.Millisecond) * 1.2)
	if budget.Soft != want {
		t.Fatalf("old samples must age out, want %v got %v", want, budget.Soft)
	}
}

func TestLatencyTrackerIgnoresNegativeSamples(t *testing.T) {
	tracker := NewLatencyTracker(10 * time.Millisecond)
	tracker.Observe(-time.Second)
	if got := tracker.Budget().Soft; got != 10*time.Millisecond {
		t.Fatalf("negative sample must be ignored, got %v", got)
	}
}
