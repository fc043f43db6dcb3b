package metrics

import (
	"testing"
	"time"
)

func TestAverageMillisIsZeroWithNoSamples(t *testing.T) {
	tr := NewLatencyTracker(4)
	if got := tr.AverageMillis(); got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
}

func TestAverageMillisAveragesPartialWindow(t *testing.T) {
	tr := NewLatencyTracker(4)
	tr.Record(10 * time.Millisecond)
	tr.Record(20 * time.Millisecond)

	if got := tr.AverageMillis(); got != 15 {
		t.Fatalf("got %v, want 15", got)
	}
}

func TestAverageMillisDropsOldestSampleOnceWindowFills(t *testing.T) {
	tr := NewLatencyTracker(2)
	tr.Record(10 * time.Millisecond)
	tr.Record(20 * time.Millisecond)
	tr.Record(30 * time.Millisecond) // should evict the 10ms sample

	if got := tr.AverageMillis(); got != 25 {
		t.Fatalf("got %v, want 25", got)
	}
}
