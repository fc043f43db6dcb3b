package hasher

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDigestMatchesKnownVectors(t *testing.T) {
	cases := map[string]string{
		"hello": "0xaaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d",
		"world": "0x7c211433f02071597741e6ff5a8ea34789abbf43",
	}
	for input, want := range cases {
		if got := Digest([]byte(input)); got != want {
			t.Fatalf("Digest(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestDigestIsLowercaseHexWith0xPrefix(t *testing.T) {
	got := Digest([]byte("anything"))
	if len(got) != 42 {
		t.Fatalf("expected 42-character digest, got %d (%q)", len(got), got)
	}
	if got[:2] != "0x" {
		t.Fatalf("expected 0x prefix, got %q", got)
	}
	for _, c := range got[2:] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("expected lowercase hex digits after 0x, got %q", got)
		}
	}
}

func TestHashDeliversInSubmissionOrderDespiteOutOfOrderCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New(ctx, 4, 16)
	defer h.Stop()

	const n = 20
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < n; i++ {
		i := i
		// Vary payload size so workers finish at different times; correctness
		// must not depend on compute order, only submission order.
		payload := make([]byte, (i%7)+1)
		for j := range payload {
			payload[j] = byte(i)
		}
		if err := h.Hash(payload, func(hash string) {
			mu.Lock()
			order = append(order, i)
			if len(order) == n {
				close(done)
			}
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Hash(%d): %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all callbacks")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("callbacks fired out of submission order: %v", order)
		}
	}
}

func TestQueueDepthTracksInFlightJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New(ctx, 1, 16)
	defer h.Stop()

	release := make(chan struct{})
	started := make(chan struct{})

	// The callback runs on the actor's own goroutine, inside drain, before
	// the slot is removed from the queue — blocking here deterministically
	// holds QueueDepth at 1 until we let it go.
	if err := h.Hash([]byte("block"), func(string) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Hash: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("callback never started")
	}

	if h.QueueDepth() == 0 {
		t.Fatal("expected non-zero queue depth while callback is in flight")
	}

	close(release)
}
