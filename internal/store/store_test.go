package store

import (
	"context"
	"testing"
	"time"

	"github.com/nixstate/sharedstate/internal/hasher"
)

func newTestStore(t *testing.T) (*Store, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	h := hasher.New(ctx, 2, 16)
	s := New(ctx, h, 16)
	return s, func() {
		s.Stop()
		h.Stop()
		cancel()
	}
}

func waitFor(t *testing.T, timeout time.Duration, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for callback")
	}
}

func TestFirstUpdateForKeyIsAlwaysAChange(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	done := make(chan struct{})
	var changed bool
	var gotKey, gotHash string
	err := s.Update("hello", []byte("hello"), func(c bool, key, hash string) {
		changed, gotKey, gotHash = c, key, hash
		close(done)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	waitFor(t, time.Second, done)

	if !changed {
		t.Fatal("first update for a key must be reported as a change")
	}
	if gotKey != "hello" {
		t.Fatalf("got key %q, want hello", gotKey)
	}
	if gotHash != "0xaaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d" {
		t.Fatalf("got hash %q, want the known vector for \"hello\"", gotHash)
	}
}

func TestIdenticalValueIsNotReportedAsChange(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	first := make(chan struct{})
	if err := s.Update("k", []byte("same"), func(bool, string, string) { close(first) }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	waitFor(t, time.Second, first)

	second := make(chan struct{})
	var changed bool
	if err := s.Update("k", []byte("same"), func(c bool, _ string, _ string) {
		changed = c
		close(second)
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	waitFor(t, time.Second, second)

	if changed {
		t.Fatal("identical value must not be reported as a change")
	}
}

func TestDifferentValueUpdatesHash(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	first := make(chan struct{})
	if err := s.Update("k", []byte("hello"), func(bool, string, string) { close(first) }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	waitFor(t, time.Second, first)

	second := make(chan struct{})
	var changed bool
	var hash string
	if err := s.Update("k", []byte("world"), func(c bool, _ string, h string) {
		changed, hash = c, h
		close(second)
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	waitFor(t, time.Second, second)

	if !changed {
		t.Fatal("a differing value must be reported as a change")
	}
	if hash != "0x7c211433f02071597741e6ff5a8ea34789abbf43" {
		t.Fatalf("got hash %q, want the known vector for \"world\"", hash)
	}
}

func TestSnapshotWalksInLexicographicKeyOrder(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	keys := []string{"zebra", "alpha", "mango"}
	for _, k := range keys {
		done := make(chan struct{})
		if err := s.Update(k, []byte(k), func(bool, string, string) { close(done) }); err != nil {
			t.Fatalf("Update(%s): %v", k, err)
		}
		waitFor(t, time.Second, done)
	}

	var got []string
	cur := ""
	have := false
	for {
		done := make(chan struct{})
		var entry Entry
		var ok bool
		var err error
		if !have {
			err = s.SnapshotBegin(func(e Entry, o bool) {
				entry, ok = e, o
				close(done)
			})
		} else {
			err = s.SnapshotNext(cur, func(e Entry, o bool) {
				entry, ok = e, o
				close(done)
			})
		}
		if err != nil {
			t.Fatalf("snapshot step: %v", err)
		}
		waitFor(t, time.Second, done)
		if !ok {
			break
		}
		got = append(got, entry.Key)
		cur = entry.Key
		have = true
	}

	want := []string{"alpha", "mango", "zebra"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSnapshotBeginOnEmptyStoreReportsNotOk(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()

	done := make(chan struct{})
	var ok bool
	if err := s.SnapshotBegin(func(_ Entry, o bool) {
		ok = o
		close(done)
	}); err != nil {
		t.Fatalf("SnapshotBegin: %v", err)
	}
	waitFor(t, time.Second, done)

	if ok {
		t.Fatal("expected ok=false on an empty store")
	}
}
