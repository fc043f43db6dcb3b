package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

type countMsg struct{ n int }

func (countMsg) Type() string { return "count" }

type countingActor struct {
	mu   sync.Mutex
	sum  int
	seen []int
}

func (a *countingActor) ID() string { return "counting" }

func (a *countingActor) Receive(_ context.Context, msg Message) error {
	m := msg.(countMsg)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sum += m.n
	a.seen = append(a.seen, m.n)
	return nil
}

func TestSpawnProcessesMessagesInOrder(t *testing.T) {
	ctx := context.Background()
	actor := &countingActor{}
	ref := Spawn(ctx, "counting", actor, 16)
	defer ref.Stop()

	for i := 1; i <= 5; i++ {
		if err := ref.Send(countMsg{n: i}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		actor.mu.Lock()
		done := len(actor.seen) == 5
		actor.mu.Unlock()
		if done {
			break
		}
		time.Sleep(time.Millisecond)
	}

	actor.mu.Lock()
	defer actor.mu.Unlock()
	if actor.sum != 15 {
		t.Fatalf("expected sum 15, got %d", actor.sum)
	}
	for i, v := range actor.seen {
		if v != i+1 {
			t.Fatalf("messages delivered out of order: %v", actor.seen)
		}
	}
}

func TestSendReturnsErrorWhenMailboxFull(t *testing.T) {
	ctx := context.Background()
	actor := &blockingActor{unblock: make(chan struct{})}
	ref := Spawn(ctx, "blocking", actor, 1)
	defer func() {
		close(actor.unblock)
		ref.Stop()
	}()

	if err := ref.Send(countMsg{n: 1}); err != nil {
		t.Fatalf("first send should succeed while actor is busy: %v", err)
	}
	// Give the run loop a chance to pick up the first message and block on it.
	time.Sleep(20 * time.Millisecond)
	if err := ref.Send(countMsg{n: 2}); err != nil {
		t.Fatalf("second send should still fit in the buffered mailbox: %v", err)
	}
	if err := ref.Send(countMsg{n: 3}); err == nil {
		t.Fatal("expected mailbox-full error, got nil")
	}
}

type blockingActor struct {
	unblock chan struct{}
}

func (a *blockingActor) ID() string { return "blocking" }

func (a *blockingActor) Receive(_ context.Context, _ Message) error {
	<-a.unblock
	return nil
}

func TestHealthTracksMailboxDepth(t *testing.T) {
	ctx := context.Background()
	actor := &blockingActor{unblock: make(chan struct{})}
	ref := Spawn(ctx, "blocking", actor, 4)
	defer func() {
		close(actor.unblock)
		ref.Stop()
	}()

	_ = ref.Send(countMsg{n: 1})
	if ref.Health().MailboxCapacity() != 4 {
		t.Fatalf("expected capacity 4, got %d", ref.Health().MailboxCapacity())
	}

	// The actor blocks on the first message it takes, so at least one of
	// the two sent messages is still queued.
	_ = ref.Send(countMsg{n: 2})
	if d := ref.Health().MailboxDepth(); d < 1 {
		t.Fatalf("expected at least 1 queued message, got depth %d", d)
	}
}
