// Package engine provides the single-consumer serialization context this
// server uses instead of locks: an actor with a bounded mailbox, processed
// by exactly one goroutine, so that code running inside Receive never races
// with itself. StateStore, Hasher, and SessionRegistry are each one actor.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/nixstate/sharedstate/internal/logger"
)

// Message is anything an actor's mailbox can carry.
type Message interface {
	Type() string
}

// Actor processes messages delivered to its mailbox one at a time.
type Actor interface {
	Receive(ctx context.Context, msg Message) error
	// ID returns a short label used in logs and health reports.
	ID() string
}

// Ref is a handle to a running actor. Send is the only way to reach the
// actor from another goroutine; the actor's own state is never touched
// directly from outside its run loop.
type Ref struct {
	id      string
	mailbox chan Message
	actor   Actor
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	health  *Health
}

// Spawn creates and starts a new actor with the given mailbox capacity.
func Spawn(ctx context.Context, id string, actor Actor, mailboxSize int) *Ref {
	ctx, cancel := context.WithCancel(ctx)

	ref := &Ref{
		id:      id,
		actor:   actor,
		mailbox: make(chan Message, mailboxSize),
		cancel:  cancel,
	}
	ref.health = NewHealth(id, ref.mailbox)

	ref.wg.Add(1)
	go ref.run(ctx)

	return ref
}

// ID returns the actor's id.
func (r *Ref) ID() string {
	return r.id
}

// Send enqueues a message for the actor. It never blocks: if the mailbox
// is full the message is dropped and an error is returned, mirroring the
// "mailbox full" behavior of a bounded async queue rather than applying
// unbounded back-pressure to the caller.
func (r *Ref) Send(msg Message) error {
	select {
	case r.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("actor %s mailbox is full", r.id)
	}
}

// Stop cancels the actor's run loop and waits for it to exit. Messages
// still queued in the mailbox are not processed.
func (r *Ref) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Health exposes the actor's mailbox metrics for a Prometheus collector.
func (r *Ref) Health() *Health {
	return r.health
}

func (r *Ref) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.mailbox:
			r.health.recordActivity()
			if err := r.actor.Receive(ctx, msg); err != nil {
				logger.Error("actor %s: error processing %s: %v", r.id, msg.Type(), err)
				r.health.recordError()
			}
		}
	}
}
