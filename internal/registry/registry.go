// Package registry tracks the set of live sessions and fans a message out
// to all of them, pruning any session whose outbound path has gone dead.
package registry

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nixstate/sharedstate/internal/engine"
)

// Session is the surface a registry member must expose. A *session.Session
// satisfies this structurally; registry never imports the session package,
// so a session can hold a reference back into the registry without a
// dependency cycle.
type Session interface {
	ID() string
	// TrySend attempts to enqueue msg for delivery without blocking. It
	// returns false if the session is no longer reachable, which is this
	// registry's signal to drop it — the Go equivalent of a weak_ptr that
	// failed to lock in the original session_manager::broadcast.
	TrySend(msg string) bool
}

type addMsg struct{ session Session }

func (addMsg) Type() string { return "registry.add" }

type removeMsg struct{ id string }

func (removeMsg) Type() string { return "registry.remove" }

type broadcastMsg struct{ text string }

func (broadcastMsg) Type() string { return "registry.broadcast" }

type countMsg struct{ done func(int) }

func (countMsg) Type() string { return "registry.count" }

// observerBox wraps the observer func so atomic.Value (which rejects a
// nil interface on Store) can represent "no observer installed".
type observerBox struct{ fn func(msg string) }

// Registry is the single-consumer membership set. Its own goroutine is the
// only place the membership map is ever touched.
type Registry struct {
	ref        *engine.Ref
	sessions   map[string]Session
	broadcasts int64
	observer   atomic.Value // observerBox
}

// New starts a registry actor.
func New(ctx context.Context, mailboxSize int) *Registry {
	r := &Registry{sessions: make(map[string]Session)}
	r.ref = engine.Spawn(ctx, "registry", r, mailboxSize)
	return r
}

// SetObserver installs a callback invoked with every broadcast text after
// it has been fanned out to sessions — the Monitor's hook for mirroring
// the same KEY SP HASH lines onto its read-only WebSocket feed. Safe to
// call at any time, including concurrently with broadcasts; pass nil to
// remove a previously installed observer. The callback runs on the
// registry's own goroutine, so it must not block or call back into the
// registry.
func (r *Registry) SetObserver(f func(msg string)) {
	r.observer.Store(observerBox{f})
}

// ID identifies this actor in logs and health reports.
func (r *Registry) ID() string { return "registry" }

// Add registers a session as a broadcast recipient.
func (r *Registry) Add(s Session) error {
	return r.ref.Send(addMsg{session: s})
}

// Remove drops a session by id, e.g. once its own connection has closed.
func (r *Registry) Remove(id string) error {
	return r.ref.Send(removeMsg{id: id})
}

// Broadcast fans text out to every registered session. Sessions are kept
// in a map, so the order in which they are visited is not defined.
// Per-session delivery is asynchronous and non-blocking; the wire order
// between distinct sessions is unspecified, matching §4.4.
func (r *Registry) Broadcast(text string) error {
	return r.ref.Send(broadcastMsg{text: text})
}

// Count reports the number of registered sessions, for the Monitor's
// sharedstate_sessions gauge.
func (r *Registry) Count(done func(int)) error {
	return r.ref.Send(countMsg{done: done})
}

// BroadcastCount returns the number of broadcasts processed so far, for
// the Monitor's sharedstate_broadcasts_total counter.
func (r *Registry) BroadcastCount() int64 {
	return atomic.LoadInt64(&r.broadcasts)
}

// Receive processes one message on the registry's single consumer
// goroutine.
func (r *Registry) Receive(_ context.Context, msg engine.Message) error {
	switch m := msg.(type) {
	case addMsg:
		r.sessions[m.session.ID()] = m.session
		return nil

	case removeMsg:
		delete(r.sessions, m.id)
		return nil

	case broadcastMsg:
		atomic.AddInt64(&r.broadcasts, 1)
		for id, s := range r.sessions {
			if !s.TrySend(m.text) {
				delete(r.sessions, id)
			}
		}
		if box, ok := r.observer.Load().(observerBox); ok && box.fn != nil {
			box.fn(m.text)
		}
		return nil

	case countMsg:
		m.done(len(r.sessions))
		return nil

	default:
		return fmt.Errorf("registry: unexpected message type %q", msg.Type())
	}
}

// Health exposes the registry actor's mailbox metrics.
func (r *Registry) Health() *engine.Health {
	return r.ref.Health()
}

// Stop halts the registry actor.
func (r *Registry) Stop() {
	r.ref.Stop()
}
