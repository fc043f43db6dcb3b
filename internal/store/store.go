// Package store implements the shared-state map: key to content-hash,
// with all mutation and iteration serialized through a single actor so
// no mutex ever guards the map directly.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nixstate/sharedstate/internal/engine"
	"github.com/nixstate/sharedstate/internal/hasher"
)

// UpdateFunc is called once per Update, on the store's own serialization
// context, with whether the entry actually changed.
type UpdateFunc func(changed bool, key, hash string)

// Entry is one (key, hash) pair as seen by a snapshot walk.
type Entry struct {
	Key  string
	Hash string
}

type updateMsg struct {
	key   string
	value []byte
	done  UpdateFunc
}

func (updateMsg) Type() string { return "store.update" }

type hashedMsg struct {
	key  string
	hash string
	done UpdateFunc
}

func (hashedMsg) Type() string { return "store.hashed" }

type snapshotMsg struct {
	after string
	have  bool
	done  func(entry Entry, ok bool)
}

func (snapshotMsg) Type() string { return "store.snapshot" }

type sizeMsg struct {
	done func(size int)
}

func (sizeMsg) Type() string { return "store.size" }

// Store is the ordered key→hash map. Every operation is posted to its
// single consumer goroutine; the map itself is never touched from any
// other goroutine.
type Store struct {
	ref    *engine.Ref
	hasher *hasher.Hasher

	entries map[string]string
	order   []string // kept sorted; see insert
}

// New creates a store that delegates hashing to h.
func New(ctx context.Context, h *hasher.Hasher, mailboxSize int) *Store {
	s := &Store{
		hasher:  h,
		entries: make(map[string]string),
	}
	s.ref = engine.Spawn(ctx, "store", s, mailboxSize)
	return s
}

// ID identifies this actor in logs and health reports.
func (s *Store) ID() string { return "store" }

// Update submits a key/value pair. done is invoked, on the store's own
// context, with changed=true and the new hash if the entry was created or
// its hash actually differed, or changed=false otherwise.
func (s *Store) Update(key string, value []byte, done UpdateFunc) error {
	return s.ref.Send(updateMsg{key: key, value: value, done: done})
}

// SnapshotBegin yields the first entry in key order, or ok=false if the
// store is empty. Unlike a frozen copy, the walk happens live under the
// store's own context, matching §4.2's "not a frozen snapshot" guarantee:
// entries inserted mid-walk may or may not be observed.
func (s *Store) SnapshotBegin(done func(entry Entry, ok bool)) error {
	return s.ref.Send(snapshotMsg{have: false, done: done})
}

// SnapshotNext yields the entry immediately after afterKey in key order,
// or ok=false if afterKey was the last entry.
func (s *Store) SnapshotNext(afterKey string, done func(entry Entry, ok bool)) error {
	return s.ref.Send(snapshotMsg{after: afterKey, have: true, done: done})
}

// Size reports the number of entries, for the Monitor's
// sharedstate_store_size gauge.
func (s *Store) Size(done func(size int)) error {
	return s.ref.Send(sizeMsg{done: done})
}

// Receive processes one message on the store's single consumer goroutine.
func (s *Store) Receive(ctx context.Context, msg engine.Message) error {
	switch m := msg.(type) {
	case updateMsg:
		return s.hasher.Hash(m.value, func(hash string) {
			// Re-enters the store's own context, never the caller's, per
			// §4.2's "re-enters the store's context only on completion".
			s.deliverHashed(ctx, hashedMsg{key: m.key, hash: hash, done: m.done})
		})

	case hashedMsg:
		existing, present := s.entries[m.key]
		if !present {
			s.insert(m.key, m.hash)
			m.done(true, m.key, m.hash)
			return nil
		}
		if existing != m.hash {
			s.entries[m.key] = m.hash
			m.done(true, m.key, m.hash)
			return nil
		}
		m.done(false, "", "")
		return nil

	case snapshotMsg:
		s.walkFrom(m.after, m.have, m.done)
		return nil

	case sizeMsg:
		m.done(len(s.entries))
		return nil

	default:
		return fmt.Errorf("store: unexpected message type %q", msg.Type())
	}
}

// deliverHashed keeps retrying delivery of a completed hash back into the
// store's own mailbox; dropping it would silently discard an update.
func (s *Store) deliverHashed(ctx context.Context, msg hashedMsg) {
	for {
		if err := s.ref.Send(msg); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// insert adds a brand-new key, keeping s.order sorted by lexicographic key
// order — matching std::map<shared_buffer, shared_buffer>'s always-sorted
// iteration in the original source. The map is expected to stay small
// enough for this project's domain that an insertion-sort-on-write is the
// right simplicity/complexity tradeoff over a balanced tree.
func (s *Store) insert(key, hash string) {
	s.entries[key] = hash
	i := sort.SearchStrings(s.order, key)
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = key
}

// walkFrom delivers the next entry strictly after "after" (or the first
// entry, if !have), in sorted order.
func (s *Store) walkFrom(after string, have bool, done func(entry Entry, ok bool)) {
	idx := 0
	if have {
		idx = sort.SearchStrings(s.order, after) + 1
	}
	if idx >= len(s.order) {
		done(Entry{}, false)
		return
	}
	key := s.order[idx]
	done(Entry{Key: key, Hash: s.entries[key]}, true)
}

// Health exposes the store actor's mailbox metrics.
func (s *Store) Health() *engine.Health {
	return s.ref.Health()
}

// Stop halts the store actor.
func (s *Store) Stop() {
	s.ref.Stop()
}
