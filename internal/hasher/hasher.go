// Package hasher computes SHA-1 digests for submitted values off the
// store's serialization context, while still delivering results to their
// callbacks in submission order — regardless of which worker goroutine
// finishes computing a given digest first.
package hasher

import (
	"container/list"
	"context"
	"crypto/sha1"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nixstate/sharedstate/internal/engine"
)

// Digest formats a SHA-1 digest the way the original server's
// boost::uuids::detail::sha1::get_digest did: five big-endian uint32 words,
// each printed as 8 lowercase hex digits, prefixed with "0x" (42 characters
// in all). The 40 digits after the prefix are the same ones
// hex.EncodeToString(sha1.Sum(...)) would produce, but the string is built
// word-by-word to keep the wire format pinned to that exact scheme
// rather than incidentally matching it.
func Digest(data []byte) string {
	sum := sha1.Sum(data)

	var words [5]uint32
	for i := range words {
		words[i] = uint32(sum[i*4])<<24 | uint32(sum[i*4+1])<<16 | uint32(sum[i*4+2])<<8 | uint32(sum[i*4+3])
	}

	out := make([]byte, 0, 42)
	out = append(out, '0', 'x')
	for _, w := range words {
		out = fmt.Appendf(out, "%08x", w)
	}
	return string(out)
}

type job struct {
	value []byte
	hash  string
	ready bool
	cb    func(hash string)
}

type submitJob struct {
	value []byte
	cb    func(hash string)
}

func (submitJob) Type() string { return "hasher.submit" }

type jobHashed struct {
	elem *list.Element
	hash string
}

func (jobHashed) Type() string { return "hasher.hashed" }

type computeJob struct {
	elem  *list.Element
	value []byte
}

// Hasher is a FIFO of in-flight hash jobs: each submitted value is given a
// slot in order, a fixed pool of worker goroutines computes digests out of
// order, and a single consumer goroutine (the actor run loop) drains
// completed slots from the head, so callbacks always fire in submission
// order even though computation does not happen in that order.
type Hasher struct {
	ref     *engine.Ref
	queue   *list.List
	workers chan computeJob
	depth   int64
}

// New starts a hasher with the given number of compute workers and mailbox
// capacity for both incoming submissions and outgoing completions.
func New(ctx context.Context, workers, mailboxSize int) *Hasher {
	h := &Hasher{
		queue:   list.New(),
		workers: make(chan computeJob, mailboxSize),
	}
	h.ref = engine.Spawn(ctx, "hasher", h, mailboxSize)

	for i := 0; i < workers; i++ {
		go h.runWorker(ctx)
	}

	return h
}

// ID identifies this actor in logs and health reports.
func (h *Hasher) ID() string { return "hasher" }

// Hash submits a value for hashing. cb is invoked, in submission order,
// once the digest is ready. Hash never blocks; it returns an error if the
// hasher's mailbox is currently full.
func (h *Hasher) Hash(value []byte, cb func(hash string)) error {
	return h.ref.Send(submitJob{value: value, cb: cb})
}

// Receive processes one message on the hasher's single consumer goroutine.
func (h *Hasher) Receive(_ context.Context, msg engine.Message) error {
	switch m := msg.(type) {
	case submitJob:
		elem := h.queue.PushBack(&job{value: m.value, cb: m.cb})
		atomic.AddInt64(&h.depth, 1)
		select {
		case h.workers <- computeJob{elem: elem, value: m.value}:
		default:
			// The worker queue is full: compute the digest here so the slot
			// still completes instead of wedging every slot behind it.
			j := elem.Value.(*job)
			j.hash = Digest(m.value)
			j.ready = true
			h.drain()
		}
		return nil

	case jobHashed:
		j := m.elem.Value.(*job)
		j.hash = m.hash
		j.ready = true
		h.drain()
		return nil

	default:
		return fmt.Errorf("hasher: unexpected message type %q", msg.Type())
	}
}

// drain delivers every contiguous completed slot starting at the queue's
// head, mirroring hasher::on_hashed's "only the head may ever fire" rule.
func (h *Hasher) drain() {
	for e := h.queue.Front(); e != nil; e = h.queue.Front() {
		j := e.Value.(*job)
		if !j.ready {
			break
		}
		j.cb(j.hash)
		h.queue.Remove(e)
		atomic.AddInt64(&h.depth, -1)
	}
}

// runWorker computes digests off the actor's own goroutine, then reports
// the result back through the mailbox. The completion send retries (rather
// than dropping the result) because a lost completion would wedge every
// slot behind it in the queue forever.
func (h *Hasher) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cj := <-h.workers:
			hash := Digest(cj.value)
			h.deliver(ctx, jobHashed{elem: cj.elem, hash: hash})
		}
	}
}

func (h *Hasher) deliver(ctx context.Context, msg jobHashed) {
	for {
		if err := h.ref.Send(msg); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// QueueDepth returns the number of jobs currently in flight, for the
// Monitor's sharedstate_hasher_queue_depth gauge.
func (h *Hasher) QueueDepth() int64 {
	return atomic.LoadInt64(&h.depth)
}

// Health exposes the hasher actor's mailbox metrics.
func (h *Hasher) Health() *engine.Health {
	return h.ref.Health()
}

// Stop halts the hasher actor. In-flight worker goroutines exit once ctx
// (passed to New) is cancelled.
func (h *Hasher) Stop() {
	h.ref.Stop()
}
