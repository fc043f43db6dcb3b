// Package session implements the per-connection line protocol: parse
// inbound KEY VALUE updates, submit them to the store, and push outbound
// KEY HASH lines both from an initial snapshot sync and from live
// broadcasts.
package session

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nixstate/sharedstate/internal/logger"
	"github.com/nixstate/sharedstate/internal/store"
)

const writeDeadline = 10 * time.Second

// BroadcastFunc publishes a change to every live session, including this
// one (self-delivery is intentional — see §4.4).
type BroadcastFunc func(msg string)

// Store is the subset of *store.Store a session needs. Declared here
// rather than depended on concretely so tests can drive a session against
// a minimal fake instead of a full hasher+store pair.
type Store interface {
	Update(key string, value []byte, done store.UpdateFunc) error
	SnapshotBegin(done func(entry store.Entry, ok bool)) error
	SnapshotNext(afterKey string, done func(entry store.Entry, ok bool)) error
}

// Session is one connection's read/write state machine. It is
// self-owning: the read goroutine, the write goroutine, and any
// in-flight store callback each hold an implicit strong reference to it
// through their closures, so it is only eligible for GC once the read
// loop, write loop, and every pending store callback have returned.
// The registry that fans broadcasts out to it holds only a plain pointer
// that it prunes on a failed send — the same relationship the original
// source expresses with a std::weak_ptr.
type Session struct {
	id          string
	conn        net.Conn
	remote      string
	store       Store
	broadcast   BroadcastFunc
	onClose     func()
	recordWrite func(time.Duration)

	send chan string

	stopOnce sync.Once
	closed   chan struct{}
}

// New constructs a session over an already-accepted connection. mailboxSize
// bounds the session's outbound queue: per §5, the base design has no
// back-pressure and would grow the queue unbounded, but this is the
// documented Open-Question choice to bound it: a session whose queue is
// full when a broadcast arrives is pruned from the registry (see
// DESIGN.md). recordWrite, if non-nil, is called
// with the duration of every successful socket write, feeding the
// Monitor's rolling write-latency gauge; it is a metrics hook only and
// never affects protocol behavior.
func New(conn net.Conn, st Store, broadcast BroadcastFunc, onClose func(), mailboxSize int, recordWrite func(time.Duration)) *Session {
	return &Session{
		id:          uuid.NewString(),
		conn:        conn,
		remote:      conn.RemoteAddr().String(),
		store:       st,
		broadcast:   broadcast,
		onClose:     onClose,
		recordWrite: recordWrite,
		send:      make(chan string, mailboxSize),
		closed:    make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Start begins the read loop, the write loop, and concurrently kicks off
// the snapshot sync walk — matching §4.3's "begin an asynchronous read
// loop" happening alongside "concurrently request snapshot_begin".
func (s *Session) Start() {
	go s.writePump()
	go s.readPump()
	s.syncNext("", false)
}

// TrySend enqueues msg for delivery without blocking. It returns false if
// the session is closed or its outbound queue is full, which tells the
// caller (typically the registry) to treat this session as dead.
func (s *Session) TrySend(msg string) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) readPump() {
	defer s.Stop()

	reader := bufio.NewReader(s.conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("session %s (%s) disconnected", s.id, s.remote)
			} else {
				logger.Warn("session %s (%s): read error: %v", s.id, s.remote, err)
			}
			return
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			logger.Warn("session %s: empty line received, dropping", s.id)
			continue
		}

		idx := strings.IndexByte(line, ' ')
		if idx < 0 {
			logger.Warn("session %s: wrong string received: %q", s.id, line)
			continue
		}

		key := line[:idx]
		value := line[idx+1:]
		if err := s.store.Update(key, []byte(value), s.onUpdated); err != nil {
			logger.Warn("session %s: update dropped: %v", s.id, err)
		}
	}
}

// onUpdated runs on the store's own serialization context (it is the
// callback passed to Store.Update), matching §4.3's on_updated.
func (s *Session) onUpdated(changed bool, key, hash string) {
	if !changed {
		return
	}
	s.broadcast(key + " " + hash + "\n")
}

// syncNext walks the store from the beginning (have=false) or from
// afterKey (have=true), sending one outbound line per entry and chaining
// to the next step from inside the store's own callback — exactly the
// on_got_message / on_get_first_sent recursion in the original source.
func (s *Session) syncNext(afterKey string, have bool) {
	next := func(entry store.Entry, ok bool) {
		if !ok {
			return
		}
		s.TrySend(entry.Key + " " + entry.Hash + "\n")
		s.syncNext(entry.Key, true)
	}

	var err error
	if have {
		err = s.store.SnapshotNext(afterKey, next)
	} else {
		err = s.store.SnapshotBegin(next)
	}
	if err != nil {
		logger.Warn("session %s: snapshot step dropped: %v", s.id, err)
	}
}

func (s *Session) writePump() {
	defer s.Stop()

	for {
		select {
		case msg := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			start := time.Now()
			if _, err := s.conn.Write([]byte(msg)); err != nil {
				logger.Warn("session %s: write error: %v", s.id, err)
				return
			}
			if s.recordWrite != nil {
				s.recordWrite(time.Since(start))
			}
		case <-s.closed:
			return
		}
	}
}

// Stop closes the socket and drops the session's self-holder. It is safe
// to call from the read loop, the write loop, or both.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
}
