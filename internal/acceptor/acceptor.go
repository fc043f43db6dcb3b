// Package acceptor runs the TCP accept loop: one goroutine per listener
// that spawns a session for every accepted connection and wires it to the
// store and registry.
package acceptor

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/nixstate/sharedstate/internal/logger"
	"github.com/nixstate/sharedstate/internal/registry"
	"github.com/nixstate/sharedstate/internal/session"
)

// pollInterval bounds how long Accept blocks before the loop rechecks ctx,
// so shutdown is noticed within about a second even with no incoming
// connections.
const pollInterval = time.Second

// Acceptor accepts connections on one TCP listener and turns each into a
// registered Session.
type Acceptor struct {
	listener    *net.TCPListener
	store       session.Store
	registry    *registry.Registry
	mailboxSize int
	recordWrite func(time.Duration)
}

// New creates a TCP listener on port with address reuse set; Run sets
// TCP_NODELAY on each accepted connection. There is no cap on concurrent connections; every accepted
// connection is served. recordWrite, if non-nil, is handed to every
// session created by this acceptor as its write-latency metrics hook.
func New(port int, st session.Store, reg *registry.Registry, mailboxSize int, recordWrite func(time.Duration)) (*Acceptor, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}

	return &Acceptor{
		listener:    ln.(*net.TCPListener),
		store:       st,
		registry:    reg,
		mailboxSize: mailboxSize,
		recordWrite: recordWrite,
	}, nil
}

// Run accepts connections until ctx is cancelled or the listener errors
// out (a failed accept is fatal for the acceptor only, per §4.5).
func (a *Acceptor) Run(ctx context.Context) error {
	defer a.listener.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := a.listener.SetDeadline(time.Now().Add(pollInterval)); err != nil {
			return err
		}

		conn, err := a.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if isClosedError(err) {
				return nil
			}
			logger.Error("acceptor error: %v", err)
			return err
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if err := tcpConn.SetNoDelay(true); err != nil {
				logger.Warn("failed to set TCP_NODELAY on %s: %v", conn.RemoteAddr(), err)
			}
		}

		a.accept(conn)
	}
}

func (a *Acceptor) accept(conn net.Conn) {
	logger.Info("new connection from %s", conn.RemoteAddr())

	var sess *session.Session
	broadcast := func(msg string) {
		if err := a.registry.Broadcast(msg); err != nil {
			logger.Warn("broadcast dropped: %v", err)
		}
	}
	onClose := func() {
		if err := a.registry.Remove(sess.ID()); err != nil {
			logger.Warn("session removal dropped: %v", err)
		}
	}

	sess = session.New(conn, a.store, broadcast, onClose, a.mailboxSize, a.recordWrite)

	if err := a.registry.Add(sess); err != nil {
		logger.Warn("session registration dropped: %v", err)
	}

	sess.Start()
}

// Addr returns the listener's bound address, useful when port 0 was
// requested and the OS chose one.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

func isClosedError(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "use of closed network connection"
}
