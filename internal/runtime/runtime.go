// Package runtime wires the hasher, store, registry, and acceptor
// together and drives their startup, signal-triggered shutdown, and
// orderly teardown — the Go counterpart of the original server's
// io_context-plus-worker-threads main().
package runtime

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nixstate/sharedstate/internal/acceptor"
	"github.com/nixstate/sharedstate/internal/hasher"
	"github.com/nixstate/sharedstate/internal/logger"
	"github.com/nixstate/sharedstate/internal/metrics"
	"github.com/nixstate/sharedstate/internal/monitor"
	"github.com/nixstate/sharedstate/internal/registry"
	"github.com/nixstate/sharedstate/internal/store"
)

// writeLatencyWindow bounds how many recent session writes the Monitor's
// rolling average is computed over.
const writeLatencyWindow = 256

// Config holds the values the CLI parses out of argv, plus the mailbox
// sizing internal/config supplies for every actor.
type Config struct {
	Port        int
	Threads     int // THREADS argument from the CLI; must be >= 2.
	MailboxSize int
	Monitor     bool // start the optional Monitor HTTP server on Port+1
}

// Runtime owns the long-lived actors and the acceptor built on top of
// them, and coordinates their startup and shutdown.
type Runtime struct {
	Hasher   *hasher.Hasher
	Store    *store.Store
	Registry *registry.Registry
	Acceptor *acceptor.Acceptor
	Latency  *metrics.LatencyTracker
	Monitor  *monitor.Monitor // nil unless Config.Monitor was set
}

// New wires the four components together. One worker thread's worth of
// capacity is reserved for the main run loop, mirroring the original
// main()'s `threads -= 1` before spawning io_context worker threads: the
// remaining threads-1 goroutines do the actual SHA-1 work.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.Threads < 2 {
		return nil, fmt.Errorf("runtime: THREADS must be >= 2, got %d", cfg.Threads)
	}

	hashWorkers := cfg.Threads - 1

	h := hasher.New(ctx, hashWorkers, cfg.MailboxSize)
	st := store.New(ctx, h, cfg.MailboxSize)
	reg := registry.New(ctx, cfg.MailboxSize)
	latency := metrics.NewLatencyTracker(writeLatencyWindow)

	acc, err := acceptor.New(cfg.Port, st, reg, cfg.MailboxSize, latency.Record)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}

	rt := &Runtime{Hasher: h, Store: st, Registry: reg, Acceptor: acc, Latency: latency}
	if cfg.Monitor {
		rt.Monitor = monitor.New(cfg.Port+1, reg, st, h, latency)
	}

	return rt, nil
}

// Run blocks until ctx is cancelled (typically via WithSignals) or the
// acceptor fails, then stops every actor. Outstanding work is abandoned
// on cancellation, matching §5's "the whole server is cancelled by
// signal → stop executor."
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Acceptor.Run(gctx)
	})
	if r.Monitor != nil {
		g.Go(func() error {
			return r.Monitor.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			return r.Monitor.Stop()
		})
	}

	logger.Info("server started...")
	err := g.Wait()

	r.Registry.Stop()
	r.Store.Stop()
	r.Hasher.Stop()

	logger.Info("server stopped!")
	return err
}

// WithSignals returns a context cancelled on SIGINT or SIGTERM, the Go
// equivalent of the original's boost::asio::signal_set handler that calls
// ioctx.stop().
func WithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
