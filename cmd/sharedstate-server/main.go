package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/nixstate/sharedstate/internal/config"
	"github.com/nixstate/sharedstate/internal/logger"
	"github.com/nixstate/sharedstate/internal/runtime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	port, threads, monitorFlag, err := parseArgs(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.GetConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	logger.Info("sharedstate starting: port=%d threads=%d monitor=%v", port, threads, monitorFlag || cfg.Monitor)

	ctx, cancel := runtime.WithSignals(context.Background())
	defer cancel()

	rt, err := runtime.New(ctx, runtime.Config{
		Port:        port,
		Threads:     threads,
		MailboxSize: cfg.MailboxSize,
		Monitor:     monitorFlag || cfg.Monitor,
	})
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return rt.Run(ctx)
}

// parseArgs parses the `server <PORT> <THREADS>` command line, plus a
// -monitor flag that starts the optional observability server alongside
// it.
func parseArgs(args []string) (port, threads int, monitor bool, err error) {
	fs := flag.NewFlagSet("sharedstate-server", flag.ContinueOnError)
	fs.BoolVar(&monitor, "monitor", false, "start the optional Monitor HTTP server on PORT+1")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [-monitor] <PORT> <THREADS>\n", os.Args[0])
		fs.PrintDefaults()
	}

	if parseErr := fs.Parse(args); parseErr != nil {
		return 0, 0, false, parseErr
	}

	remaining := fs.Args()
	if len(remaining) != 2 {
		fs.Usage()
		return 0, 0, false, fmt.Errorf("expected exactly PORT and THREADS, got %d argument(s)", len(remaining))
	}

	port, err = strconv.Atoi(remaining[0])
	if err != nil {
		fs.Usage()
		return 0, 0, false, fmt.Errorf("invalid PORT %q: %w", remaining[0], err)
	}
	threads, err = strconv.Atoi(remaining[1])
	if err != nil {
		fs.Usage()
		return 0, 0, false, fmt.Errorf("invalid THREADS %q: %w", remaining[1], err)
	}
	if threads < 2 {
		fs.Usage()
		return 0, 0, false, fmt.Errorf("THREADS must be >= 2, got %d", threads)
	}

	return port, threads, monitor, nil
}
