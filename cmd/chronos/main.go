// Chronos is an offline-first sync daemon for a shared family calendar. It
// keeps a bounded SQLite replica of the remote calendar, queues writes made
// while offline, and replays them when connectivity returns.
//
// Usage:
//
//	chronos daemon [--config <path>]     # background sync loop
//	chronos sync-once [--config <path>]  # single sync pass then exit
//	chronos status [--config <path>]     # show config & cache state
//	chronos version                      # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bikegriffith/chronos-calendar/internal/config"
	"github.com/bikegriffith/chronos-calendar/internal/connectivity"
	"github.com/bikegriffith/chronos-calendar/internal/remote"
	"github.com/bikegriffith/chronos-calendar/internal/store"
	syncp "github.com/bikegriffith/chronos-calendar/internal/sync"
	"github.com/bikegriffith/chronos-calendar/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "status":
		return runStatus(os.Args[2:])
	case "version":
		fmt.Println("chronos", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'chronos' for usage", cmd)
	}
}

func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "Chronos — offline-first family calendar sync")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  chronos daemon [--config ...]     Run the background sync loop")
	fmt.Fprintln(os.Stderr, "  chronos sync-once [--config ...]  Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  chronos status [--config ...]     Show config & cache state")
	fmt.Fprintln(os.Stderr, "  chronos version                   Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found at %s.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

// runSync handles both "daemon" and "sync-once".
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, daemon)
}

// runStatus prints the current configuration and cache state.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("Chronos Status")
	fmt.Println("──────────────")

	dbPath, _ := store.DefaultPath()
	if cfg, err := config.Load(*cfgPath); err == nil {
		fmt.Printf("  Config:     %s ✓\n", *cfgPath)
		fmt.Printf("  Server:     %s\n", cfg.ServerURL)
		fmt.Printf("  Sync every: %s\n", cfg.SyncInterval)
		fmt.Printf("  Retention:  ±%d days\n", cfg.RetentionDays)
		if cfg.DBPath != "" {
			dbPath = cfg.DBPath
		}
	} else if errors.Is(err, os.ErrNotExist) {
		fmt.Printf("  Config:     not found (%s)\n", *cfgPath)
	} else {
		fmt.Printf("  Config:     %s (invalid: %v)\n", *cfgPath, err)
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Printf("  Cache DB:   not found (%s)\n", dbPath)
		return nil
	}
	fmt.Printf("  Cache DB:   %s (%s)\n", dbPath, humanSize(info.Size()))

	s, err := store.Open(dbPath)
	if err != nil {
		fmt.Printf("  Pending:    unreadable (%v)\n", err)
		return nil
	}
	defer s.Close()

	ctx := context.Background()
	if n, err := s.CountMutations(ctx); err == nil {
		fmt.Printf("  Pending:    %d queued mutation(s)\n", n)
	}
	if meta, err := s.AllSyncMeta(ctx); err == nil && len(meta) > 0 {
		newest := time.Time{}
		for _, t := range meta {
			if t.After(newest) {
				newest = t
			}
		}
		fmt.Printf("  Last sync:  %s (%d calendar(s))\n", newest.Local().Format(time.RFC822), len(meta))
	} else {
		fmt.Println("  Last sync:  never")
	}

	return nil
}

// --- Sync core ---------------------------------------------------------------

// startSync is the shared implementation for daemon and sync-once modes.
func startSync(cfgPath string, verbose, daemon bool) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"server", cfg.ServerURL,
		"sync_interval", cfg.SyncInterval,
		"retention_days", cfg.RetentionDays,
	)

	// Telemetry is optional; a broken collector never blocks sync.
	shutdownTel, err := telemetry.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
	} else if cfg.Telemetry != nil {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTel(flushCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, err = store.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolving cache DB path: %w", err)
		}
	}
	cache, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening cache DB at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := cache.Close(); closeErr != nil {
			logger.Error("closing cache DB", "error", closeErr)
		}
	}()
	logger.Info("cache DB opened", "path", dbPath)

	client, err := remote.NewClient(cfg.ServerURL, cfg.APIToken, logger)
	if err != nil {
		return fmt.Errorf("initialising calendar client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pinger := connectivity.New(client.Ping, cfg.ProbeInterval, logger)
	orch := syncp.New(client, cache, pinger, syncp.Options{
		SyncInterval:    cfg.SyncInterval,
		RetentionRadius: cfg.RetentionRadius(),
		Calendars:       cfg.Calendars,
	}, logger)

	if !daemon {
		logger.Info("running single sync pass")
		err := orch.SyncNow(ctx)
		snap := orch.Snapshot()
		logger.Info("sync complete",
			"status", snap.Status,
			"pending", snap.PendingCount,
			"last_sync", snap.LastSyncAt,
		)
		return err
	}

	// Daemon mode: connectivity probe and sync loop run until a signal.
	unsub := orch.Subscribe(func(s syncp.Snapshot) {
		logger.Debug("sync state",
			"status", s.Status,
			"online", s.Online,
			"pending", s.PendingCount,
		)
	})
	defer unsub()

	go func() {
		if err := pinger.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("connectivity probe stopped", "error", err)
		}
	}()

	logger.Info("daemon starting", "sync_interval", cfg.SyncInterval)
	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync orchestrator: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
