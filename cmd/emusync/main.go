package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/emusync/emusync/internal/cloud"
	"github.com/emusync/emusync/internal/config"
	"github.com/emusync/emusync/internal/errors"
	"github.com/emusync/emusync/internal/history"
	"github.com/emusync/emusync/internal/logging"
	"github.com/emusync/emusync/internal/profile"
	"github.com/emusync/emusync/internal/savepack"
	"github.com/emusync/emusync/internal/state"
	"github.com/emusync/emusync/internal/syncer"
	"github.com/emusync/emusync/internal/watch"
)

var Version = "dev"

func main() {
	// Handle hash-password subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		hashPassword()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// hashPassword prints a bcrypt hash for provisioning self-hosted
// server accounts.
func hashPassword() {
	fmt.Fprint(os.Stderr, "Enter password: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	password := scanner.Text()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("emusync starting",
		slog.String("version", Version),
		slog.String("mode", string(cfg.Mode())),
		slog.String("dataDir", cfg.DataDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	profiles, err := profile.LoadFile(cfg.ProfilesPath)
	if err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}
	if len(profiles) == 0 {
		return fmt.Errorf("no game profiles configured in %s", cfg.ProfilesPath)
	}
	logger.Info("profiles loaded", slog.Int("count", len(profiles)))

	store, err := state.Open(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}
	defer store.Close()

	hist, err := history.NewStore(cfg.HistoryDir, history.RetentionPolicy{
		Limit:      cfg.RetentionLimit,
		AutoDelete: cfg.AutoDelete,
	}, logger)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}

	packager := savepack.New(filepath.Join(cfg.DataDir, "staging"), logger)

	backend, err := buildBackend(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	handle := cloud.NewHandle(backend)

	watcher := watch.New(logger)

	orch := syncer.New(cfg, profiles, packager, hist, handle, store, watcher, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})
	g.Go(func() error {
		return logNotifications(gctx, orch, logger)
	})

	err = g.Wait()
	if err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("emusync stopped")
	return nil
}

// buildBackend constructs the configured backend, restores any
// persisted session, and logs in when no session exists. Auth
// failures at startup are reported but do not abort: the daemon keeps
// local history working and retries after the user fixes credentials.
func buildBackend(ctx context.Context, cfg *config.Config, store *state.Store, logger *slog.Logger) (cloud.Backend, error) {
	cc := cfg.Cloud()
	if cc.DeviceID == "" {
		if saved, err := store.DeviceID(); err == nil && saved != "" {
			cc.DeviceID = saved
		}
	}

	backend, err := cloud.NewBackend(cc, logger)
	if err != nil {
		return nil, fmt.Errorf("building cloud backend: %w", err)
	}

	client, ok := backend.(*cloud.Client)
	if !ok {
		return backend, nil
	}

	if token, err := store.Token(); err == nil && token != "" {
		client.SetToken(token)
		return backend, nil
	}

	result, err := client.Login(ctx)
	if err != nil {
		if stderrors.Is(err, errors.ErrUnauthorized) {
			logger.Warn("cloud login rejected, running with local history only",
				slog.String("error", err.Error()))
			return backend, nil
		}
		if errors.IsTransient(err) {
			logger.Warn("cloud unreachable at startup, will retry during sync",
				slog.String("error", err.Error()))
			return backend, nil
		}
		return nil, fmt.Errorf("logging in: %w", err)
	}

	if err := store.SetToken(result.Token); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	if result.DeviceID != "" {
		if err := store.SetDeviceID(result.DeviceID); err != nil {
			return nil, fmt.Errorf("persisting device id: %w", err)
		}
	}

	return backend, nil
}

// logNotifications mirrors orchestrator events into the log so a
// headless deployment still has visibility.
func logNotifications(ctx context.Context, orch *syncer.Orchestrator, logger *slog.Logger) error {
	events, cancel := orch.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			switch event.Kind {
			case syncer.EventConflictDetected:
				logger.Warn("conflict awaiting resolution",
					slog.String("gameID", event.GameID),
					slog.Time("localTimestamp", event.LocalTimestamp),
					slog.Time("cloudTimestamp", event.CloudTimestamp))
			case syncer.EventDownloadError:
				logger.Error("download failed",
					slog.String("gameID", event.GameID),
					slog.String("error", event.Error))
			case syncer.EventDownloadProgress:
				// Too chatty for logs.
			default:
				logger.Debug("sync event",
					slog.String("kind", string(event.Kind)),
					slog.String("gameID", event.GameID))
			}
		}
	}
}
