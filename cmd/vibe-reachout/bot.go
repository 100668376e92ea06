package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nugget/vibe-reachout/internal/broker"
	"github.com/nugget/vibe-reachout/internal/buildinfo"
	"github.com/nugget/vibe-reachout/internal/telegram"
)

// runBot handles the "vibe-reachout bot" subcommand: the long-running
// broker daemon. It binds the Unix socket, starts the Telegram poller
// and the decision router, and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The socket listener closes and its file is removed
//  3. The poller stops and closes the event channel, stopping the router
//  4. Remaining pending requests are resolved as timeouts so their
//     hooks get a terminal answer instead of hanging
func runBot(ctx context.Context, stderr io.Writer, configPath string) error {
	logger := newLogger(stderr, slog.LevelInfo)
	logger.Info("starting vibe-reachout bot",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	socketPath := cfg.EffectiveSocketPath()
	logger.Info("config loaded",
		"socket", socketPath,
		"chats", len(cfg.AllowedChatIDs),
		"timeout_seconds", cfg.TimeoutSeconds,
	)

	// Refuse to start when another broker owns the socket; reclaim it
	// when only a stale file is left behind.
	if err := broker.EnsureSocketFree(socketPath, logger); err != nil {
		return fmt.Errorf("socket %s: %w", socketPath, err)
	}

	client := telegram.NewClient(cfg.TelegramBotToken, logger)
	adapter := telegram.NewAdapter(client, logger)

	pending := broker.NewPendingTable()
	server := broker.NewServer(cfg, adapter, telegram.FormatPermissionMessage, pending, logger)
	router := broker.NewRouter(cfg, adapter, pending, logger)

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	errCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx, socketPath); err != nil {
			errCh <- err
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		adapter.Poll(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		router.Run(ctx, adapter.Events())
	}()

	wg.Wait()

	// Any handler still parked on a reply channel gets a timeout so the
	// hook side can return to its terminal prompt, then wait for the
	// handlers to flush those responses before the process exits.
	server.DrainPending()
	server.Wait()

	select {
	case err := <-errCh:
		return err
	default:
	}

	logger.Info("vibe-reachout bot stopped")
	return nil
}
