package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/rekindle/internal/lifecycle"
	"github.com/lazypower/rekindle/internal/outbox"
	"github.com/lazypower/rekindle/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server, the generation timer and the outbox worker",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	pub, closePub, err := publisher(a.cfg.Outbox, log)
	if err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}
	defer closePub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := outbox.NewWorker(a.db, pub, outboxConfig(a.cfg.Outbox), log)
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("outbox worker stopped")
		}
	}()

	a.engine.StartTimer()
	defer a.engine.Stop()

	srv := server.New(a.db, a.engine, lifecycle.New(a.db, log), VersionString(), log)
	addr := a.cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", addr).
			Str("db_driver", a.db.Driver).
			Str("db", a.db.Path).
			Str("publisher", a.cfg.Outbox.Publisher).
			Msg("rekindle serving")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	return httpServer.Shutdown(shutdownCtx)
}
