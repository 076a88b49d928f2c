package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xjhc/alignment/internal/archive"
	"github.com/xjhc/alignment/internal/config"
	"github.com/xjhc/alignment/internal/httpapi"
	"github.com/xjhc/alignment/internal/hub"
	"github.com/xjhc/alignment/internal/lobby"
	"github.com/xjhc/alignment/internal/logging"
	"github.com/xjhc/alignment/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Dev, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	arch, err := archive.Open(cfg.ArchiveDriver, cfg.ArchiveDSN, log.Named("archive"))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, arch.Close()) }()

	sessions := session.NewStore(cfg.CredentialCost, cfg.CredentialTTL)
	// The hub outlives ctx so lobbies are stopped explicitly after the
	// server has drained.
	h := hub.NewHub(context.Background(), cfg.Hub(), sessions, lobby.Deps{
		Logger:   log,
		Archiver: arch,
	})

	wsOpts := cfg.WS()
	wsOpts.Logger = log.Named("ws")
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:     h,
			Archive: arch,
			WS:      wsOpts,
			Logger:  log.Named("http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		serr := srv.Shutdown(sctx)
		h.Shutdown()
		return serr
	})
	return g.Wait()
}
