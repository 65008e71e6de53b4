// Command plinkod serves Plinko drops, accounts and distribution scans over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/MJE43/plinko-engine/internal/api"
	"github.com/MJE43/plinko-engine/internal/board"
	"github.com/MJE43/plinko-engine/internal/config"
	"github.com/MJE43/plinko-engine/internal/drop"
	"github.com/MJE43/plinko-engine/internal/engine"
	"github.com/MJE43/plinko-engine/internal/games"
	"github.com/MJE43/plinko-engine/internal/jobs"
	"github.com/MJE43/plinko-engine/internal/logging"
	"github.com/MJE43/plinko-engine/internal/metrics"
	"github.com/MJE43/plinko-engine/internal/physics"
	"github.com/MJE43/plinko-engine/internal/scan"
	"github.com/MJE43/plinko-engine/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "plinkod: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := flag.String("env", ".env", "path to a .env file (ignored when missing)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	log := logging.Component(logger, "plinkod")

	// Scan workers default to GOMAXPROCS; follow the container CPU quota.
	undoMaxprocs, err := maxprocs.Set(maxprocs.Logger(log.Infof))
	if err != nil {
		log.WithError(err).Warn("set GOMAXPROCS")
	}
	defer undoMaxprocs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	boards, err := board.NewRegistry(cfg.Board, cfg.BoardCacheSize)
	if err != nil {
		return fmt.Errorf("board registry: %w", err)
	}
	field, err := boards.Default()
	if err != nil {
		return err
	}

	picks, jitter := randomSources(cfg, log)

	selector, err := games.NewOutcomeSelector(field, picks)
	if err != nil {
		return err
	}
	sim, err := physics.NewSimulator(field, jitter,
		physics.WithLogger(logging.Component(logger, "physics")),
		physics.WithObserver(metrics.SimulationObserver{}),
	)
	if err != nil {
		return err
	}
	svc, err := drop.NewService(selector, sim,
		drop.WithLogger(logging.Component(logger, "drop")),
		drop.WithMaxBet(cfg.MaxBet),
	)
	if err != nil {
		return err
	}
	settler := drop.NewSettler(svc, db, db, logging.Component(logger, "settle"))

	scanner := scan.NewScanner(boards,
		scan.WithLogger(logging.Component(logger, "scan")),
		scan.WithVersion(api.EngineVersion),
	)

	scheduler := jobs.NewScheduler(logging.Component(logger, "jobs"))
	if cfg.RetentionSchedule != "" {
		retention, err := jobs.NewRetention(db, cfg.RetentionMaxAge, logging.Component(logger, "retention"))
		if err != nil {
			return err
		}
		if err := scheduler.AddRetention(cfg.RetentionSchedule, retention); err != nil {
			return err
		}
	}

	srv := api.NewServer(api.Deps{
		DB:              db,
		Boards:          boards,
		Scanner:         scanner,
		Drops:           svc,
		Settler:         settler,
		StartingBalance: cfg.StartingBalance,
		RequestTimeout:  cfg.RequestTimeout,
		DropTimeout:     cfg.DropTimeout,
		AllowedOrigins:  cfg.CORSOrigins,
	}, logging.Component(logger, "api"))

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// The tick loop outlives ctx so drops in flight can land while the
	// HTTP server drains; Stop ends it.
	simDone := make(chan error, 1)
	go func() { simDone <- svc.Run(context.Background(), cfg.TickInterval) }()

	scheduler.Start()
	defer scheduler.Stop()

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":    cfg.HTTPAddr,
			"rows":    field.Rows(),
			"risk":    field.Config().Risk,
			"tick":    cfg.TickInterval,
			"version": api.EngineVersion,
		}).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			svc.Stop()
			<-simDone
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}

	svc.Stop()
	if err := <-simDone; err != nil {
		log.WithError(err).Warn("simulation loop")
	}
	log.Info("stopped")
	return nil
}

// randomSources returns the streams for outcome picks and physics jitter.
// A configured server seed makes both reproducible.
func randomSources(cfg *config.Config, log *logrus.Entry) (picks, jitter engine.RandomSource) {
	if cfg.ServerSeed == "" {
		return engine.NewCryptoSource(), engine.NewCryptoSource()
	}
	seeds := engine.Seeds{Server: cfg.ServerSeed, Client: cfg.ClientSeed}
	log.WithField("server_seed_hash", store.HashServerSeed(cfg.ServerSeed)).
		Warn("seeded random stream in use; outcomes are predictable")
	return engine.NewSeededSource(seeds, 0), engine.NewSeededSource(seeds, 1)
}
