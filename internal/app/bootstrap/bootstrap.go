package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"metismedia/internal/core"
	"metismedia/internal/nodes/nodeb"
	"metismedia/internal/orchestration"
	"metismedia/internal/platform/config"
	"metismedia/internal/platform/db"
	"metismedia/internal/platform/messaging"
	"metismedia/internal/providers"
	"metismedia/internal/store"
	postgresstore "metismedia/internal/store/postgres"
	"metismedia/internal/worker"
)

// Package bootstrap is the composition root. Keep construction and wiring
// here so module code stays framework-agnostic.

// WorkerApp is the standalone stream-consumer process.
type WorkerApp struct {
	Worker  *worker.Worker
	Sweeper worker.ReservationSweeper

	postgres *db.Postgres
	logger   *slog.Logger
}

// PipelineApp bundles everything the demo driver needs: the orchestrator,
// an in-process worker, and the seeding surface.
type PipelineApp struct {
	Orchestrator orchestration.Orchestrator
	Worker       *worker.Worker
	Sweeper      worker.ReservationSweeper
	Sessions     store.Sessions
	Embedder     *providers.MockEmbeddingProvider
	Pulse        *providers.MockPulseProvider
	Ledger       core.TeeLedger

	postgres *db.Postgres
	logger   *slog.Logger
}

func BuildWorker() (*WorkerApp, error) {
	parts, err := buildShared("worker")
	if err != nil {
		return nil, err
	}
	return &WorkerApp{
		Worker:   parts.worker,
		Sweeper:  parts.sweeper,
		postgres: parts.postgres,
		logger:   parts.logger,
	}, nil
}

func BuildPipeline() (*PipelineApp, error) {
	parts, err := buildShared("pipeline")
	if err != nil {
		return nil, err
	}
	return &PipelineApp{
		Orchestrator: orchestration.Orchestrator{
			Sessions: parts.sessions,
			Bus:      parts.bus,
			Clock:    worker.SystemClock{},
			Logger:   parts.logger,
		},
		Worker:   parts.worker,
		Sweeper:  parts.sweeper,
		Sessions: parts.sessions,
		Embedder: parts.embedder,
		Pulse:    parts.pulse,
		Ledger:   parts.ledger,
		postgres: parts.postgres,
		logger:   parts.logger,
	}, nil
}

type sharedParts struct {
	worker   *worker.Worker
	sweeper  worker.ReservationSweeper
	sessions store.Sessions
	bus      *messaging.Bus
	embedder *providers.MockEmbeddingProvider
	pulse    *providers.MockPulseProvider
	ledger   core.TeeLedger
	postgres *db.Postgres
	logger   *slog.Logger
}

func buildShared(process string) (sharedParts, error) {
	cfg, err := config.Load()
	if err != nil {
		return sharedParts{}, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", process)
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return sharedParts{}, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return sharedParts{}, err
	}
	if err := postgresstore.AutoMigrate(pg.DB); err != nil {
		_ = pg.Close()
		return sharedParts{}, err
	}

	rdb, err := messaging.NewRedisClient(cfg.RedisURL)
	if err != nil {
		_ = pg.Close()
		return sharedParts{}, err
	}

	bus := messaging.NewBus(rdb, logger)
	keys := messaging.NewKeyStore(rdb)
	sessions := postgresstore.NewSessions(pg.DB, logger)
	ledger := core.TeeLedger{
		Memory: core.NewMemoryLedger(),
		Sink:   core.NewLogLedger(logger),
	}
	budget := core.Budget{MaxDollars: cfg.MaxDollars}

	clock := worker.SystemClock{}
	embedder := providers.NewMockEmbeddingProvider()
	pulse := providers.NewMockPulseProvider()
	thresholds := nodeb.DefaultThresholds()
	matching := nodeb.Handler{
		Checker: nodeb.PulseChecker{
			Pulse:      pulse,
			Embedder:   embedder,
			Thresholds: thresholds,
			Clock:      clock,
			Logger:     logger,
		},
		Thresholds: thresholds,
		Weights:    nodeb.DefaultWeights(),
		Clock:      clock,
		Logger:     logger,
	}

	registry := orchestration.NewRegistry(matching, clock, logger)
	w := worker.New(rdb, bus, keys, sessions, registry, budget, ledger, logger)
	w.Group = cfg.GroupName
	w.Consumer = cfg.ConsumerName
	w.Block = cfg.WorkerBlock
	w.Count = int64(cfg.WorkerCount)
	w.MaxRetries = cfg.MaxRetries
	w.IdemTTL = cfg.IdemTTL
	w.BackoffBase = cfg.BackoffBaseSeconds
	w.JitterMax = cfg.BackoffJitterMax

	sweeper := worker.ReservationSweeper{
		Sessions: sessions,
		Clock:    clock,
		Logger:   logger,
		Interval: cfg.ReservationSweepInterval,
	}

	return sharedParts{
		worker:   w,
		sweeper:  sweeper,
		sessions: sessions,
		bus:      bus,
		embedder: embedder,
		pulse:    pulse,
		ledger:   ledger,
		postgres: pg,
		logger:   logger,
	}, nil
}

// Run starts the consumer loop and the reservation sweeper and blocks until
// the context ends.
func (a *WorkerApp) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Worker.Run(gctx)
	})
	g.Go(func() error {
		a.Sweeper.Start(gctx)
		return nil
	})
	return g.Wait()
}

func (a *WorkerApp) Close() error {
	return a.postgres.Close()
}

func (a *PipelineApp) Close() error {
	return a.postgres.Close()
}
