package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"VaultLedger/internal/config"
	"VaultLedger/internal/core"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/keeper"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/query"
	"VaultLedger/internal/recovery"
	"VaultLedger/internal/server"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	configPath := os.Getenv("VAULT_CONFIG")
	if configPath == "" {
		configPath = "vaultledger.yaml"
	}

	cmd := &cobra.Command{
		Use:          "vaultledger",
		Short:        "Event-sourced share ledger for a yield vault",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg, observability.NewLogger("vaultledger"))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", configPath, "path to the YAML config (env VAULT_CONFIG)")
	return cmd
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Msg("VaultLedger starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, logger)
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Channels ---
	// The persist path blocks (backpressure); projection and publish drop.
	persistCoreChan := make(chan core.CoreOutput, cfg.Core.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.Core.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.Core.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.Core.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.Core.PublishChanSize)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Deterministic Core ---
	coreCfg, err := cfg.CoreConfig()
	if err != nil {
		return err
	}
	deterministicCore, err := core.NewDeterministicCore(
		coreCfg,
		persistCoreChan,
		projectionCoreChan,
		persistence.NewPostgresIdempotencyChecker(db),
		metrics,
	)
	if err != nil {
		return fmt.Errorf("core: %w", err)
	}

	// --- Recovery: snapshot + replay ---
	restored, err := recovery.Restore(ctx, snapMgr, deterministicCore, metrics, logger)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	logger.Info().Str("url", cfg.NATS.URL).Msg("NATS connected")

	healthChecker.AddProbe("postgres", db.PingContext)
	healthChecker.AddProbe("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats %s", nc.Status())
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return err
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		return err
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.Core.QueueSize)
	subjects := ingestion.DefaultSubjects()
	for i := range subjects {
		subjects[i].ConsumerName = fmt.Sprintf("%s-%s", cfg.NATS.Durable, subjects[i].Stream)
	}
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan, logger).WithOptions(ingestion.ConsumerOptions{
		AckWait:    cfg.NATS.AckWait,
		MaxDeliver: cfg.NATS.MaxDeliver,
	})
	if err := natsSubscriber.Subscribe(ctx, subjects); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	// --- Services ---
	sequencer := core.NewSequencer(deterministicCore, cfg.Core.QueueSize, logger.With().Str("component", "sequencer").Logger())

	snapshotter := recovery.NewSnapshotter(sequencer, snapMgr, cfg.Persistence.SnapshotsKept, metrics, logger)
	snapshotter.SetLastSequence(restored.SnapshotSequence)

	v := deterministicCore.Vault()
	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		Query:  query.NewQueryService(db, v.Want(), v.ShareAsset()),
		Ingest: ingestion.NewGRPCIngestService(sequencer),
		Admin: &adminBackend{
			db:          db,
			snapshots:   snapMgr,
			snapshotter: snapshotter,
			logger:      logger,
		},
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Logger:        logger.With().Str("component", "server").Logger(),
	})

	bridge := &outputBridge{
		persistIn:     persistCoreChan,
		projectionIn:  projectionCoreChan,
		persistOut:    persistWorkerChan,
		projectionOut: projectionWorkerChan,
		publishOut:    publishChan,
		metrics:       metrics,
		logger:        logger,
	}

	// --- Start goroutines ---
	errChan := make(chan error, 16)

	// Workers outlive ctx: they stop once their input is closed and flushed.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workers sync.WaitGroup
	startWorker := func(fn func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := fn(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- err
			}
		}()
	}

	// 1. Persistence worker
	startWorker(persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout, metrics, logger).Run)
	// 2. Projection worker
	startWorker(projection.NewProjectionWorker(db, projectionWorkerChan, metrics, logger).Run)
	// 3. Outbound publisher
	startWorker(ingestion.NewOutboundPublisher(js, publishChan, metrics, logger).Run)

	// 4. Core output bridge
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridge.run(workerCtx)
	}()

	// 5. Sequencer: the only goroutine touching the core
	sequencerDone := make(chan struct{})
	go func() {
		defer close(sequencerDone)
		_ = sequencer.Run(ctx)
	}()

	// 6. NATS -> sequencer
	go func() {
		if err := ingestion.RunCommandLoop(ctx, rawEventChan, sequencer, logger); err != nil && ctx.Err() == nil {
			errChan <- err
		}
	}()

	// 7. gRPC server
	go func() {
		errChan <- grpcServer.StartGRPC(ctx)
	}()

	// 8. HTTP/JSON gateway (proxies to gRPC)
	go func() {
		errChan <- grpcServer.StartHTTPGateway(ctx)
	}()

	// 9. Periodic snapshots
	go func() {
		if err := snapshotter.Run(ctx, cfg.Persistence.SnapshotInterval, cfg.Persistence.SnapshotCheck); err != nil {
			errChan <- fmt.Errorf("snapshotter: %w", err)
		}
	}()

	// 10. Keeper
	if cfg.Keeper.Enabled {
		overrides := make(map[uuid.UUID]keeper.Override)
		for id, sc := range cfg.StrategyOverrides() {
			overrides[id] = keeper.Override{CallCost: sc.CallCost, Paused: sc.Paused}
		}
		opts := keeper.Options{
			Schedule:  cfg.Keeper.Schedule,
			CallCost:  cfg.Keeper.CallCost,
			Overrides: overrides,
		}
		if cfg.Keeper.Publish {
			opts.Sink = ingestion.NewCommandPublisher(js)
		}
		k := keeper.New(sequencer, opts, metrics, logger)
		go func() {
			if err := k.Run(ctx); err != nil {
				errChan <- err
			}
		}()
	}

	// 11. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_ = metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 12. Channel gauges
	go monitorChannels(ctx, metrics, map[string]func() (int, int){
		"persist":    func() (int, int) { return len(persistCoreChan), cap(persistCoreChan) },
		"projection": func() (int, int) { return len(projectionCoreChan), cap(projectionCoreChan) },
		"publish":    func() (int, int) { return len(publishChan), cap(publishChan) },
		"inbound":    func() (int, int) { return len(rawEventChan), cap(rawEventChan) },
	})

	healthChecker.SetReady(true)
	logger.Info().
		Int64("next_sequence", deterministicCore.GetSequence()).
		Int64("snapshot_sequence", restored.SnapshotSequence).
		Int64("replayed", restored.Replayed).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Bool("keeper", cfg.Keeper.Enabled).
		Msg("VaultLedger ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake, let the sequencer finish, drain every applied command
	// to Postgres, then take the final snapshot from the idle core.
	healthChecker.SetReady(false)
	natsSubscriber.Stop()
	cancel()
	<-sequencerDone

	close(persistCoreChan)
	close(projectionCoreChan)
	<-bridgeDone
	close(persistWorkerChan)
	close(projectionWorkerChan)
	close(publishChan)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	flushed := make(chan struct{})
	go func() {
		workers.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-shutdownCtx.Done():
		logger.Error().Msg("workers did not flush in time")
		stopWorkers()
	}

	if seq, err := snapshotter.Save(shutdownCtx, deterministicCore.CreateSnapshotState()); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else if seq >= 0 {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	logger.Info().Msg("VaultLedger shutdown complete")
	return runErr
}

func monitorChannels(ctx context.Context, metrics *observability.Metrics, chans map[string]func() (int, int)) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, fn := range chans {
				size, capacity := fn()
				metrics.SetChannelMetrics(name, size, capacity)
			}
		}
	}
}
