package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"PerpMarket/internal/auth"
	"PerpMarket/internal/config"
	"PerpMarket/internal/engine"
	"PerpMarket/internal/event"
	"PerpMarket/internal/feed"
	"PerpMarket/internal/margin"
	"PerpMarket/internal/observability"
	"PerpMarket/internal/persistence"
	"PerpMarket/internal/query"
	"PerpMarket/internal/server"
	"PerpMarket/internal/treasury"
	"PerpMarket/internal/vamm"
)

func main() {
	log := observability.NewLogger("perpmarket")
	log.Info().Msg("starting")

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Auth.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid auth config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	checker := observability.NewHealthChecker("postgres", "nats", "grpc", "http")

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}

	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	checker.SetReady("postgres", true)

	// --- Event bus ---
	persistChan := make(chan event.Envelope, cfg.Persist.ChanSize)
	publishChan := make(chan event.Envelope, cfg.Persist.PublishChanSize)
	bus := event.NewBus(persistChan, publishChan, observability.NewLogger("bus"))

	// --- Principals ---
	owner := auth.Address(cfg.Auth.Owner)
	engineAddr := auth.Address(cfg.Auth.EngineAddr)

	callers, err := auth.NewCapabilitySet(owner)
	if err != nil {
		log.Fatal().Err(err).Msg("capability set")
	}
	for _, c := range []auth.Capability{auth.CapLedgerWrite, auth.CapTreasuryCollect, auth.CapSwap} {
		if err := callers.Grant(owner, engineAddr, c); err != nil {
			log.Fatal().Err(err).Msg("grant engine capability")
		}
	}

	// --- Domain components ---
	ledger := margin.NewLedger(callers, bus, observability.NewLogger("ledger"))

	tre, err := treasury.New(callers, auth.Address(cfg.Auth.FeeRecipient), bus, observability.NewLogger("treasury"))
	if err != nil {
		log.Fatal().Err(err).Msg("treasury")
	}

	vammCfg, err := cfg.Market.VAMMConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("vamm config")
	}
	amm, err := vamm.New(vammCfg, callers, bus, observability.NewLogger("vamm"))
	if err != nil {
		log.Fatal().Err(err).Msg("vamm")
	}

	eng, err := engine.New(engineAddr, callers, ledger, tre, amm, cfg.Risk.Params(),
		bus, metrics, observability.NewLogger("engine"))
	if err != nil {
		log.Fatal().Err(err).Msg("engine")
	}

	// --- Recovery ---
	snapStore := persistence.NewSnapshotStore(db)
	worker := persistence.NewWorker(db, persistChan, cfg.Persist.BatchSize,
		cfg.Persist.FlushTimeout, metrics, observability.NewLogger("persistence"))

	snap, err := snapStore.LoadLatest(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load snapshot")
	}
	if snap != nil {
		ledger.Restore(snap.Ledger)
		tre.Restore(snap.Treasury)
		amm.Restore(snap.Market)
		if err := eng.Restore(snap.Engine); err != nil {
			log.Fatal().Err(err).Msg("restore engine state")
		}
		log.Info().Int64("sequence", snap.Sequence).Msg("state restored from snapshot")
	} else {
		log.Info().Msg("no snapshot found, cold start")
	}

	// The audit log may run ahead of the newest snapshot; sequence
	// assignment continues from whichever is higher.
	lastSeq, err := worker.Writer().LastSequence(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("read last sequence")
	}
	if snap != nil && snap.Sequence > lastSeq {
		lastSeq = snap.Sequence
	}
	bus.Seed(lastSeq)

	// --- NATS ---
	nc, js, err := feed.ConnectNATS(cfg.NATS.URL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := feed.EnsureStreams(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure streams")
	}
	checker.SetReady("nats", true)

	publisher := feed.NewPublisher(js, publishChan, observability.NewLogger("publisher"))

	oracle := feed.NewOracleSubscriber(js, amm, metrics, observability.NewLogger("oracle"))
	if err := oracle.Subscribe(ctx); err != nil {
		log.Fatal().Err(err).Msg("oracle subscribe")
	}

	// --- Servers ---
	history := query.NewService(db)
	api := server.NewAPI(eng, ledger, tre, amm, history, metrics, observability.NewLogger("api"))
	srv := server.New(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, api, checker, observability.NewLogger("server"))

	errChan := make(chan error, 4)

	go func() {
		errChan <- worker.Run(ctx)
	}()
	go func() {
		errChan <- publisher.Run(ctx)
	}()
	go func() {
		checker.SetReady("grpc", true)
		errChan <- srv.StartGRPC(ctx)
	}()
	go func() {
		checker.SetReady("http", true)
		errChan <- srv.StartHTTP(ctx)
	}()
	go runPeriodicSnapshots(ctx, cfg.Persist, bus, worker, snapStore, ledger, tre, amm, eng, metrics, log)

	log.Info().
		Int64("sequence", lastSeq).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Msg("ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("component failed, shutting down")
		}
	}

	cancel()
	oracle.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := takeSnapshot(shutdownCtx, worker, snapStore, ledger, tre, amm, eng, metrics); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Msg("final snapshot saved")
	}

	log.Info().Msg("shutdown complete")
}

func runPeriodicSnapshots(
	ctx context.Context,
	cfg config.PersistConfig,
	bus *event.Bus,
	worker *persistence.Worker,
	store *persistence.SnapshotStore,
	ledger *margin.Ledger,
	tre *treasury.Treasury,
	amm *vamm.VAMM,
	eng *engine.Engine,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	interval := cfg.SnapshotInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastDropped int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := takeSnapshot(ctx, worker, store, ledger, tre, amm, eng, metrics); err != nil {
				log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			if err := store.Prune(ctx, cfg.SnapshotKeep); err != nil {
				log.Warn().Err(err).Msg("snapshot prune failed")
			}
			if dropped := bus.Dropped(); dropped > lastDropped {
				metrics.PublishDrops.Add(float64(dropped - lastDropped))
				lastDropped = dropped
			}
		}
	}
}

// takeSnapshot captures the full in-memory state at the last persisted
// sequence. Events still in flight land after that sequence, so a
// restore replays nothing it already holds.
func takeSnapshot(
	ctx context.Context,
	worker *persistence.Worker,
	store *persistence.SnapshotStore,
	ledger *margin.Ledger,
	tre *treasury.Treasury,
	amm *vamm.VAMM,
	eng *engine.Engine,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	seq, err := worker.Writer().LastSequence(ctx)
	if err != nil {
		return err
	}

	snap := &persistence.Snapshot{
		Sequence:  seq,
		Ledger:    ledger.Snapshot(),
		Engine:    eng.Snapshot(),
		Market:    amm.Snapshot(),
		Treasury:  tre.Snapshot(),
		CreatedAt: time.Now().UTC(),
	}

	if _, err := store.Save(ctx, snap); err != nil {
		return err
	}

	metrics.SnapshotsTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	return nil
}
