// Package main runs the NAV strike engine: order intake over HTTP, scheduled
// strikes priced from the NAV feed, and post-strike reconciliation.
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
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"nav-strike-engine/internal/admin"
	"nav-strike-engine/internal/config"
	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/events"
	"nav-strike-engine/internal/fund"
	"nav-strike-engine/internal/gateway"
	"nav-strike-engine/internal/navfeed"
	"nav-strike-engine/internal/observability"
	"nav-strike-engine/internal/queue"
	"nav-strike-engine/internal/reporting"
	"nav-strike-engine/internal/schedule"
	"nav-strike-engine/internal/settlement"
	"nav-strike-engine/internal/storage"
	chstore "nav-strike-engine/internal/storage/clickhouse"
	"nav-strike-engine/internal/storage/memory"
	"nav-strike-engine/internal/storage/migrations"
	pgstore "nav-strike-engine/internal/storage/postgres"
	"nav-strike-engine/internal/strike"
)

// stores holds every storage implementation the engine uses.
type stores struct {
	orders     storage.OrderStore
	reports    storage.StrikeReportStore
	fundStates storage.FundStateStore
	unresolved storage.UnresolvedStore
	analytics  storage.ReceiptAnalyticsStore // nil without ClickHouse
}

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", "config.yaml", "Path to YAML config file")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Log.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	sched, err := schedule.New(cfg.Fund.Schedule, loc)
	if err != nil {
		return err
	}

	ledger, err := restoreLedger(ctx, cfg, sched, st.fundStates, logger)
	if err != nil {
		return err
	}

	q := queue.New(queue.Options{
		Scheduler:        sched,
		Store:            st.orders,
		ValidateInvestor: gateway.ValidateWallet,
		Logger:           logger,
	})
	if err := q.Restore(ctx); err != nil {
		return fmt.Errorf("restore pending orders: %w", err)
	}
	observability.SetPending(q.Len())

	gw, closeGateway, err := createGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeGateway()

	publisher, err := createPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("close event publisher", zap.Error(err))
		}
	}()

	proc, err := settlement.NewProcessor(ctx, settlement.Options{
		Gateway: gw,
		Ledger:  ledger,
		Orders:  q,
		Accounts: settlement.Accounts{
			Settlement:  cfg.Fund.SettlementAccount,
			ShareIssuer: cfg.Fund.ShareIssuerAccount,
		},
		Unresolved:          st.unresolved,
		ConfirmationTimeout: cfg.Gateway.ConfirmationTimeout,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	batchOrder, err := strike.ParseBatchOrder(cfg.Strike.BatchOrder)
	if err != nil {
		return err
	}
	orch, err := strike.New(strike.Options{
		Ledger:     ledger,
		Queue:      q,
		Settler:    proc,
		Publisher:  gw,
		Reports:    st.reports,
		FundStates: st.fundStates,
		Unresolved: st.unresolved,
		Analytics:  st.analytics,
		Events:     publisher,
		Workers:    cfg.Strike.Workers,
		BatchOrder: batchOrder,
		Retry:      strike.RetryPolicy{MaxAttempts: cfg.Strike.RetryAttempts},
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// Settlements left open by a previous run.
	if res, err := orch.Reconcile(ctx); err != nil {
		logger.Warn("startup reconciliation", zap.Error(err))
	} else if res.Checked > 0 {
		logger.Info("startup reconciliation",
			zap.Int("checked", res.Checked),
			zap.Int("confirmed", res.Confirmed),
			zap.Int("still_open", res.StillOpen))
	}

	var feed navfeed.Source = carryForward{ledger: ledger}
	if cfg.NAVFeed.URL != "" {
		feed = navfeed.NewHTTPSource(cfg.NAVFeed.URL, cfg.NAVFeed.APIKey, cfg.NAVFeed.Timeout)
	} else {
		logger.Warn("no NAV feed configured, scheduled strikes carry the current NAV forward")
	}

	trigger := schedule.NewTrigger(sched, scheduledStrike(orch, feed, ledger.FundID(), logger), logger)
	if err := trigger.Register(ctx); err != nil {
		return err
	}
	trigger.Start()
	defer trigger.Stop()

	svc, err := admin.NewService(admin.Options{
		Queue:      q,
		Strikes:    orch,
		Ledger:     ledger,
		Scheduler:  sched,
		Reports:    st.reports,
		Compliance: gw,
		Reporter:   reporting.NewGenerator(st.reports, st.fundStates, st.unresolved, st.analytics),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           admin.NewRouter(admin.NewHandler(svc, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}

// scheduledStrike fetches the NAV for each schedule entry, strikes, then
// reconciles any settlements the strike left unresolved.
func scheduledStrike(orch *strike.Orchestrator, feed navfeed.Source, fundID string, logger *zap.Logger) schedule.StrikeFunc {
	return func(ctx context.Context, at time.Time) {
		log := logger.With(zap.Time("scheduled_at", at))

		quote, err := feed.FetchNAV(ctx, fundID)
		if err != nil {
			log.Error("fetch NAV, strike skipped", zap.Error(err))
			observability.RecordStrike("skipped", 0)
			return
		}

		report, err := orch.ExecuteStrike(ctx, quote.NAV)
		if err != nil {
			if errors.Is(err, domain.ErrStrikeInProgress) {
				log.Warn("strike already running, entry skipped")
				return
			}
			log.Error("strike aborted", zap.Error(err))
			return
		}
		log.Info("scheduled strike complete",
			zap.String("strike_id", report.StrikeID),
			zap.String("nav", report.NAV.String()),
			zap.Int("subscriptions", report.SubscriptionsProcessed),
			zap.Int("redemptions", report.RedemptionsProcessed),
			zap.Int("failures", len(report.Failures)))

		if res, err := orch.Reconcile(ctx); err != nil {
			log.Warn("post-strike reconciliation", zap.Error(err))
		} else if res.Confirmed+res.Failed > 0 {
			log.Info("post-strike reconciliation",
				zap.Int("confirmed", res.Confirmed),
				zap.Int("failed", res.Failed),
				zap.Int("still_open", res.StillOpen))
		}
	}
}

// carryForward prices strikes at the ledger's current NAV.
type carryForward struct {
	ledger *fund.Ledger
}

func (c carryForward) FetchNAV(_ context.Context, fundID string) (navfeed.Quote, error) {
	s := c.ledger.Snapshot()
	return navfeed.Quote{FundID: fundID, NAV: s.CurrentNAV, AsOf: time.Now()}, nil
}

// restoreLedger loads persisted fund state, or seeds it from config on first start.
func restoreLedger(ctx context.Context, cfg *config.Config, sched *schedule.Scheduler, fundStates storage.FundStateStore, logger *zap.Logger) (*fund.Ledger, error) {
	saved, err := fundStates.Load(ctx, cfg.Fund.ID)
	switch {
	case err == nil:
		saved.StrikeSchedule = sched.Entries()
		logger.Info("fund state restored",
			zap.String("fund_id", saved.FundID),
			zap.String("nav", saved.CurrentNAV.String()),
			zap.String("aum", saved.TotalAUM.String()))
		return fund.NewLedger(*saved, logger)
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("load fund state: %w", err)
	}

	nav, err := cfg.InitialNAV()
	if err != nil {
		return nil, err
	}
	initial := domain.FundState{
		FundID:         cfg.Fund.ID,
		CurrentNAV:     nav,
		StrikeSchedule: sched.Entries(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := fundStates.Save(ctx, &initial); err != nil {
		return nil, fmt.Errorf("save initial fund state: %w", err)
	}
	logger.Info("fund state initialized", zap.String("fund_id", initial.FundID), zap.String("nav", nav.String()))
	return fund.NewLedger(initial, logger)
}

// createGateway connects the JSON-RPC ledger client, with push confirmations
// when a WebSocket endpoint is configured.
func createGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gateway.HTTPClient, func(), error) {
	opts := []gateway.ClientOption{
		gateway.WithMaxRetries(cfg.Gateway.MaxRetries),
		gateway.WithPollInterval(cfg.Gateway.PollInterval),
	}
	cleanup := func() {}

	if cfg.Gateway.WSEndpoint != "" {
		ws, err := gateway.NewWSConfirmer(ctx, cfg.Gateway.WSEndpoint, nil, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect ledger websocket: %w", err)
		}
		opts = append(opts, gateway.WithConfirmationWatcher(ws))
		cleanup = func() {
			if err := ws.Close(); err != nil {
				logger.Warn("close ledger websocket", zap.Error(err))
			}
		}
	}
	return gateway.NewHTTPClient(cfg.Gateway.RPCEndpoint, opts...), cleanup, nil
}

func createPublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.Noop{}, nil
	}
	return events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:     cfg.Kafka.Brokers,
		TopicPrefix: cfg.Kafka.TopicPrefix,
	}, logger)
}

// createStores creates either in-memory or database-backed stores.
func createStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, func(), error) {
	if cfg.Storage.UseMemory {
		logger.Info("using in-memory storage")
		return &stores{
			orders:     memory.NewOrderStore(),
			reports:    memory.NewStrikeReportStore(),
			fundStates: memory.NewFundStateStore(),
			unresolved: memory.NewUnresolvedStore(),
			analytics:  memory.NewReceiptAnalyticsStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	st := &stores{
		orders:     pgstore.NewOrderStore(pool),
		reports:    pgstore.NewStrikeReportStore(pool),
		fundStates: pgstore.NewFundStateStore(pool),
		unresolved: pgstore.NewUnresolvedStore(pool),
	}
	cleanup := func() { pool.Close() }

	if cfg.Storage.ClickhouseDSN == "" {
		logger.Info("using postgres storage, receipt analytics disabled")
		return st, cleanup, nil
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
	}
	st.analytics = chstore.NewReceiptAnalyticsStore(conn)
	cleanup = func() {
		pool.Close()
		_ = conn.Close()
	}
	logger.Info("using postgres storage with clickhouse receipt analytics")
	return st, cleanup, nil
}
