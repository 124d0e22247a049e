package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"signalforge/internal/combos"
	"signalforge/internal/config"
	"signalforge/internal/core"
	"signalforge/internal/exchanges"
	"signalforge/internal/factcheck"
	"signalforge/internal/market"
	"signalforge/internal/metrics"
	"signalforge/internal/pricedata"
	"signalforge/internal/publisher"
	"signalforge/internal/store"
	"signalforge/internal/supervisor"
	"signalforge/pkg/broadcaster"
	"signalforge/pkg/redis"
)

// SignalForge is the main application: signal validation and combination
// mining over multi-venue candle data.
type SignalForge struct {
	config      *config.Config
	logger      *zap.Logger
	supervisor  *supervisor.Supervisor
	broadcaster *broadcaster.Broadcaster
	metrics     *metrics.PrometheusMetrics
	publisher   *publisher.Publisher
	redisClient *redis.Client

	limiter      *market.RateLimiter
	availability *market.AvailabilityCache
	flight       *market.FlightGroup
	cache        *market.CandleCache
	aggregator   *market.Aggregator
	facade       *pricedata.Facade

	orchestrator *factcheck.Orchestrator
	miner        *combos.Miner

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	fmt.Println("SignalForge - signal validation & combination mining pipeline")

	app := &SignalForge{}

	if err := app.initialize(); err != nil {
		fmt.Printf("Failed to initialize SignalForge: %v\n", err)
		os.Exit(1)
	}

	if err := app.start(); err != nil {
		fmt.Printf("Failed to start SignalForge: %v\n", err)
		os.Exit(1)
	}

	app.waitForShutdown()

	if err := app.shutdown(); err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("SignalForge stopped gracefully")
}

// initialize sets up all components
func (app *SignalForge) initialize() error {
	var err error

	app.ctx, app.cancel = context.WithCancel(context.Background())

	app.logger, err = app.setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}

	configPath := os.Getenv("SIGNALFORGE_CONFIG")
	if configPath == "" {
		execPath, _ := os.Executable()
		configPath = filepath.Join(filepath.Dir(execPath), "configs", "config.yaml")
	}

	configLoader := config.NewConfigLoader()
	app.config, err = configLoader.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app.logger.Info("Configuration loaded",
		zap.Int("exchanges", len(app.config.Exchanges)),
		zap.Strings("priority", app.config.Aggregator.Priority))

	if err := app.setupMarket(); err != nil {
		return err
	}
	if err := app.setupPipeline(); err != nil {
		return err
	}

	app.supervisor = supervisor.New(supervisor.Policy{
		MaxRetries:     app.config.Supervisor.MaxRetries,
		InitialBackoff: config.ParseDuration(app.config.Supervisor.InitialBackoff, 5*time.Second),
		MaxBackoff:     config.ParseDuration(app.config.Supervisor.MaxBackoff, 60*time.Second),
		BackoffFactor:  app.config.Supervisor.BackoffFactor,
		StuckAfter:     config.ParseDuration(app.config.Supervisor.StuckAfter, 5*time.Minute),
		HealthInterval: config.ParseDuration(app.config.Supervisor.HealthInterval, 30*time.Second),
	}, app.logger)
	app.logger.Info("Core components initialized")
	return nil
}

func (app *SignalForge) setupLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	config.OutputPaths = []string{"stdout"}
	return config.Build()
}

// setupMarket wires the venue clients, aggregator, cache, and facade.
func (app *SignalForge) setupMarket() error {
	limits := make(map[exchanges.Venue]int)
	clients := make(map[exchanges.Venue]exchanges.Client)
	var priority []exchanges.Venue

	for _, ec := range app.config.EnabledExchanges() {
		venue := exchanges.Venue(ec.Name)
		client, err := exchanges.NewClient(venue, exchanges.ClientOptions{
			BaseURL: ec.BaseURL,
			Timeout: config.ParseDuration(ec.Timeout, 10*time.Second),
			Logger:  app.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to build %s client: %w", ec.Name, err)
		}
		clients[venue] = client
		limits[venue] = ec.RequestsPerMinute
	}

	for _, name := range app.config.Aggregator.Priority {
		venue := exchanges.Venue(name)
		if _, ok := clients[venue]; ok {
			priority = append(priority, venue)
		}
	}

	app.limiter = market.NewRateLimiter(limits, app.logger)
	app.availability = market.NewAvailabilityCache(
		config.ParseDuration(app.config.Aggregator.AvailabilityTTL, 24*time.Hour),
		app.logger)
	app.flight = market.NewFlightGroup(
		config.ParseDuration(app.config.Aggregator.InflightMaxAge, 30*time.Second),
		app.logger)

	if err := app.availability.LoadSnapshot(app.config.Aggregator.AvailabilitySnapshot); err != nil {
		app.logger.Warn("Availability snapshot load failed", zap.Error(err))
	}

	app.aggregator = market.NewAggregator(clients, app.limiter, app.availability, app.flight,
		market.AggregatorOptions{
			Priority:    priority,
			RaceSize:    app.config.Aggregator.RaceSize,
			RaceTimeout: config.ParseDuration(app.config.Aggregator.RaceTimeout, 5*time.Second),
		}, app.logger)

	app.cache = market.NewCandleCache(
		config.ParseDuration(app.config.Cache.TTL, 10*time.Minute),
		app.config.Cache.MaxFetchLimit,
		app.config.Cache.DeriveTimeframes,
		app.logger)

	app.facade = pricedata.NewFacade(app.aggregator, pricedata.Options{
		BufferCandles:   app.config.PriceData.BufferCandles,
		MaxAge:          time.Duration(app.config.PriceData.MaxAgeDays) * 24 * time.Hour,
		WarnAge:         time.Duration(app.config.PriceData.WarnAgeDays) * 24 * time.Hour,
		BatchChunkSize:  app.config.PriceData.BatchChunkSize,
		BatchChunkDelay: config.ParseDuration(app.config.PriceData.BatchChunkDelay, time.Second),
	}, app.logger)

	return nil
}

// setupPipeline wires the store, publisher, orchestrator, and miner.
func (app *SignalForge) setupPipeline() error {
	db, err := store.Open(store.Options{
		DSN:             app.config.Database.DSN,
		MaxOpenConns:    app.config.Database.MaxOpenConns,
		MaxIdleConns:    app.config.Database.MaxIdleConns,
		ConnMaxLifetime: config.ParseDuration(app.config.Database.ConnMaxLifetime, time.Hour),
		AutoMigrate:     app.config.Database.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	signalRepo := store.NewSignalRepository(db)
	factCheckRepo := store.NewFactCheckRepository(db)
	comboRepo := store.NewComboRepository(db)
	confidenceRepo := store.NewConfidenceRepository(db)

	app.broadcaster = broadcaster.NewBroadcaster(app.logger)

	if app.config.Redis.Enabled {
		app.redisClient, err = redis.NewClient(redis.ClientConfig{
			Addr:     app.config.GetRedisAddress(),
			DB:       app.config.Redis.DB,
			Password: app.config.Redis.Password,
			PoolSize: app.config.Redis.PoolSize,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("failed to connect Redis: %w", err)
		}
		app.publisher = publisher.NewPublisher(app.redisClient.Raw(), app.broadcaster, app.logger)
	} else {
		app.publisher = publisher.NewPublisher(nil, app.broadcaster, app.logger)
	}

	evaluator := factcheck.NewEvaluator(app.config.FactCheck.StopLossPct, app.config.FactCheck.MinProfitPct)
	filter := factcheck.NewFilter(factCheckRepo, comboRepo, factcheck.FilterOptions{
		ComboMinAccuracy: app.config.Miner.MinAccuracy,
		MinSamples:       app.config.FactCheck.MinSamples,
		RandomSampleRate: app.config.FactCheck.RandomSampleRate,
		DisableRandom:    app.config.FactCheck.DisableRandomSample,
	}, app.logger)

	accuracy := factcheck.NewAggregator(factCheckRepo, signalRepo, confidenceRepo,
		factcheck.AggregatorOptions{
			MinSamples:        app.config.FactCheck.MinSamples,
			DefaultConfidence: app.config.FactCheck.DefaultConfidence,
		}, app.logger)

	app.orchestrator = factcheck.NewOrchestrator(
		&signalSourceAdapter{repo: signalRepo},
		app.facade, evaluator, filter, factCheckRepo, accuracy, app.publisher, app.logger)

	app.miner = combos.NewMiner(factCheckRepo, comboRepo,
		combos.NewSummaryCache(config.ParseDuration(app.config.Miner.SummaryCacheTTL, time.Hour)),
		app.publisher, app.logger)

	if app.config.Monitoring.MetricsEnabled {
		app.metrics = metrics.NewPrometheusMetrics()
	}

	return nil
}

// signalSourceAdapter maps the store query type onto the orchestrator's.
type signalSourceAdapter struct {
	repo *store.SignalRepository
}

func (a *signalSourceAdapter) FindUnchecked(q factcheck.UncheckedQuery) ([]core.Signal, error) {
	return a.repo.FindUnchecked(store.UncheckedQuery{Symbol: q.Symbol, Limit: q.Limit})
}

func (a *signalSourceAdapter) ValidationWindow(signalName string, timeframe core.Timeframe, fallback int) int {
	return a.repo.ValidationWindow(signalName, timeframe, fallback)
}

// start starts the application
func (app *SignalForge) start() error {
	app.logger.Info("Starting SignalForge")

	go app.broadcaster.Run()
	go app.startWebSocketServer()

	if app.metrics != nil {
		if err := app.metrics.Start(fmt.Sprintf("%d", app.config.Monitoring.PrometheusPort)); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if err := app.registerWorkers(); err != nil {
		return fmt.Errorf("failed to register workers: %w", err)
	}

	if err := app.supervisor.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	app.logger.Info("SignalForge operational")
	return nil
}

// registerWorkers registers the background maintenance loops and scheduled
// pipeline passes under the supervisor.
func (app *SignalForge) registerWorkers() error {
	workers := []struct {
		name string
		fn   supervisor.WorkerFunc
	}{
		{"rate-window-pruner", func(ctx context.Context) error {
			app.limiter.RunPruner(ctx.Done(),
				config.ParseDuration(app.config.Aggregator.RateWindowPruneEvery, 10*time.Second))
			return nil
		}},
		{"candle-cache-evictor", func(ctx context.Context) error {
			app.cache.RunEvictor(ctx.Done(),
				config.ParseDuration(app.config.Cache.EvictEvery, time.Minute))
			return nil
		}},
		{"inflight-watchdog", func(ctx context.Context) error {
			app.flight.RunWatchdog(ctx.Done(),
				config.ParseDuration(app.config.Aggregator.InflightWatchdogEvery, 30*time.Second))
			return nil
		}},
		{"availability-snapshot", func(ctx context.Context) error {
			app.runSnapshotWriter(ctx)
			return nil
		}},
	}

	if app.config.Schedules.ValidationEnabled {
		workers = append(workers, struct {
			name string
			fn   supervisor.WorkerFunc
		}{"validation-pass", app.runValidationLoop})
	}
	if app.config.Schedules.MiningEnabled {
		workers = append(workers, struct {
			name string
			fn   supervisor.WorkerFunc
		}{"mining-pass", app.runMiningLoop})
	}

	for _, w := range workers {
		if err := app.supervisor.Add(w.name, "pipeline", w.fn); err != nil {
			return err
		}
	}

	return nil
}

func (app *SignalForge) runSnapshotWriter(ctx context.Context) {
	interval := config.ParseDuration(app.config.Aggregator.SnapshotInterval, 10*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			path := app.config.Aggregator.AvailabilitySnapshot
			if err := app.availability.SaveSnapshot(path); err != nil {
				app.logger.Warn("Availability snapshot save failed", zap.Error(err))
				continue
			}
			if data, err := os.ReadFile(path); err == nil {
				if err := app.publisher.MirrorAvailability(data); err != nil {
					app.logger.Debug("Availability mirror failed", zap.Error(err))
				}
			}
		}
	}
}

func (app *SignalForge) runValidationLoop(ctx context.Context) error {
	interval := config.ParseDuration(app.config.Schedules.ValidationInterval, time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := app.orchestrator.Run(ctx, factcheck.OrchestratorOptions{
				UseFiltering:     app.config.FactCheck.UseFiltering,
				MaxWorkers:       app.config.FactCheck.MaxWorkers,
				ProgressLogEvery: app.config.FactCheck.ProgressLogEvery,
			})
			if err != nil {
				app.logger.Error("Validation pass failed", zap.Error(err))
				continue
			}
			if app.metrics != nil && summary.TotalChecked > 0 {
				app.metrics.SetPassAccuracy("all", summary.Accuracy)
			}
		}
	}
}

func (app *SignalForge) runMiningLoop(ctx context.Context) error {
	interval := config.ParseDuration(app.config.Schedules.MiningInterval, 6*time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	minerOpts := combos.Options{
		MinComboSize:      app.config.Miner.MinComboSize,
		MaxComboSize:      app.config.Miner.MaxComboSize,
		MinSamples:        app.config.Miner.MinSamples,
		MinAccuracy:       app.config.Miner.MinAccuracy,
		BatchSize:         app.config.Miner.BatchSize,
		MaxCombinations:   app.config.Miner.MaxCombinations,
		MinTimeframes:     app.config.Miner.MinTimeframes,
		MaxTimeframes:     app.config.Miner.MaxTimeframes,
		CorrelationWindow: config.ParseDuration(app.config.Miner.CorrelationWindow, time.Hour),
		BaseScanLimit:     app.config.Miner.BaseScanLimit,
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, tf := range core.AllTimeframes {
				stats, err := app.miner.AnalyzeCombinations(ctx, tf, minerOpts)
				if err != nil {
					app.logger.Error("Same-TF mining failed",
						zap.String("timeframe", string(tf)), zap.Error(err))
					continue
				}
				if app.metrics != nil {
					for i := 0; i < stats.Persisted; i++ {
						app.metrics.RecordComboPersisted("same_tf")
					}
				}
			}

			if _, err := app.miner.AnalyzeCrossTfCombinations(ctx, minerOpts); err != nil {
				app.logger.Error("Cross-TF mining failed", zap.Error(err))
			}
		}
	}
}

func (app *SignalForge) startWebSocketServer() {
	upgrader := websocket.Upgrader{
		CheckOrigin:       func(r *http.Request) bool { return true },
		EnableCompression: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			app.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
			return
		}

		app.broadcaster.Register(conn)
		defer app.broadcaster.Unregister(conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				app.logger.Info("WebSocket client disconnected",
					zap.String("remoteAddr", conn.RemoteAddr().String()))
				break
			}
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"service": "signalforge",
		})
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"aggregator": app.aggregator.Stats(),
			"publisher":  app.publisher.GetMetrics(),
			"supervisor": app.supervisor.Snapshot(),
		})
	})

	port := app.config.Monitoring.BroadcastPort
	if port == 0 {
		port = 8899
	}
	addr := fmt.Sprintf(":%d", port)

	app.logger.Info("Starting monitoring WebSocket server", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		app.logger.Fatal("Monitoring server failed", zap.Error(err))
	}
}

func (app *SignalForge) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
}

func (app *SignalForge) shutdown() error {
	app.logger.Info("Shutting down SignalForge...")

	app.cancel()

	if err := app.supervisor.Stop(30 * time.Second); err != nil {
		app.logger.Error("Error stopping supervisor", zap.Error(err))
	}
	app.broadcaster.Close()

	if err := app.availability.SaveSnapshot(app.config.Aggregator.AvailabilitySnapshot); err != nil {
		app.logger.Error("Availability snapshot save failed", zap.Error(err))
	}

	if app.metrics != nil {
		if err := app.metrics.Stop(); err != nil {
			app.logger.Error("Error stopping metrics server", zap.Error(err))
		}
	}
	if app.publisher != nil {
		app.publisher.Close()
	}
	if app.redisClient != nil {
		app.redisClient.Close()
	}

	app.logger.Info("SignalForge shutdown complete")
	return nil
}
