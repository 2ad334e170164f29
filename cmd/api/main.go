package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	configAPI "deal_intake/pkg/api/config"
	intakeAPI "deal_intake/pkg/api/intake"
	"deal_intake/pkg/core/agent"
	"deal_intake/pkg/core/config"
	"deal_intake/pkg/core/excel"
	"deal_intake/pkg/core/extract"
	"deal_intake/pkg/core/geocode"
	"deal_intake/pkg/core/intake"
	"deal_intake/pkg/core/logging"
	"deal_intake/pkg/core/parser"
	"deal_intake/pkg/core/populate"
	"deal_intake/pkg/core/prompt"
	"deal_intake/pkg/core/storage"
	"deal_intake/pkg/core/store"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	prompts := prompt.Get()
	if cfg.PromptsDir != "" {
		if err := prompt.LoadFromDirectory(prompts, cfg.PromptsDir); err != nil {
			logger.Warn("prompt overrides not loaded", zap.String("dir", cfg.PromptsDir), zap.Error(err))
		}
	}

	agentCfg, err := agent.LoadConfig(cfg.AgentsFile)
	if err != nil {
		return err
	}
	agentMgr := agent.NewManager(agentCfg, logger.Named("agent"))
	logger.Info("llm provider selected", zap.String("provider", agentMgr.GetActiveProvider()))

	files, err := storage.NewLocal(cfg.Storage.Root)
	if err != nil {
		return err
	}

	dispatcher := parser.NewDispatcher(logger.Named("parser"))
	extractor := extract.NewExtractor(agentMgr, prompts, logger.Named("extract"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := intake.NewMetrics(reg)
	runner := intake.NewRunner(cfg.Intake.Workers, cfg.Intake.TaskTimeout(), logger.Named("runner"))

	deps := intake.Deps{
		Store:     st,
		Storage:   files,
		Parser:    dispatcher,
		Extractor: extractor,
		Populator: populate.New(st, logger.Named("populate")),
		Runner:    runner,
		Metrics:   metrics,
		Logger:    logger.Named("intake"),
	}
	if cfg.Geocode.Enabled {
		gc := geocode.NewClient(logger.Named("geocode"))
		if cfg.Geocode.BaseURL != "" {
			gc.BaseURL = cfg.Geocode.BaseURL
		}
		deps.Geocoder = gc
	}
	svc := intake.NewService(deps)

	reaper := intake.NewReaper(st, cfg.Intake.StuckAfter(), metrics, logger.Named("reaper"))
	if err := reaper.Start(cfg.Intake.ReaperSchedule); err != nil {
		return err
	}
	defer reaper.Stop()

	router := mux.NewRouter()
	router.Use(intakeAPI.RequestLogger(logger.Named("http")))

	h := &intakeAPI.Handler{
		Service:        svc,
		Storage:        files,
		Parser:         dispatcher,
		Analyzer:       excel.NewAnalyzer(logger.Named("excel")),
		Extractor:      extractor,
		Gatherer:       reg,
		WebhookToken:   cfg.Server.WebhookToken,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
		Logger:         logger.Named("api"),
	}
	h.Register(router)

	configHandler := configAPI.NewHandler(agentMgr)
	router.HandleFunc("/api/config", configHandler.HandleConfig).Methods(http.MethodGet)
	router.HandleFunc("/api/config/switch", configHandler.HandleSwitch).Methods(http.MethodPost)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           intakeAPI.CORS(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	// In-flight parse and extraction tasks finish before the store closes.
	runner.Wait()
	return nil
}

// openStore picks Postgres when a database URL is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, using in-memory store")
		return store.NewMemory(), nil
	}
	if err := store.InitDB(ctx, cfg.Database.URL); err != nil {
		return nil, err
	}
	pool := store.GetPool()
	if cfg.Database.Migrate {
		if err := store.Migrate(ctx, pool); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store.NewPostgres(pool), nil
}
