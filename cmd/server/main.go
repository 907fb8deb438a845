package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"geoaudit/internal/adapters/analyzer"
	"geoaudit/internal/adapters/brief"
	"geoaudit/internal/adapters/crawlagent"
	httpadapter "geoaudit/internal/adapters/http"
	"geoaudit/internal/adapters/memory"
	"geoaudit/internal/adapters/notify"
	"geoaudit/internal/adapters/payment"
	"geoaudit/internal/adapters/pdf"
	pg "geoaudit/internal/adapters/postgres"
	"geoaudit/internal/adapters/storage"
	"geoaudit/internal/config"
	"geoaudit/internal/logging"
	"geoaudit/internal/ports"
	"geoaudit/internal/services/audits"
	"geoaudit/internal/workers/jobrunner"
)

func main() {
	cfg, err := config.Load()
	log := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	orders, jobStore, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	files, err := storage.NewFileStore(storage.Options{
		BasePath:   cfg.StoragePath,
		PublicURL:  cfg.FilesURL(),
		SigningKey: cfg.StorageSigningKey,
	})
	if err != nil {
		return err
	}
	crawler, err := crawlagent.New(crawlagent.Options{BaseURL: cfg.CrawlAgentURL, APIKey: cfg.CrawlAgentAPIKey})
	if err != nil {
		return err
	}
	analysis, err := analyzer.New(analyzer.Options{BaseURL: cfg.AnalyzerURL, APIKey: cfg.AnalyzerAPIKey, Model: cfg.AnalyzerModel})
	if err != nil {
		return err
	}
	renderer, err := pdf.New(pdf.Options{BaseURL: cfg.RendererURL, APIKey: cfg.RendererAPIKey, Storage: files})
	if err != nil {
		return err
	}
	stripe, err := payment.NewStripe(payment.Options{SecretKey: cfg.StripeSecretKey, BaseURL: cfg.StripeBaseURL})
	if err != nil {
		return err
	}

	queue, err := jobrunner.NewQueue(jobStore, cfg.Queues)
	if err != nil {
		return err
	}

	svc := audits.New(audits.Deps{
		Orders:   orders,
		Jobs:     queue,
		Crawler:  crawler,
		Analyzer: analysis,
		Renderer: renderer,
		Payment:  stripe,
		Storage:  files,
		Notifier: notify.NewLogNotifier(log, files),
		Briefs:   brief.NewStoredAssembler(cfg.CrawlCallbackURL()),
	}, audits.Options{
		MaxCrawlRetries:  cfg.MaxCrawlRetries,
		MaxManualRetries: cfg.MaxManualRetries,
		Logger:           log,
	})

	runner, err := jobrunner.New(jobStore, cfg.Queues, jobrunner.Registry{
		ports.KindRunAudit:            jobrunner.Handle(svc.RunAudit),
		ports.KindCrawlComplete:       jobrunner.Handle(svc.HandleCrawlComplete),
		ports.KindAnalyzeObservations: jobrunner.Handle(svc.AnalyzeObservations),
		ports.KindGenerateReport:      jobrunner.Handle(svc.GenerateReportJob),
		ports.KindCheckTimeout:        jobrunner.Handle(svc.CheckTimeout),
	}, jobrunner.Options{
		PollInterval: cfg.JobPollInterval,
		Lease:        cfg.JobLease,
		OnExhausted:  svc.HandleJobExhausted,
		Logger:       log.With().Str("component", "jobrunner").Logger(),
	})
	if err != nil {
		return err
	}

	api := httpadapter.New(svc, queue, httpadapter.Options{
		CrawlWebhookToken:    cfg.CrawlWebhookToken,
		PaymentWebhookSecret: cfg.PaymentWebhookSecret,
		AdminToken:           cfg.AdminToken,
		ReportLinkTTL:        cfg.ReportLinkTTL,
		Logger:               log,
	})
	router := api.Routes()
	router.Mount("/files", http.StripPrefix("/files", files.Handler()))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runner.Run(workCtx)
	}()
	go func() {
		defer wg.Done()
		svc.RunSweeper(workCtx, cfg.SweepInterval)
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	stopWork()
	wg.Wait()
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// openStores picks Postgres when DATABASE_URL is set and in-memory stores
// otherwise.
func openStores(ctx context.Context, cfg config.Config, log zerolog.Logger) (ports.AuditOrderRepository, ports.JobStore, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory storage; data is lost on restart")
		return memory.NewOrderRepository(), memory.NewJobStore(nil), func() {}, nil
	}

	db, err := pg.Connect(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns), log.With().Str("component", "postgres").Logger())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return pg.NewOrderRepository(db), pg.NewJobStore(db), db.Close, nil
}
