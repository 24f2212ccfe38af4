package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tsingest/internal/bot"
	"tsingest/internal/cache"
	"tsingest/internal/config"
	"tsingest/internal/db"
	"tsingest/internal/handler"
	"tsingest/internal/job"
	"tsingest/internal/logging"
	"tsingest/internal/pipeline"
	"tsingest/internal/repository"
	"tsingest/internal/snapshot"
	"tsingest/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	_ "tsingest/docs"
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	newLoggerFunc          = logging.New
	initTracerFunc         = tracing.InitTracer
	connectPostgresFunc    = db.Connect
	connectRedisFunc       = cache.NewClient
	startJobFunc           = func(j *job.IngestJob, ctx context.Context) { go j.Start(ctx) }
	newTelegramBotFunc     = bot.NewTelegramBot
	startTelegramFunc      = func(b *tele.Bot) (stop func()) { go b.Start(); return b.Stop }
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           tsingest API
// @version         1.0
// @description     Time-series ingestion runs and snapshots.

// @host      localhost:8080
// @BasePath  /
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = loadEnvFunc()

	cfg, err := loadConfigFunc(os.Getenv("INGEST_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLoggerFunc(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx, tracing.ServiceName)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("error shutting down tracer provider", zap.Error(err))
		}
	}()

	writers := snapshot.Multi{snapshot.NewParquetWriter(cfg.DataDir)}

	var snapshots handler.SnapshotLister
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err := connectPostgresFunc(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		repo := repository.NewSnapshotRepository(pool, tracer)
		if err := repo.RunMigrations(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		writers = append(writers, repo)
		snapshots = repo
	}

	var (
		publishers pipeline.Publishers
		reports    handler.ReportReader
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := connectRedisFunc(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		store := cache.NewReportStore(client, 0)
		publishers = append(publishers, store)
		reports = store
	}

	var tgBot *tele.Bot
	if token := strings.TrimSpace(cfg.Telegram.Token); token != "" {
		tgBot, err = newTelegramBotFunc(token)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		if cfg.Telegram.ChatID != 0 {
			publishers = append(publishers, bot.NewNotifier(tgBot, cfg.Telegram.ChatID))
		}
	}

	var publisher pipeline.ReportPublisher
	if len(publishers) > 0 {
		publisher = publishers
	}

	if missing := cfg.Credentials.Missing(); len(missing) > 0 {
		logger.Info("running without credentials; keyed sources will fall back", zap.Strings("missing", missing))
	}

	orch := pipeline.FromConfig(cfg, tracer, logger, writers, publisher)

	if tgBot != nil {
		bot.NewCommands(orch, reports, logger).Register(tgBot)
		stop := startTelegramFunc(tgBot)
		defer stop()
		logger.Info("telegram bot started", zap.Bool("notifications", cfg.Telegram.ChatID != 0))
	}

	if cfg.ScheduleInterval > 0 {
		startJobFunc(job.NewIngestJob(tracer, logger, orch, cfg.ScheduleInterval), ctx)
	}

	h := handler.New(tracer, orch, reports, snapshots)

	r := newRouterFunc()
	r.Use(otelgin.Middleware(tracing.ServiceName))
	h.RegisterRoutes(r, cfg.APIKey)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	logger.Info("server started", zap.String("addr", cfg.HTTPAddr), zap.Strings("domains", domainNames(orch)))

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)

	waitDone := make(chan struct{})
	go func() {
		waitForSignalFunc(quit)
		close(waitDone)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	case <-waitDone:
	}
	logger.Info("shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exiting")
	return nil
}

func domainNames(o *pipeline.Orchestrator) []string {
	ids := o.Domains()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
