package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"tsingest/internal/cache"
	"tsingest/internal/config"
	"tsingest/internal/db"
	"tsingest/internal/domain"
	"tsingest/internal/logging"
	"tsingest/internal/pipeline"
	"tsingest/internal/repository"
	"tsingest/internal/snapshot"
	"tsingest/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	targetAll   = "all"
	usageHeader = "usage: ingest [flags] <all|market|onchain|macro|sentiment>"
)

type runner interface {
	Run(ctx context.Context) domain.RunReport
	RunDomain(ctx context.Context, id domain.ID) (domain.RunReport, error)
}

var (
	loadEnvFunc         = godotenv.Load
	initTracerFunc      = tracing.InitTracer
	connectPostgresFunc = db.Connect
	connectRedisFunc    = cache.NewClient
	newRunnerFunc       = func(cfg *config.Config, tracer trace.Tracer, logger *zap.Logger, writer snapshot.Writer, publisher pipeline.ReportPublisher) runner {
		return pipeline.FromConfig(cfg, tracer, logger, writer, publisher)
	}
)

func main() {
	_ = loadEnvFunc()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("ingest", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintln(stderr, usageHeader)
		flags.PrintDefaults()
	}
	configPath := flags.String("config", "", "path to a YAML config file")
	flags.String("data-dir", config.DefaultDataDir, "root directory for snapshot files")
	flags.Duration("timeout", config.DefaultRunTimeout, "deadline for the whole run")
	flags.Bool("require-all", false, "exit non-zero unless every domain is written")
	flags.Bool("parallel", false, "run domains concurrently")
	flags.String("log-level", config.DefaultLogLevel, "debug, info, warn or error")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	target, err := parseTarget(flags.Args())
	if err != nil {
		fmt.Fprintln(stderr, err)
		flags.Usage()
		return exitUsage
	}

	cfg, err := config.LoadWithFlags(*configPath, flags)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitUsage
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitUsage
	}
	defer logger.Sync()

	tp, tracer, err := initTracerFunc(ctx, tracing.ServiceName)
	if err != nil {
		logger.Error("failed to initialize tracer", zap.Error(err))
		return exitFailed
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("error shutting down tracer provider", zap.Error(err))
		}
	}()

	writer, publisher, cleanup, err := sinks(ctx, cfg, tracer, logger)
	if err != nil {
		logger.Error("failed to prepare snapshot sinks", zap.Error(err))
		return exitFailed
	}
	defer cleanup()

	if missing := cfg.Credentials.Missing(); len(missing) > 0 {
		logger.Info("running without credentials; keyed sources will fall back", zap.Strings("missing", missing))
	}

	r := newRunnerFunc(cfg, tracer, logger, writer, publisher)

	var report domain.RunReport
	if target == targetAll {
		report = r.Run(ctx)
	} else {
		report, err = r.RunDomain(ctx, domain.ID(target))
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitUsage
		}
	}

	printReport(stdout, report)
	return exitCode(report, cfg.RequireAll)
}

func parseTarget(args []string) (string, error) {
	switch len(args) {
	case 0:
		return targetAll, nil
	case 1:
		if strings.EqualFold(strings.TrimSpace(args[0]), targetAll) {
			return targetAll, nil
		}
		id, err := domain.ParseID(args[0])
		if err != nil {
			return "", err
		}
		return string(id), nil
	default:
		return "", fmt.Errorf("expected one target, got %d", len(args))
	}
}

// sinks builds the snapshot writer chain and optional report publisher. The
// parquet writer always comes first so its path is the reported location.
func sinks(ctx context.Context, cfg *config.Config, tracer trace.Tracer, logger *zap.Logger) (snapshot.Writer, pipeline.ReportPublisher, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	writers := snapshot.Multi{snapshot.NewParquetWriter(cfg.DataDir)}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err := connectPostgresFunc(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		repo := repository.NewSnapshotRepository(pool, tracer)
		if err := repo.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		writers = append(writers, repo)
	}

	var publisher pipeline.ReportPublisher
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := connectRedisFunc(ctx, cfg.RedisURL)
		if err != nil {
			// The report is informational; a missing cache does not block ingestion.
			logger.Warn("redis unavailable, run report will not be published", zap.Error(err))
		} else {
			closers = append(closers, func() { _ = client.Close() })
			publisher = cache.NewReportStore(client, 0)
		}
	}
	return writers, publisher, cleanup, nil
}

func printReport(w io.Writer, report domain.RunReport) {
	fmt.Fprintf(w, "run %s (%s)\n", report.RunID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, out := range report.Outcomes {
		if out.Succeeded() {
			fmt.Fprintf(tw, "%s\t%s\t%d rows\t%s\n", out.Domain, out.Summary(), out.Rows, out.Location)
		} else {
			fmt.Fprintf(tw, "%s\t%s\t\t\n", out.Domain, out.Summary())
		}
		for _, warning := range out.Warnings {
			fmt.Fprintf(tw, "\t  warning: %s\t\t\n", warning)
		}
	}
	_ = tw.Flush()
}

func exitCode(report domain.RunReport, requireAll bool) int {
	if requireAll {
		if report.AllSucceeded() {
			return exitOK
		}
		return exitFailed
	}
	if report.Succeeded() > 0 {
		return exitOK
	}
	return exitFailed
}
