package job

import (
	"context"
	"time"

	"tsingest/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type IngestRunner interface {
	Run(ctx context.Context) domain.RunReport
}

// IngestJob triggers a full ingestion run on a fixed interval.
type IngestJob struct {
	tracer   trace.Tracer
	logger   *zap.Logger
	runner   IngestRunner
	interval time.Duration
}

func NewIngestJob(tracer trace.Tracer, logger *zap.Logger, runner IngestRunner, interval time.Duration) *IngestJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestJob{tracer: tracer, logger: logger, runner: runner, interval: interval}
}

// Start runs once immediately and then on every tick until ctx is done.
func (j *IngestJob) Start(ctx context.Context) {
	if j.runner == nil {
		j.logger.Info("ingest job disabled: no runner")
		<-ctx.Done()
		return
	}

	j.runOnce(ctx)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *IngestJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "ingest-job.run-once")
	defer span.End()

	report := j.runner.Run(ctx)
	span.SetAttributes(
		attribute.String("run_id", report.RunID),
		attribute.Int("written", report.Succeeded()),
		attribute.Int("failed", report.Failed()),
	)
	j.logger.Info("scheduled ingest complete",
		zap.String("run_id", report.RunID),
		zap.Int("written", report.Succeeded()),
		zap.Int("failed", report.Failed()),
		zap.Duration("next_in", j.interval),
	)
}
