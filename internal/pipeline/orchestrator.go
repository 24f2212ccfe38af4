package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tsingest/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DomainRunner is one domain's pipeline.
type DomainRunner interface {
	ID() domain.ID
	Run(ctx context.Context, now time.Time) domain.Outcome
}

// ReportPublisher stores finished run reports.
type ReportPublisher interface {
	SaveReport(ctx context.Context, report domain.RunReport) error
}

// Publishers fans a report out to several publishers. Every publisher is
// tried; the failures are joined.
type Publishers []ReportPublisher

func (p Publishers) SaveReport(ctx context.Context, report domain.RunReport) error {
	var errs []error
	for _, pub := range p {
		if err := pub.SaveReport(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Options struct {
	Parallel   bool
	RunTimeout time.Duration
	Publisher  ReportPublisher
	Tracer     trace.Tracer
	Logger     *zap.Logger
}

// Orchestrator runs domain pipelines and assembles the run report. Runs
// are serialized: a second caller waits for the first to finish.
type Orchestrator struct {
	runners   []DomainRunner
	parallel  bool
	timeout   time.Duration
	publisher ReportPublisher
	tracer    trace.Tracer
	logger    *zap.Logger
	clock     func() time.Time
	newRunID  func() string

	mu sync.Mutex
}

func NewOrchestrator(runners []DomainRunner, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		runners:   runners,
		parallel:  opts.Parallel,
		timeout:   opts.RunTimeout,
		publisher: opts.Publisher,
		tracer:    opts.Tracer,
		logger:    logger,
		clock:     time.Now,
		newRunID:  func() string { return uuid.NewString() },
	}
}

// Domains lists the configured domains in run order.
func (o *Orchestrator) Domains() []domain.ID {
	ids := make([]domain.ID, 0, len(o.runners))
	for _, r := range o.runners {
		ids = append(ids, r.ID())
	}
	return ids
}

// Run executes every configured domain once.
func (o *Orchestrator) Run(ctx context.Context) domain.RunReport {
	return o.run(ctx, o.runners)
}

// RunDomain executes a single domain.
func (o *Orchestrator) RunDomain(ctx context.Context, id domain.ID) (domain.RunReport, error) {
	for _, r := range o.runners {
		if r.ID() == id {
			return o.run(ctx, []DomainRunner{r}), nil
		}
	}
	return domain.RunReport{}, fmt.Errorf("domain %q is not configured", id)
}

func (o *Orchestrator) run(ctx context.Context, runners []DomainRunner) domain.RunReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := domain.RunReport{RunID: o.newRunID(), StartedAt: o.clock().UTC()}
	ctx, span := o.tracer.Start(ctx, "orchestrator.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", report.RunID),
		attribute.Int("domains", len(runners)),
		attribute.Bool("parallel", o.parallel),
	)

	runCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	logger := o.logger.With(zap.String("run_id", report.RunID))
	logger.Info("run started", zap.Int("domains", len(runners)), zap.Bool("parallel", o.parallel))

	now := report.StartedAt
	outcomes := make([]domain.Outcome, len(runners))
	runOne := func(i int) {
		r := runners[i]
		if err := runCtx.Err(); err != nil {
			skipped := domain.NewOutcome(r.ID(), now)
			skipped.Fail(domain.ReasonTimedOut, err)
			skipped.FinishedAt = o.clock().UTC()
			outcomes[i] = *skipped
			return
		}
		outcomes[i] = r.Run(runCtx, now)
	}

	if o.parallel {
		var g errgroup.Group
		for i := range runners {
			g.Go(func() error {
				runOne(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range runners {
			runOne(i)
		}
	}

	report.Outcomes = outcomes
	report.FinishedAt = o.clock().UTC()
	for _, out := range outcomes {
		fields := []zap.Field{
			zap.String("domain", string(out.Domain)),
			zap.String("state", string(out.State)),
			zap.Int("rows", out.Rows),
		}
		if out.Succeeded() {
			logger.Info("domain written", append(fields, zap.String("location", out.Location))...)
			continue
		}
		logger.Warn("domain failed", append(fields, zap.String("reason", string(out.Reason)), zap.String("error", out.Error))...)
	}
	logger.Info("run finished",
		zap.Int("written", report.Succeeded()),
		zap.Int("failed", report.Failed()),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	span.SetAttributes(attribute.Int("written", report.Succeeded()), attribute.Int("failed", report.Failed()))

	if o.publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.publisher.SaveReport(pubCtx, report); err != nil {
			logger.Warn("failed to publish run report", zap.Error(err))
		}
	}
	return report
}
