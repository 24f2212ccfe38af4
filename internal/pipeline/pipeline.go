// Package pipeline runs the fetch, normalize and write stages for each
// ingestion domain and reports a per-domain outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tsingest/internal/domain"
	"tsingest/internal/fallback"
	"tsingest/internal/normalize"
	"tsingest/internal/snapshot"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Domain describes what one pipeline fetches and how the results combine.
type Domain struct {
	ID       domain.ID
	Artifact string
	Chains   []fallback.Chain
	Strategy normalize.Strategy
	Window   func(now time.Time) domain.Window
}

// ChainResolver resolves one fallback chain over a window.
type ChainResolver interface {
	Resolve(ctx context.Context, chain fallback.Chain, window domain.Window) (fallback.Result, error)
}

type Pipeline struct {
	domain   Domain
	resolver ChainResolver
	writer   snapshot.Writer
	tracer   trace.Tracer
	logger   *zap.Logger
	clock    func() time.Time
}

func NewPipeline(d Domain, resolver ChainResolver, writer snapshot.Writer, tracer trace.Tracer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		domain:   d,
		resolver: resolver,
		writer:   writer,
		tracer:   tracer,
		logger:   logger.With(zap.String("domain", string(d.ID))),
		clock:    time.Now,
	}
}

func (p *Pipeline) ID() domain.ID { return p.domain.ID }

// Run executes the domain once for the snapshot date of now. It never
// returns an error; failures are recorded on the outcome.
func (p *Pipeline) Run(ctx context.Context, now time.Time) domain.Outcome {
	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("domain", string(p.domain.ID)),
		attribute.Int("chains", len(p.domain.Chains)),
	)

	out := domain.NewOutcome(p.domain.ID, now)
	finish := func() domain.Outcome {
		out.FinishedAt = p.clock().UTC()
		span.SetAttributes(attribute.String("state", string(out.State)), attribute.Int("rows", out.Rows))
		if out.State == domain.StateFailed {
			span.SetStatus(codes.Error, string(out.Reason))
		}
		return *out
	}

	if err := ctx.Err(); err != nil {
		out.Fail(domain.ReasonTimedOut, err)
		return finish()
	}
	if err := out.Transition(domain.StateFetching); err != nil {
		out.Fail(domain.ReasonSourceError, err)
		return finish()
	}

	window := p.domain.Window(now)
	var (
		tables []domain.Table
		errs   []error
	)
	for _, chain := range p.domain.Chains {
		res, err := p.resolver.Resolve(ctx, chain, window)
		if err != nil {
			out.Fail(domain.ReasonTimedOut, err)
			return finish()
		}
		if res.Found {
			tables = append(tables, res.Table)
			out.Sources[chain.Metric] = res.Source
			continue
		}
		if chainErr := res.Errors(); chainErr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", chain.Metric, chainErr))
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: every source failed", chain.Metric))
		} else {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: no data", chain.Metric))
		}
		p.logger.Warn("no usable source", zap.String("metric", chain.Metric), zap.Int("attempts", len(res.Attempts)))
	}

	if len(tables) == 0 {
		if len(errs) > 0 {
			out.Fail(domain.ReasonSourceError, errors.Join(errs...))
		} else {
			out.Fail(domain.ReasonNoData, nil)
		}
		return finish()
	}

	if err := out.Transition(domain.StateNormalizing); err != nil {
		out.Fail(domain.ReasonMergeError, err)
		return finish()
	}
	merged, err := normalize.Merge(tables, p.domain.Strategy)
	if err != nil {
		out.Fail(domain.ReasonMergeError, err)
		return finish()
	}

	snap := domain.Snapshot{
		Domain:   p.domain.ID,
		Artifact: p.domain.Artifact,
		Date:     now.UTC(),
		Table:    merged,
	}
	location, err := p.writer.Persist(ctx, snap)
	var mirror *snapshot.MirrorError
	switch {
	case errors.As(err, &mirror):
		out.Warnings = append(out.Warnings, mirror.Error())
		p.logger.Warn("snapshot mirror failed", zap.String("location", location), zap.Error(mirror.Err))
	case err != nil:
		out.Fail(domain.ReasonWriteError, err)
		return finish()
	}

	if err := out.Transition(domain.StateWritten); err != nil {
		out.Fail(domain.ReasonWriteError, err)
		return finish()
	}
	out.Rows = merged.Len()
	out.Location = location
	return finish()
}
