// Package fallback tries an ordered chain of providers for one logical metric
// and keeps the first one that returns usable rows.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"tsingest/internal/domain"
	"tsingest/internal/provider"
	"tsingest/internal/retry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Candidate struct {
	Adapter provider.Adapter
	Params  provider.Params
}

func (c Candidate) Name() string {
	return c.Adapter.Descriptor().Name
}

// Chain is the priority-ordered list of providers that can serve Metric.
type Chain struct {
	Metric     string
	Candidates []Candidate
}

// NewChain orders candidates by descriptor priority. Ties keep their given order.
func NewChain(metric string, candidates ...Candidate) Chain {
	ordered := append([]Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Adapter.Descriptor().Priority < ordered[j].Adapter.Descriptor().Priority
	})
	return Chain{Metric: metric, Candidates: ordered}
}

// Attempt records what one candidate produced.
type Attempt struct {
	Source string
	Err    error
	Empty  bool
	Rows   int
}

// Result is the outcome of resolving a chain. Found is false when no
// candidate produced rows; that is not an error.
type Result struct {
	Metric   string
	Found    bool
	Table    domain.Table
	Source   string
	Attempts []Attempt
}

// Errors joins every candidate error, or returns nil when none failed.
func (r Result) Errors() error {
	var errs []error
	for _, a := range r.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errors.Join(errs...)
}

type Resolver struct {
	tracer trace.Tracer
	logger *zap.Logger
	policy retry.Policy
}

func NewResolver(tracer trace.Tracer, logger *zap.Logger, policy retry.Policy) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Resolver{tracer: tracer, logger: logger, policy: policy}
}

// Resolve walks the chain in order. The only error it returns is the
// cancellation of ctx, which stops the chain.
func (r *Resolver) Resolve(ctx context.Context, chain Chain, window domain.Window) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "fallback.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("metric", chain.Metric),
		attribute.Int("candidates", len(chain.Candidates)),
	)

	res := Result{Metric: chain.Metric}
	for _, c := range chain.Candidates {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return res, err
		}

		table, err := r.try(ctx, c, window)
		attempt := Attempt{Source: c.Name()}
		switch {
		case err != nil:
			// A candidate that failed because the run deadline hit is not a
			// provider failure; stop here.
			if ctxErr := ctx.Err(); ctxErr != nil {
				span.SetStatus(codes.Error, ctxErr.Error())
				return res, ctxErr
			}
			attempt.Err = err
			r.logger.Warn("candidate failed",
				zap.String("metric", chain.Metric),
				zap.String("source", attempt.Source),
				zap.Error(err),
			)
		case table.Empty():
			attempt.Empty = true
			r.logger.Info("candidate returned no rows",
				zap.String("metric", chain.Metric),
				zap.String("source", attempt.Source),
			)
		default:
			attempt.Rows = table.Len()
			res.Attempts = append(res.Attempts, attempt)
			res.Found = true
			res.Table = table
			res.Source = attempt.Source
			span.SetAttributes(attribute.String("source", res.Source), attribute.Int("rows", attempt.Rows))
			return res, nil
		}
		res.Attempts = append(res.Attempts, attempt)
	}

	span.SetAttributes(attribute.Bool("found", false))
	return res, nil
}

func (r *Resolver) try(ctx context.Context, c Candidate, window domain.Window) (domain.Table, error) {
	desc := c.Adapter.Descriptor()
	fetch := func(ctx context.Context) (domain.Table, error) {
		if desc.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, desc.Timeout)
			defer cancel()
		}
		table, err := c.Adapter.Fetch(ctx, window, c.Params)
		if err != nil {
			return domain.Table{}, asFetchError(desc.Name, err)
		}
		return table, nil
	}

	var (
		table domain.Table
		err   error
	)
	if desc.RateLimited {
		table, err = retry.Do(ctx, r.policy, fetch)
	} else {
		table, err = fetch(ctx)
	}
	if err != nil {
		return domain.Table{}, err
	}

	table = table.Clip(window)
	if err := table.Validate(); err != nil {
		return domain.Table{}, domain.NewFetchError(desc.Name, domain.ErrMalformedResponse, 0, err)
	}
	return table, nil
}

// asFetchError classifies errors that escaped an adapter unclassified. A
// per-candidate timeout counts as a transient network failure.
func asFetchError(source string, err error) error {
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewFetchError(source, domain.ErrNetworkUnavailable, 0, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.NewFetchError(source, domain.ErrMalformedResponse, 0, fmt.Errorf("unclassified: %w", err))
}

