package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"tsingest/internal/domain"
	"tsingest/internal/fallback"
	"tsingest/internal/normalize"
	"tsingest/internal/provider"
	"tsingest/internal/retry"
	"tsingest/internal/snapshot"

	"go.opentelemetry.io/otel/trace"
)

var testNow = time.Date(2026, 2, 8, 6, 0, 0, 0, time.UTC)

func noopTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

type sleepRecorder struct {
	mu    sync.Mutex
	total time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += d
	return nil
}

func newTestResolver(rec *sleepRecorder) *fallback.Resolver {
	policy := retry.DefaultPolicy()
	policy.Sleep = rec.sleep
	return fallback.NewResolver(noopTracer(), nil, policy)
}

func valueTable(column string, start time.Time, n int, base float64) domain.Table {
	t := domain.Table{Columns: []domain.Column{{Name: column, Kind: domain.KindNumber}}}
	for i := 0; i < n; i++ {
		t.Rows = append(t.Rows, domain.TimePoint{
			Timestamp: start.AddDate(0, 0, i),
			Fields:    map[string]any{column: base + float64(i)},
		})
	}
	return t
}

func source(name string, priority int, fn func() (domain.Table, error)) fallback.Candidate {
	return fallback.Candidate{Adapter: provider.FuncAdapter{
		Desc: domain.SourceDescriptor{Name: name, Priority: priority, RateLimited: true},
		Fn: func(context.Context, domain.Window, provider.Params) (domain.Table, error) {
			return fn()
		},
	}}
}

func unauthorized(name string) func() (domain.Table, error) {
	return func() (domain.Table, error) {
		return domain.Table{}, domain.NewFetchError(name, domain.ErrUnauthorized, 401, errors.New("invalid key"))
	}
}

func empty() (domain.Table, error) { return domain.Table{}, nil }

type memoryWriter struct {
	snaps []domain.Snapshot
	err   error
}

func (w *memoryWriter) Persist(_ context.Context, snap domain.Snapshot) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	w.snaps = append(w.snaps, snap)
	return "mem://" + snap.Artifact, nil
}

func onChainDomain(chains ...fallback.Chain) Domain {
	return Domain{
		ID:       domain.OnChain,
		Artifact: "btc_active_addresses",
		Chains:   chains,
		Strategy: normalize.OuterJoin,
		Window:   func(now time.Time) domain.Window { return domain.LastDays(now, 30) },
	}
}

func assertTransitions(t *testing.T, out domain.Outcome, want ...domain.State) {
	t.Helper()
	if len(out.Transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, out.Transitions)
	}
	for i := range want {
		if out.Transitions[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, out.Transitions)
		}
	}
}

func TestPipelineFallsBackAndWritesParquet(t *testing.T) {
	rec := &sleepRecorder{}
	root := t.TempDir()
	rows := valueTable("value", time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC), 10, 900000)

	chain := fallback.NewChain("btc_active_addresses",
		source("glassnode", 0, unauthorized("glassnode")),
		source("blockchain", 2, func() (domain.Table, error) { return rows, nil }),
	)
	p := NewPipeline(onChainDomain(chain), newTestResolver(rec), snapshot.NewParquetWriter(root), noopTracer(), nil)

	out := p.Run(context.Background(), testNow)
	if out.State != domain.StateWritten {
		t.Fatalf("expected WRITTEN, got %s", out.Summary())
	}
	if out.Rows != 10 {
		t.Fatalf("expected 10 rows, got %d", out.Rows)
	}
	if out.Sources["btc_active_addresses"] != "blockchain" {
		t.Fatalf("expected blockchain source, got %v", out.Sources)
	}
	if rec.total != 0 {
		t.Fatalf("expected no retry delay, got %s", rec.total)
	}
	assertTransitions(t, out, domain.StatePending, domain.StateFetching, domain.StateNormalizing, domain.StateWritten)

	if !strings.HasSuffix(out.Location, "onchain/btc_active_addresses_2026-02-08.parquet") {
		t.Fatalf("unexpected location %s", out.Location)
	}
	if _, err := os.Stat(out.Location); err != nil {
		t.Fatalf("expected snapshot file: %v", err)
	}
}

func TestPipelineNoData(t *testing.T) {
	chain := fallback.NewChain("btc_active_addresses", source("a", 0, empty), source("b", 1, empty))
	writer := &memoryWriter{}
	p := NewPipeline(onChainDomain(chain), newTestResolver(&sleepRecorder{}), writer, noopTracer(), nil)

	out := p.Run(context.Background(), testNow)
	if out.State != domain.StateFailed || out.Reason != domain.ReasonNoData {
		t.Fatalf("expected FAILED: no_data, got %s", out.Summary())
	}
	assertTransitions(t, out, domain.StatePending, domain.StateFetching, domain.StateFailed)
	if len(writer.snaps) != 0 {
		t.Fatalf("nothing should be written")
	}
}

func TestPipelineSourceError(t *testing.T) {
	chain := fallback.NewChain("btc_active_addresses",
		source("glassnode", 0, unauthorized("glassnode")),
		source("blockchain", 1, empty),
	)
	p := NewPipeline(onChainDomain(chain), newTestResolver(&sleepRecorder{}), &memoryWriter{}, noopTracer(), nil)

	out := p.Run(context.Background(), testNow)
	if out.Reason != domain.ReasonSourceError {
		t.Fatalf("expected source_error, got %s", out.Summary())
	}
	if !strings.Contains(out.Error, "glassnode") {
		t.Fatalf("expected joined source error, got %q", out.Error)
	}
}

func TestPipelineKeepsPartialResultsWithWarning(t *testing.T) {
	start := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	d := Domain{
		ID:       domain.Macro,
		Artifact: "macro",
		Chains: []fallback.Chain{
			fallback.NewChain("dxy", source("fred", 0, unauthorized("fred"))),
			fallback.NewChain("sp500", source("yahoo", 0, func() (domain.Table, error) {
				return valueTable("sp500_close", start, 5, 5000), nil
			})),
		},
		Strategy: normalize.OuterJoin,
		Window:   func(now time.Time) domain.Window { return domain.LastDays(now, 365) },
	}
	writer := &memoryWriter{}
	out := NewPipeline(d, newTestResolver(&sleepRecorder{}), writer, noopTracer(), nil).Run(context.Background(), testNow)

	if out.State != domain.StateWritten || out.Rows != 5 {
		t.Fatalf("expected WRITTEN with 5 rows, got %s rows=%d", out.Summary(), out.Rows)
	}
	if len(out.Warnings) != 1 || !strings.HasPrefix(out.Warnings[0], "dxy") {
		t.Fatalf("expected dxy warning, got %v", out.Warnings)
	}
	if len(writer.snaps) != 1 || writer.snaps[0].DateKey() != "2026-02-08" {
		t.Fatalf("unexpected snapshots: %+v", writer.snaps)
	}
}

func TestPipelineMergeConflict(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	d := onChainDomain(
		fallback.NewChain("a", source("a", 0, func() (domain.Table, error) { return valueTable("value", start, 2, 1), nil })),
		fallback.NewChain("b", source("b", 0, func() (domain.Table, error) { return valueTable("value", start, 2, 7), nil })),
	)
	out := NewPipeline(d, newTestResolver(&sleepRecorder{}), &memoryWriter{}, noopTracer(), nil).Run(context.Background(), testNow)

	if out.Reason != domain.ReasonMergeError {
		t.Fatalf("expected merge_error, got %s", out.Summary())
	}
	assertTransitions(t, out, domain.StatePending, domain.StateFetching, domain.StateNormalizing, domain.StateFailed)
}

func TestPipelineWriteError(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	chain := fallback.NewChain("btc_active_addresses", source("a", 0, func() (domain.Table, error) {
		return valueTable("value", start, 3, 1), nil
	}))
	writer := &memoryWriter{err: errors.New("disk full")}
	out := NewPipeline(onChainDomain(chain), newTestResolver(&sleepRecorder{}), writer, noopTracer(), nil).Run(context.Background(), testNow)

	if out.Reason != domain.ReasonWriteError || !strings.Contains(out.Error, "disk full") {
		t.Fatalf("expected write_error, got %s", out.Summary())
	}
	if out.Rows != 0 || out.Location != "" {
		t.Fatalf("failed write should not report rows or location: %+v", out)
	}
}

func TestPipelineMirrorFailureKeepsSnapshot(t *testing.T) {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	chain := fallback.NewChain("btc_active_addresses", source("a", 0, func() (domain.Table, error) {
		return valueTable("value", start, 3, 1), nil
	}))
	primary := &memoryWriter{}
	writer := snapshot.Multi{primary, &memoryWriter{err: errors.New("postgres down")}}
	out := NewPipeline(onChainDomain(chain), newTestResolver(&sleepRecorder{}), writer, noopTracer(), nil).Run(context.Background(), testNow)

	if out.State != domain.StateWritten || out.Location != "mem://btc_active_addresses" || out.Rows != 3 {
		t.Fatalf("expected WRITTEN at the primary location, got %s %+v", out.Summary(), out)
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "postgres down") {
		t.Fatalf("expected mirror warning, got %v", out.Warnings)
	}
	if len(primary.snaps) != 1 {
		t.Fatalf("primary should hold the snapshot")
	}
}

func TestPipelineCanceledContextTimesOut(t *testing.T) {
	chain := fallback.NewChain("btc_active_addresses", source("a", 0, empty))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewPipeline(onChainDomain(chain), newTestResolver(&sleepRecorder{}), &memoryWriter{}, noopTracer(), nil).Run(ctx, testNow)
	if out.Reason != domain.ReasonTimedOut {
		t.Fatalf("expected timed_out, got %s", out.Summary())
	}
	assertTransitions(t, out, domain.StatePending, domain.StateFailed)
}

func TestPipelineDeadlineDuringFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chain := fallback.NewChain("btc_active_addresses",
		source("a", 0, func() (domain.Table, error) {
			cancel()
			return domain.Table{}, domain.NewFetchError("a", domain.ErrNetworkUnavailable, 0, context.Canceled)
		}),
		source("b", 1, empty),
	)
	out := NewPipeline(onChainDomain(chain), newTestResolver(&sleepRecorder{}), &memoryWriter{}, noopTracer(), nil).Run(ctx, testNow)
	if out.Reason != domain.ReasonTimedOut {
		t.Fatalf("expected timed_out, got %s", out.Summary())
	}
	assertTransitions(t, out, domain.StatePending, domain.StateFetching, domain.StateFailed)
}
