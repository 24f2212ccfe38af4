package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tsingest/internal/config"
	"tsingest/internal/domain"
	"tsingest/internal/pipeline"
	"tsingest/internal/snapshot"

	"github.com/jackc/pgx/v5/pgxpool"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var testStart = time.Date(2026, 2, 8, 6, 0, 0, 0, time.UTC)

type fakeRunner struct {
	states    map[domain.ID]domain.State
	ran       []domain.ID
	cfg       *config.Config
	publisher pipeline.ReportPublisher
}

func (f *fakeRunner) outcome(id domain.ID) domain.Outcome {
	f.ran = append(f.ran, id)
	out := domain.NewOutcome(id, testStart)
	_ = out.Transition(domain.StateFetching)
	if f.states[id] != domain.StateWritten {
		out.Fail(domain.ReasonNoData, nil)
		return *out
	}
	_ = out.Transition(domain.StateNormalizing)
	_ = out.Transition(domain.StateWritten)
	out.Rows = 24
	out.Location = "data/raw/" + string(id) + ".parquet"
	return *out
}

func (f *fakeRunner) Run(context.Context) domain.RunReport {
	report := domain.RunReport{RunID: "run-1", StartedAt: testStart, FinishedAt: testStart.Add(time.Second)}
	for _, id := range domain.AllDomains {
		report.Outcomes = append(report.Outcomes, f.outcome(id))
	}
	return report
}

func (f *fakeRunner) RunDomain(_ context.Context, id domain.ID) (domain.RunReport, error) {
	return domain.RunReport{RunID: "run-1", StartedAt: testStart, FinishedAt: testStart, Outcomes: []domain.Outcome{f.outcome(id)}}, nil
}

func stubIngestDeps(t *testing.T, fake *fakeRunner) {
	t.Helper()
	t.Setenv("INGEST_DATABASE_URL", "")
	t.Setenv("INGEST_REDIS_URL", "")

	origTracer, origRunner, origPostgres := initTracerFunc, newRunnerFunc, connectPostgresFunc
	t.Cleanup(func() {
		initTracerFunc, newRunnerFunc, connectPostgresFunc = origTracer, origRunner, origPostgres
	})

	initTracerFunc = func(context.Context, string) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	newRunnerFunc = func(cfg *config.Config, _ trace.Tracer, _ *zap.Logger, _ snapshot.Writer, publisher pipeline.ReportPublisher) runner {
		fake.cfg = cfg
		fake.publisher = publisher
		return fake
	}
}

func runIngest(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--data-dir", t.TempDir(), "--log-level", "error"}, args...)
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunAllDomainsExitCodes(t *testing.T) {
	written := domain.StateWritten
	tests := map[string]struct {
		states map[domain.ID]domain.State
		args   []string
		want   int
	}{
		"all written": {
			states: map[domain.ID]domain.State{domain.Market: written, domain.OnChain: written, domain.Macro: written, domain.Sentiment: written},
			want:   exitOK,
		},
		"partial success": {
			states: map[domain.ID]domain.State{domain.Market: written},
			want:   exitOK,
		},
		"nothing written": {
			states: map[domain.ID]domain.State{},
			want:   exitFailed,
		},
		"partial success with require-all": {
			states: map[domain.ID]domain.State{domain.Market: written},
			args:   []string{"--require-all"},
			want:   exitFailed,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fake := &fakeRunner{states: tc.states}
			stubIngestDeps(t, fake)

			code, stdout, _ := runIngest(t, append(tc.args, "all")...)
			if code != tc.want {
				t.Fatalf("expected exit %d, got %d\n%s", tc.want, code, stdout)
			}
			if len(fake.ran) != len(domain.AllDomains) {
				t.Fatalf("expected every domain to run, got %v", fake.ran)
			}
			if !strings.Contains(stdout, "run run-1") {
				t.Fatalf("expected report header, got %q", stdout)
			}
		})
	}
}

func TestRunPrintsPerDomainReport(t *testing.T) {
	fake := &fakeRunner{states: map[domain.ID]domain.State{domain.Market: domain.StateWritten}}
	stubIngestDeps(t, fake)

	code, stdout, _ := runIngest(t)
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 1+len(domain.AllDomains) {
		t.Fatalf("expected header plus one line per domain, got %q", stdout)
	}
	if !strings.Contains(lines[1], "market") || !strings.Contains(lines[1], "WRITTEN") || !strings.Contains(lines[1], "24 rows") {
		t.Fatalf("unexpected market line %q", lines[1])
	}
	if !strings.Contains(lines[2], "onchain") || !strings.Contains(lines[2], "FAILED: no_data") {
		t.Fatalf("unexpected onchain line %q", lines[2])
	}
}

func TestRunSingleDomain(t *testing.T) {
	fake := &fakeRunner{states: map[domain.ID]domain.State{domain.Macro: domain.StateWritten}}
	stubIngestDeps(t, fake)

	code, _, _ := runIngest(t, "--parallel", "MACRO")
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if len(fake.ran) != 1 || fake.ran[0] != domain.Macro {
		t.Fatalf("expected only macro to run, got %v", fake.ran)
	}
	if !fake.cfg.Parallel {
		t.Fatalf("--parallel flag was not applied")
	}
	if fake.publisher != nil {
		t.Fatalf("no publisher expected without redis")
	}
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	fake := &fakeRunner{states: map[domain.ID]domain.State{}}
	stubIngestDeps(t, fake)
	t.Setenv("INGEST_RUN_TIMEOUT", "10m")

	runIngest(t, "--timeout", "90s", "market")
	if fake.cfg.RunTimeout != 90*time.Second {
		t.Fatalf("expected flag timeout, got %s", fake.cfg.RunTimeout)
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := map[string][]string{
		"unknown domain":   {"weather"},
		"too many targets": {"market", "macro"},
		"unknown flag":     {"--bogus"},
		"invalid timeout":  {"--timeout", "0s"},
		"missing config":   {"--config", "/does/not/exist.yaml"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			fake := &fakeRunner{}
			stubIngestDeps(t, fake)

			if code, _, _ := runIngest(t, args...); code != exitUsage {
				t.Fatalf("expected exit %d, got %d", exitUsage, code)
			}
			if len(fake.ran) != 0 {
				t.Fatalf("nothing should run on usage errors")
			}
		})
	}
}

func TestRunFailsWhenPostgresUnavailable(t *testing.T) {
	fake := &fakeRunner{}
	stubIngestDeps(t, fake)
	t.Setenv("INGEST_DATABASE_URL", "postgres://localhost:5432/ingest")
	connectPostgresFunc = func(context.Context, string) (*pgxpool.Pool, error) {
		return nil, errors.New("connection refused")
	}

	if code, _, _ := runIngest(t, "market"); code != exitFailed {
		t.Fatalf("expected exit %d, got %d", exitFailed, code)
	}
	if len(fake.ran) != 0 {
		t.Fatalf("nothing should run without the database")
	}
}

func TestParseTarget(t *testing.T) {
	tests := map[string]struct {
		args []string
		want string
	}{
		"default":   {nil, targetAll},
		"all":       {[]string{"ALL"}, targetAll},
		"domain":    {[]string{"onchain"}, string(domain.OnChain)},
		"uppercase": {[]string{"Sentiment"}, string(domain.Sentiment)},
	}
	for name, tc := range tests {
		got, err := parseTarget(tc.args)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %q, got %q", name, tc.want, got)
		}
	}
}
