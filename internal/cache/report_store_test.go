package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"tsingest/internal/domain"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	lists  map[string][]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}, lists: map[string][]string{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		f.lists[key] = append([]string{string(v.([]byte))}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	l := f.lists[key]
	if int(stop)+1 < len(l) {
		f.lists[key] = l[start : stop+1]
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) LRange(_ context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	l := f.lists[key]
	end := min(int(stop)+1, len(l))
	if int(start) >= end {
		return redis.NewStringSliceResult(nil, nil)
	}
	return redis.NewStringSliceResult(l[start:end], nil)
}

func report(id string, outcomes ...domain.Outcome) domain.RunReport {
	return domain.RunReport{
		RunID:     id,
		StartedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Outcomes:  outcomes,
	}
}

func TestReportStoreLatestBeforeAnyRun(t *testing.T) {
	store := NewReportStore(newFakeRedis(), 0)
	if _, err := store.LatestReport(context.Background()); !errors.Is(err, ErrNoReport) {
		t.Fatalf("expected ErrNoReport, got %v", err)
	}
	if _, err := store.LatestOutcome(context.Background(), domain.Macro); !errors.Is(err, ErrNoReport) {
		t.Fatalf("expected ErrNoReport, got %v", err)
	}
}

func TestReportStoreSaveAndLoad(t *testing.T) {
	rdb := newFakeRedis()
	store := NewReportStore(rdb, time.Hour)

	written := domain.Outcome{Domain: domain.Market, State: domain.StateWritten, Rows: 168}
	failed := domain.Outcome{Domain: domain.Macro, State: domain.StateFailed, Reason: domain.ReasonNoData}
	if err := store.SaveReport(context.Background(), report("run-1", written, failed)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.LatestReport(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RunID != "run-1" || got.Succeeded() != 1 || got.Failed() != 1 {
		t.Fatalf("unexpected report: %+v", got)
	}
	if rdb.ttls[latestReportKey] != time.Hour {
		t.Fatalf("expected ttl to be applied, got %v", rdb.ttls[latestReportKey])
	}

	outcome, err := store.LatestOutcome(context.Background(), domain.Macro)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Reason != domain.ReasonNoData {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestReportStoreHistoryIsNewestFirstAndCapped(t *testing.T) {
	store := NewReportStore(newFakeRedis(), 0)
	for i := 0; i < historySize+5; i++ {
		r := report(string(rune('A'+i%26)), domain.Outcome{Domain: domain.OnChain, State: domain.StateWritten})
		if err := store.SaveReport(context.Background(), r); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	all, err := store.History(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != historySize {
		t.Fatalf("expected %d reports, got %d", historySize, len(all))
	}

	recent, err := store.History(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := string(rune('A' + (historySize+4)%26))
	if len(recent) != 2 || recent[0].RunID != last {
		t.Fatalf("expected newest report %s first, got %+v", last, recent)
	}
}
