package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tsingest/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	latestReportKey = "ingest:report:latest"
	reportHistory   = "ingest:reports"
	historySize     = 50
	defaultTTL      = 7 * 24 * time.Hour
)

// ErrNoReport is returned when no run has been published yet.
var ErrNoReport = errors.New("no run report published")

type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// ReportStore keeps the latest run report per scope and a short history of
// full runs in Redis.
type ReportStore struct {
	client redisClient
	ttl    time.Duration
}

func NewReportStore(client redisClient, ttl time.Duration) *ReportStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ReportStore{client: client, ttl: ttl}
}

func domainKey(id domain.ID) string {
	return "ingest:report:" + string(id) + ":latest"
}

// SaveReport stores report as the latest run. Single-domain reports are also
// kept under their domain key.
func (s *ReportStore) SaveReport(ctx context.Context, report domain.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	for _, o := range report.Outcomes {
		od, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode outcome: %w", err)
		}
		if err := s.client.Set(ctx, domainKey(o.Domain), od, s.ttl).Err(); err != nil {
			return fmt.Errorf("store %s outcome: %w", o.Domain, err)
		}
	}

	if err := s.client.Set(ctx, latestReportKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store latest report: %w", err)
	}
	if err := s.client.LPush(ctx, reportHistory, data).Err(); err != nil {
		return fmt.Errorf("append report history: %w", err)
	}
	return s.client.LTrim(ctx, reportHistory, 0, historySize-1).Err()
}

func (s *ReportStore) LatestReport(ctx context.Context) (domain.RunReport, error) {
	var report domain.RunReport
	data, err := s.client.Get(ctx, latestReportKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return report, ErrNoReport
	}
	if err != nil {
		return report, err
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

// LatestOutcome returns the most recent outcome recorded for one domain.
func (s *ReportStore) LatestOutcome(ctx context.Context, id domain.ID) (domain.Outcome, error) {
	var outcome domain.Outcome
	data, err := s.client.Get(ctx, domainKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return outcome, ErrNoReport
	}
	if err != nil {
		return outcome, err
	}
	if err := json.Unmarshal(data, &outcome); err != nil {
		return outcome, fmt.Errorf("decode outcome: %w", err)
	}
	return outcome, nil
}

// History returns up to limit recent reports, newest first.
func (s *ReportStore) History(ctx context.Context, limit int) ([]domain.RunReport, error) {
	if limit <= 0 || limit > historySize {
		limit = historySize
	}
	raw, err := s.client.LRange(ctx, reportHistory, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	reports := make([]domain.RunReport, 0, len(raw))
	for _, item := range raw {
		var r domain.RunReport
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode report history: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}
