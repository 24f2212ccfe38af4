package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tsingest/internal/domain"
	"tsingest/internal/normalize"

	"go.opentelemetry.io/otel/trace"
)

const fearGreedBaseURL = "https://api.alternative.me"

type FearGreedConfig struct {
	BaseURL  string
	Priority int
}

// FearGreedIndex reads the daily Crypto Fear & Greed index history.
type FearGreedIndex struct {
	httpSource
}

func NewFearGreedIndex(tracer trace.Tracer, cfg FearGreedConfig) *FearGreedIndex {
	if cfg.BaseURL == "" {
		cfg.BaseURL = fearGreedBaseURL
	}
	desc := domain.SourceDescriptor{
		Name:        "fear_greed",
		Priority:    cfg.Priority,
		FallbackFor: "fear_greed",
		RateLimited: true,
	}
	return &FearGreedIndex{httpSource: newHTTPSource(desc, tracer, cfg.BaseURL, PerMinute(30))}
}

func (p *FearGreedIndex) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "fetch-history", window)
	defer func() { endSpan(span, table.Len(), err) }()

	var payload struct {
		Data []struct {
			Value          string `json:"value"`
			Classification string `json:"value_classification"`
			Timestamp      string `json:"timestamp"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/fng/?limit=%d&format=json", p.baseURL, daysIn(window)+1)
	if err := p.getJSON(ctx, u, nil, &payload); err != nil {
		return domain.Table{}, err
	}

	raw := make([]normalize.Record, 0, len(payload.Data))
	for _, row := range payload.Data {
		value, err := strconv.Atoi(strings.TrimSpace(row.Value))
		if err != nil {
			continue
		}
		ts := strings.TrimSpace(row.Timestamp)
		raw = append(raw, normalize.Record{
			"timestamp": ts,
			"id":        ts,
			"text":      fmt.Sprintf("Fear & Greed: %d (%s)", value, strings.TrimSpace(row.Classification)),
		})
	}
	return p.normalize(raw, sentimentSchema(p.desc.Name, normalize.TimeField{Field: "timestamp", Format: normalize.EpochSeconds}))
}
