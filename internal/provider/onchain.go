package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tsingest/internal/domain"
	"tsingest/internal/normalize"

	"go.opentelemetry.io/otel/trace"
)

const (
	glassnodeBaseURL  = "https://api.glassnode.com"
	duneBaseURL       = "https://api.dune.com"
	blockchainBaseURL = "https://api.blockchain.info"

	activeAddressesMetric = "btc_active_addresses"
)

func onChainValueSchema(tsField string, format normalize.TimeFormat, valueField string) normalize.SchemaMap {
	return normalize.SchemaMap{
		Timestamp: normalize.TimeField{Field: tsField, Format: format},
		Fields:    []normalize.FieldMap{{From: valueField, To: "value", Kind: domain.KindNumber}},
	}
}

type GlassnodeConfig struct {
	APIKey   string
	BaseURL  string
	Asset    string
	Metric   string
	Priority int
}

// Glassnode fetches a daily on-chain metric series returned as [{t, v}].
type Glassnode struct {
	httpSource
	cfg GlassnodeConfig
}

func NewGlassnode(tracer trace.Tracer, cfg GlassnodeConfig) *Glassnode {
	if cfg.BaseURL == "" {
		cfg.BaseURL = glassnodeBaseURL
	}
	if cfg.Asset == "" {
		cfg.Asset = "BTC"
	}
	if cfg.Metric == "" {
		cfg.Metric = "addresses/active_count"
	}
	desc := domain.SourceDescriptor{
		Name:        "glassnode",
		Priority:    cfg.Priority,
		FallbackFor: activeAddressesMetric,
		RateLimited: true,
	}
	return &Glassnode{
		httpSource: newHTTPSource(desc, tracer, cfg.BaseURL, PerMinute(10)),
		cfg:        cfg,
	}
}

func (p *Glassnode) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "fetch-metric", window)
	defer func() { endSpan(span, table.Len(), err) }()

	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return domain.Table{}, missingCredential(p.desc.Name, "GLASSNODE_API_KEY")
	}

	q := url.Values{}
	q.Set("a", params.Get("asset", p.cfg.Asset))
	q.Set("i", "24h")
	q.Set("s", strconv.FormatInt(window.Start.Unix(), 10))
	q.Set("u", strconv.FormatInt(window.End.Unix(), 10))
	q.Set("api_key", p.cfg.APIKey)

	var rows []normalize.Record
	u := fmt.Sprintf("%s/v1/metrics/%s?%s", p.baseURL, strings.Trim(p.cfg.Metric, "/"), q.Encode())
	if err := p.getJSON(ctx, u, nil, &rows); err != nil {
		return domain.Table{}, err
	}
	return p.normalize(rows, onChainValueSchema("t", normalize.EpochSeconds, "v"))
}

type DuneConfig struct {
	APIKey      string
	BaseURL     string
	QueryID     int
	TimeColumn  string
	ValueColumn string
	Limit       int
	Priority    int
}

// Dune reads the latest stored results of a saved Dune query.
type Dune struct {
	httpSource
	cfg DuneConfig
}

func NewDune(tracer trace.Tracer, cfg DuneConfig) *Dune {
	if cfg.BaseURL == "" {
		cfg.BaseURL = duneBaseURL
	}
	if cfg.TimeColumn == "" {
		cfg.TimeColumn = "day"
	}
	if cfg.ValueColumn == "" {
		cfg.ValueColumn = "active_addresses"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 1000
	}
	desc := domain.SourceDescriptor{
		Name:        "dune",
		Priority:    cfg.Priority,
		FallbackFor: activeAddressesMetric,
		RateLimited: true,
	}
	return &Dune{
		httpSource: newHTTPSource(desc, tracer, cfg.BaseURL, PerMinute(20)),
		cfg:        cfg,
	}
}

func (p *Dune) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "fetch-query-results", window)
	defer func() { endSpan(span, table.Len(), err) }()

	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return domain.Table{}, missingCredential(p.desc.Name, "DUNE_API_KEY")
	}
	if p.cfg.QueryID <= 0 {
		return domain.Table{}, domain.NewFetchError(p.desc.Name, domain.ErrMalformedResponse, 0,
			fmt.Errorf("dune query id is not configured"))
	}

	header := http.Header{}
	header.Set("X-Dune-API-Key", p.cfg.APIKey)

	var payload struct {
		State  string `json:"state"`
		Result struct {
			Rows []normalize.Record `json:"rows"`
		} `json:"result"`
	}
	u := fmt.Sprintf("%s/api/v1/query/%d/results?limit=%d", p.baseURL, p.cfg.QueryID, p.cfg.Limit)
	if err := p.getJSON(ctx, u, header, &payload); err != nil {
		return domain.Table{}, err
	}
	if strings.HasSuffix(payload.State, "FAILED") {
		return domain.Table{}, domain.NewFetchError(p.desc.Name, domain.ErrMalformedResponse, http.StatusOK,
			fmt.Errorf("query execution state %s", payload.State))
	}

	return p.normalize(payload.Result.Rows, onChainValueSchema(p.cfg.TimeColumn, normalize.Auto, p.cfg.ValueColumn))
}

type BlockchainChartsConfig struct {
	BaseURL  string
	Chart    string
	Priority int
}

// BlockchainCharts reads a public blockchain.com chart returned as {values: [{x, y}]}.
type BlockchainCharts struct {
	httpSource
	cfg BlockchainChartsConfig
}

func NewBlockchainCharts(tracer trace.Tracer, cfg BlockchainChartsConfig) *BlockchainCharts {
	if cfg.BaseURL == "" {
		cfg.BaseURL = blockchainBaseURL
	}
	if cfg.Chart == "" {
		cfg.Chart = "n-unique-addresses"
	}
	desc := domain.SourceDescriptor{
		Name:        "blockchain",
		Priority:    cfg.Priority,
		FallbackFor: activeAddressesMetric,
		RateLimited: true,
	}
	return &BlockchainCharts{
		httpSource: newHTTPSource(desc, tracer, cfg.BaseURL, PerMinute(30)),
		cfg:        cfg,
	}
}

func (p *BlockchainCharts) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "fetch-chart", window)
	defer func() { endSpan(span, table.Len(), err) }()

	q := url.Values{}
	q.Set("timespan", fmt.Sprintf("%ddays", daysIn(window)))
	q.Set("format", "json")
	q.Set("sampled", "false")

	var payload struct {
		Status string             `json:"status"`
		Values []normalize.Record `json:"values"`
	}
	u := fmt.Sprintf("%s/charts/%s?%s", p.baseURL, params.Get("chart", p.cfg.Chart), q.Encode())
	if err := p.getJSON(ctx, u, nil, &payload); err != nil {
		return domain.Table{}, err
	}
	if payload.Status != "" && payload.Status != "ok" {
		return domain.Table{}, domain.NewFetchError(p.desc.Name, domain.ErrMalformedResponse, http.StatusOK,
			fmt.Errorf("chart status %q", payload.Status))
	}
	return p.normalize(payload.Values, onChainValueSchema("x", normalize.EpochSeconds, "y"))
}
