package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tsingest/internal/domain"
	"tsingest/internal/normalize"

	"github.com/go-gota/gota/dataframe"
	"go.opentelemetry.io/otel/trace"
)

const (
	fredBaseURL  = "https://api.stlouisfed.org"
	yahooBaseURL = "https://query1.finance.yahoo.com"
	stooqBaseURL = "https://stooq.com"

	defaultBrowserUA = "Mozilla/5.0 (compatible; tsingest/1.0)"
)

var barFields = []string{"open", "high", "low", "close", "volume"}

// barSchema maps daily bar records onto prefixed canonical columns, e.g. sp500_close.
func barSchema(tsField string, format normalize.TimeFormat, prefix string) normalize.SchemaMap {
	fields := make([]normalize.FieldMap, 0, len(barFields))
	for _, f := range barFields {
		fields = append(fields, normalize.FieldMap{From: f, To: prefix + "_" + f, Kind: domain.KindNumber})
	}
	return normalize.SchemaMap{
		Timestamp: normalize.TimeField{Field: tsField, Format: format},
		Fields:    fields,
	}
}

type FREDConfig struct {
	APIKey   string
	BaseURL  string
	SeriesID string
	Column   string
	Priority int
}

// FRED fetches one economic series from the St. Louis Fed observations API.
type FRED struct {
	httpSource
	cfg FREDConfig
}

func NewFRED(tracer trace.Tracer, cfg FREDConfig) *FRED {
	if cfg.BaseURL == "" {
		cfg.BaseURL = fredBaseURL
	}
	if cfg.SeriesID == "" {
		cfg.SeriesID = "DTWEXBGS"
	}
	if cfg.Column == "" {
		cfg.Column = "dxy"
	}
	desc := domain.SourceDescriptor{
		Name:        "fred",
		Priority:    cfg.Priority,
		FallbackFor: cfg.Column,
		RateLimited: true,
	}
	return &FRED{
		httpSource: newHTTPSource(desc, tracer, cfg.BaseURL, PerMinute(120)),
		cfg:        cfg,
	}
}

func (p *FRED) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "fetch-observations", window)
	defer func() { endSpan(span, table.Len(), err) }()

	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return domain.Table{}, missingCredential(p.desc.Name, "FRED_API_KEY")
	}

	q := url.Values{}
	q.Set("series_id", params.Get("series_id", p.cfg.SeriesID))
	q.Set("api_key", p.cfg.APIKey)
	q.Set("file_type", "json")
	q.Set("observation_start", window.Start.UTC().Format(time.DateOnly))
	q.Set("observation_end", window.End.UTC().Format(time.DateOnly))

	// Missing observations are reported as value ".".
	var payload struct {
		Observations []normalize.Record `json:"observations"`
	}
	if err := p.getJSON(ctx, p.baseURL+"/fred/series/observations?"+q.Encode(), nil, &payload); err != nil {
		return domain.Table{}, err
	}

	schema := normalize.SchemaMap{
		Timestamp: normalize.TimeField{Field: "date", Format: normalize.DateOnly},
		Fields:    []normalize.FieldMap{{From: "value", To: p.cfg.Column, Kind: domain.KindNumber}},
	}
	return p.normalize(payload.Observations, schema)
}

type YahooConfig struct {
	BaseURL  string
	Symbol   string
	Prefix   string
	Priority int
}

// YahooChart fetches daily bars from the Yahoo Finance chart API.
type YahooChart struct {
	httpSource
	cfg YahooConfig
}

func NewYahooChart(tracer trace.Tracer, cfg YahooConfig) *YahooChart {
	if cfg.BaseURL == "" {
		cfg.BaseURL = yahooBaseURL
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "^GSPC"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "sp500"
	}
	desc := domain.SourceDescriptor{
		Name:        "yahoo",
		Priority:    cfg.Priority,
		FallbackFor: cfg.Prefix,
		RateLimited: true,
	}
	return &YahooChart{
		httpSource: newHTTPSource(desc, tracer, cfg.BaseURL, PerMinute(30)),
		cfg:        cfg,
	}
}

func (p *YahooChart) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "fetch-chart", window)
	defer func() { endSpan(span, table.Len(), err) }()

	q := url.Values{}
	q.Set("period1", strconv.FormatInt(window.Start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(window.End.Unix(), 10))
	q.Set("interval", "1d")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", p.baseURL, url.PathEscape(params.Get("symbol", p.cfg.Symbol)), q.Encode())

	header := http.Header{}
	header.Set("User-Agent", defaultBrowserUA)

	var payload struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []map[string][]*float64 `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error *struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	if err := p.getJSON(ctx, u, header, &payload); err != nil {
		return domain.Table{}, err
	}
	if payload.Chart.Error != nil {
		return domain.Table{}, domain.NewFetchError(p.desc.Name, domain.ErrMalformedResponse, http.StatusOK,
			fmt.Errorf("%s: %s", payload.Chart.Error.Code, payload.Chart.Error.Description))
	}
	schema := barSchema("t", normalize.EpochDay, p.cfg.Prefix)
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return p.normalize(nil, schema)
	}

	result := payload.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	raw := make([]normalize.Record, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		rec := normalize.Record{"t": float64(ts)}
		for _, f := range barFields {
			series := quote[f]
			if i < len(series) && series[i] != nil {
				rec[f] = *series[i]
			}
		}
		raw = append(raw, rec)
	}
	return p.normalize(raw, schema)
}

type StooqConfig struct {
	BaseURL  string
	Symbol   string
	Prefix   string
	Priority int
}

// StooqCSV downloads daily bars as CSV from stooq.com.
type StooqCSV struct {
	httpSource
	cfg StooqConfig
}

func NewStooqCSV(tracer trace.Tracer, cfg StooqConfig) *StooqCSV {
	if cfg.BaseURL == "" {
		cfg.BaseURL = stooqBaseURL
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "^spx"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "sp500"
	}
	desc := domain.SourceDescriptor{
		Name:        "stooq",
		Priority:    cfg.Priority,
		FallbackFor: cfg.Prefix,
		RateLimited: true,
	}
	return &StooqCSV{
		httpSource: newHTTPSource(desc, tracer, cfg.BaseURL, PerMinute(30)),
		cfg:        cfg,
	}
}

func (p *StooqCSV) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "fetch-csv", window)
	defer func() { endSpan(span, table.Len(), err) }()

	q := url.Values{}
	q.Set("s", params.Get("symbol", p.cfg.Symbol))
	q.Set("i", "d")
	q.Set("d1", window.Start.UTC().Format("20060102"))
	q.Set("d2", window.End.UTC().Format("20060102"))

	header := http.Header{}
	header.Set("Accept", "text/csv")
	body, err := p.doRequest(ctx, p.baseURL+"/q/d/l/?"+q.Encode(), header)
	if err != nil {
		return domain.Table{}, err
	}

	schema := barSchema("date", normalize.DateOnly, p.cfg.Prefix)
	raw, err := parseBarCSV(body)
	if err != nil {
		return domain.Table{}, domain.NewFetchError(p.desc.Name, domain.ErrMalformedResponse, http.StatusOK, err)
	}
	return p.normalize(raw, schema)
}

// parseBarCSV reads a Date,Open,High,Low,Close[,Volume] CSV. A body without a
// Date column ("No data") yields nil records.
func parseBarCSV(body []byte) ([]normalize.Record, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	df := dataframe.ReadCSV(bytes.NewReader(body),
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
	)
	if df.Err != nil {
		if strings.Contains(strings.ToLower(string(body)), "no data") {
			return nil, nil
		}
		return nil, fmt.Errorf("parse csv: %w", df.Err)
	}

	records := df.Records()
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0]
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	dateCol, ok := index["date"]
	if !ok {
		return nil, nil
	}

	out := make([]normalize.Record, 0, len(records)-1)
	for _, row := range records[1:] {
		rec := normalize.Record{"date": row[dateCol]}
		for _, f := range barFields {
			if i, ok := index[f]; ok && i < len(row) {
				rec[f] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
