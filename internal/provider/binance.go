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

const binanceBaseURL = "https://api.binance.com"

type BinanceConfig struct {
	APIKey    string
	BaseURL   string
	Symbol    string
	Timeframe string
	Limit     int
	Priority  int
}

// BinanceKlines fetches OHLCV bars from the Binance spot klines endpoint.
type BinanceKlines struct {
	httpSource
	cfg BinanceConfig
}

// NewBinanceKlines creates the adapter; Binance allows 1200 weight per minute,
// the limiter keeps well below that.
func NewBinanceKlines(tracer trace.Tracer, cfg BinanceConfig) *BinanceKlines {
	if cfg.BaseURL == "" {
		cfg.BaseURL = binanceBaseURL
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "BTCUSDT"
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	if cfg.Limit <= 0 || cfg.Limit > 1000 {
		cfg.Limit = 1000
	}
	desc := domain.SourceDescriptor{
		Name:        "binance",
		Priority:    cfg.Priority,
		FallbackFor: "btc_usdt_ohlcv",
		RateLimited: true,
	}
	return &BinanceKlines{
		httpSource: newHTTPSource(desc, tracer, cfg.BaseURL, PerMinute(300)),
		cfg:        cfg,
	}
}

func (p *BinanceKlines) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "fetch-klines", window)
	defer func() { endSpan(span, table.Len(), err) }()

	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return domain.Table{}, missingCredential(p.desc.Name, "BINANCE_API_KEY")
	}

	symbol := strings.ToUpper(strings.ReplaceAll(params.Get("symbol", p.cfg.Symbol), "/", ""))
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", p.cfg.Timeframe)
	q.Set("startTime", strconv.FormatInt(window.Start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(window.End.UnixMilli()-1, 10))
	q.Set("limit", strconv.Itoa(p.cfg.Limit))

	header := http.Header{}
	header.Set("X-MBX-APIKEY", p.cfg.APIKey)

	// Response shape: [[openTime, "open", "high", "low", "close", "volume", closeTime, ...], ...]
	var rows [][]any
	if err := p.getJSON(ctx, p.baseURL+"/api/v3/klines?"+q.Encode(), header, &rows); err != nil {
		return domain.Table{}, err
	}

	raw := make([]normalize.Record, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return domain.Table{}, domain.NewFetchError(p.desc.Name, domain.ErrMalformedResponse, http.StatusOK,
				fmt.Errorf("kline %d has %d fields", i, len(row)))
		}
		raw = append(raw, normalize.Record{
			"open_time": row[0],
			"open":      row[1],
			"high":      row[2],
			"low":       row[3],
			"close":     row[4],
			"volume":    row[5],
		})
	}
	return p.normalize(raw, candleSchema)
}
