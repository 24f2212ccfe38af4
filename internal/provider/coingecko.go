package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"tsingest/internal/domain"
	"tsingest/internal/normalize"

	"go.opentelemetry.io/otel/trace"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

type CoinGeckoConfig struct {
	APIKey    string
	BaseURL   string
	CoinID    string
	Timeframe string
	Priority  int
}

// CoinGeckoChart builds OHLCV bars from CoinGecko market_chart samples.
type CoinGeckoChart struct {
	httpSource
	cfg CoinGeckoConfig
}

// NewCoinGeckoChart creates a new adapter with built-in rate limiting.
// Rate limited to 8 requests per minute (one token every 7.5 seconds).
func NewCoinGeckoChart(tracer trace.Tracer, cfg CoinGeckoConfig) *CoinGeckoChart {
	if cfg.BaseURL == "" {
		cfg.BaseURL = coingeckoBaseURL
	}
	if cfg.CoinID == "" {
		cfg.CoinID = domain.CoinGeckoID["BTC"]
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	desc := domain.SourceDescriptor{
		Name:        "coingecko",
		Priority:    cfg.Priority,
		FallbackFor: "btc_usdt_ohlcv",
		RateLimited: true,
	}
	return &CoinGeckoChart{
		httpSource: newHTTPSource(desc, tracer, cfg.BaseURL, NewRateLimiter(8, 7500*time.Millisecond)),
		cfg:        cfg,
	}
}

func (p *CoinGeckoChart) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "fetch-market-chart", window)
	defer func() { endSpan(span, table.Len(), err) }()

	interval := intervalToDuration(p.cfg.Timeframe)
	if interval == 0 {
		return domain.Table{}, domain.NewFetchError(p.desc.Name, domain.ErrMalformedResponse, 0,
			fmt.Errorf("unsupported timeframe %q", p.cfg.Timeframe))
	}

	coinID := params.Get("coin_id", p.cfg.CoinID)
	url := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=%d", p.baseURL, coinID, daysIn(window))

	header := http.Header{}
	if p.cfg.APIKey != "" {
		header.Set("x-cg-demo-api-key", p.cfg.APIKey)
	}

	var raw struct {
		Prices       [][]float64 `json:"prices"`
		TotalVolumes [][]float64 `json:"total_volumes"`
	}
	if err := p.getJSON(ctx, url, header, &raw); err != nil {
		return domain.Table{}, err
	}

	candles := buildCandlesFromMarketChart(interval, raw.Prices, raw.TotalVolumes)
	return p.normalize(candleRecords(candles), coinGeckoSchema)
}

// coinGeckoSchema keeps total_volumes apart from per-bar volume: CoinGecko
// only reports a rolling 24h volume.
var coinGeckoSchema = normalize.SchemaMap{
	Timestamp: candleSchema.Timestamp,
	Fields: []normalize.FieldMap{
		{From: "open", To: "open", Kind: domain.KindNumber},
		{From: "high", To: "high", Kind: domain.KindNumber},
		{From: "low", To: "low", Kind: domain.KindNumber},
		{From: "close", To: "close", Kind: domain.KindNumber},
		{From: "volume", To: "volume_24h", Kind: domain.KindNumber},
	},
}

type volumePoint struct {
	ts  int64
	vol float64
}

// buildCandlesFromMarketChart buckets raw market_chart price samples into
// candles of the given interval.
func buildCandlesFromMarketChart(intervalDuration time.Duration, prices, volumes [][]float64) []*domain.Candle {
	if len(prices) == 0 || intervalDuration <= 0 {
		return nil
	}

	volPoints := make([]volumePoint, 0, len(volumes))
	for _, v := range volumes {
		if len(v) >= 2 {
			volPoints = append(volPoints, volumePoint{ts: int64(v[0]), vol: v[1]})
		}
	}

	sort.Slice(prices, func(i, j int) bool {
		return prices[i][0] < prices[j][0]
	})

	type bucket struct {
		open     float64
		high     float64
		low      float64
		close    float64
		openTime time.Time
	}

	buckets := make(map[int64]*bucket)
	for _, pt := range prices {
		if len(pt) < 2 {
			continue
		}
		price := pt[1]
		t := time.UnixMilli(int64(pt[0])).UTC()
		bucketTS := t.Truncate(intervalDuration).UnixMilli()

		b, exists := buckets[bucketTS]
		if !exists {
			buckets[bucketTS] = &bucket{
				open:     price,
				high:     price,
				low:      price,
				close:    price,
				openTime: time.UnixMilli(bucketTS).UTC(),
			}
			continue
		}
		b.high = math.Max(b.high, price)
		b.low = math.Min(b.low, price)
		b.close = price // last price in the bucket becomes the close
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	candles := make([]*domain.Candle, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		candles = append(candles, &domain.Candle{
			OpenTime: b.openTime,
			Open:     b.open,
			High:     b.high,
			Low:      b.low,
			Close:    b.close,
			Volume:   findClosestVolume(volPoints, k+intervalDuration.Milliseconds()),
		})
	}
	return candles
}

func findClosestVolume(volumes []volumePoint, targetMs int64) float64 {
	if len(volumes) == 0 {
		return 0
	}
	closest := volumes[0]
	minDiff := int64(math.MaxInt64)
	for _, v := range volumes {
		diff := v.ts - targetMs
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff = diff
			closest = v
		}
	}
	return closest.vol
}

func intervalToDuration(interval string) time.Duration {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}
