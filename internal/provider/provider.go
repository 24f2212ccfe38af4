// Package provider holds one Source Adapter per upstream data provider.
// Every adapter returns a canonical domain.Table or a classified
// *domain.FetchError.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tsingest/internal/domain"
	"tsingest/internal/normalize"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBytes = 32 << 20

// Params carries per-call options such as a subreddit or feed URL.
type Params map[string]string

func (p Params) Get(key, fallback string) string {
	if v := strings.TrimSpace(p[key]); v != "" {
		return v
	}
	return fallback
}

type Adapter interface {
	Descriptor() domain.SourceDescriptor
	Fetch(ctx context.Context, window domain.Window, params Params) (domain.Table, error)
}

// FuncAdapter adapts a plain function to the Adapter interface.
type FuncAdapter struct {
	Desc domain.SourceDescriptor
	Fn   func(ctx context.Context, window domain.Window, params Params) (domain.Table, error)
}

func (f FuncAdapter) Descriptor() domain.SourceDescriptor { return f.Desc }

func (f FuncAdapter) Fetch(ctx context.Context, window domain.Window, params Params) (domain.Table, error) {
	return f.Fn(ctx, window, params)
}

func missingCredential(source, key string) error {
	return domain.NewFetchError(source, domain.ErrUnauthorized, 0, fmt.Errorf("%s is not configured", key))
}

// classifyStatus maps a non-200 response onto the fetch error taxonomy.
func classifyStatus(source string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	var detail error
	if msg != "" {
		detail = errors.New(msg)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewFetchError(source, domain.ErrUnauthorized, status, detail)
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return domain.NewFetchError(source, domain.ErrRateLimited, status, detail)
	case status >= 500:
		return domain.NewFetchError(source, domain.ErrNetworkUnavailable, status, detail)
	default:
		return domain.NewFetchError(source, domain.ErrMalformedResponse, status, detail)
	}
}

// httpSource is the shared HTTP plumbing behind every adapter.
type httpSource struct {
	desc    domain.SourceDescriptor
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

func newHTTPSource(desc domain.SourceDescriptor, tracer trace.Tracer, baseURL string, limiter *RateLimiter) httpSource {
	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return httpSource{
		desc:    desc,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tracer:  tracer,
		limiter: limiter,
	}
}

func (s *httpSource) Descriptor() domain.SourceDescriptor { return s.desc }

func (s *httpSource) startSpan(ctx context.Context, op string, window domain.Window) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, s.desc.Name+"."+op)
	span.SetAttributes(
		attribute.String("source", s.desc.Name),
		attribute.String("window.start", window.Start.Format(time.RFC3339)),
		attribute.String("window.end", window.End.Format(time.RFC3339)),
	)
	return ctx, span
}

func endSpan(span trace.Span, rows int, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("rows", rows))
	}
	span.End()
}

func (s *httpSource) doRequest(ctx context.Context, url string, header http.Header) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewFetchError(s.desc.Name, domain.ErrMalformedResponse, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.NewFetchError(s.desc.Name, domain.ErrNetworkUnavailable, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(s.desc.Name, resp.StatusCode, body)
	}
	if err != nil {
		return nil, domain.NewFetchError(s.desc.Name, domain.ErrNetworkUnavailable, resp.StatusCode, err)
	}
	return body, nil
}

func (s *httpSource) getJSON(ctx context.Context, url string, header http.Header, out any) error {
	body, err := s.doRequest(ctx, url, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewFetchError(s.desc.Name, domain.ErrMalformedResponse, http.StatusOK, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (s *httpSource) normalize(raw []normalize.Record, schema normalize.SchemaMap) (domain.Table, error) {
	table, err := normalize.Normalize(raw, schema)
	if err != nil {
		return domain.Table{}, domain.NewFetchError(s.desc.Name, domain.ErrMalformedResponse, http.StatusOK, err)
	}
	table.SortByTime()
	return table, nil
}

func daysIn(w domain.Window) int {
	days := int(w.Duration().Hours()/24 + 0.999)
	if days < 1 {
		days = 1
	}
	return days
}

func sanitizeText(in string, maxLen int) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	in = strings.ReplaceAll(in, "\n", " ")
	in = strings.ReplaceAll(in, "\r", " ")
	in = strings.Join(strings.Fields(in), " ")
	if maxLen > 0 && len(in) > maxLen {
		in = in[:maxLen]
	}
	return in
}

func joinText(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// sentimentSchema maps text records to the canonical sentiment columns.
func sentimentSchema(source string, ts normalize.TimeField) normalize.SchemaMap {
	return normalize.SchemaMap{
		Timestamp: ts,
		Fields: []normalize.FieldMap{
			{From: "id", To: "source_id", Kind: domain.KindText},
			{From: "text", To: "text", Kind: domain.KindText},
			{From: "url", To: "url", Kind: domain.KindText},
		},
		Static: map[string]string{"source": source},
	}
}

// candleSchema maps candle records to the canonical market bar columns.
var candleSchema = normalize.SchemaMap{
	Timestamp: normalize.TimeField{Field: "open_time", Format: normalize.EpochMillis},
	Fields: []normalize.FieldMap{
		{From: "open", To: "open", Kind: domain.KindNumber},
		{From: "high", To: "high", Kind: domain.KindNumber},
		{From: "low", To: "low", Kind: domain.KindNumber},
		{From: "close", To: "close", Kind: domain.KindNumber},
		{From: "volume", To: "volume", Kind: domain.KindNumber},
	},
}

func candleRecords(candles []*domain.Candle) []normalize.Record {
	out := make([]normalize.Record, 0, len(candles))
	for _, c := range candles {
		out = append(out, normalize.Record{
			"open_time": float64(c.OpenTime.UnixMilli()),
			"open":      c.Open,
			"high":      c.High,
			"low":       c.Low,
			"close":     c.Close,
			"volume":    c.Volume,
		})
	}
	return out
}

// WithTimeout bounds each Fetch of a by d through its descriptor. A
// non-positive d returns a unchanged.
func WithTimeout(a Adapter, d time.Duration) Adapter {
	if d <= 0 {
		return a
	}
	return timedAdapter{Adapter: a, timeout: d}
}

type timedAdapter struct {
	Adapter
	timeout time.Duration
}

func (a timedAdapter) Descriptor() domain.SourceDescriptor {
	desc := a.Adapter.Descriptor()
	desc.Timeout = a.timeout
	return desc
}
