package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tsingest/internal/domain"
	"tsingest/internal/normalize"

	"go.opentelemetry.io/otel/trace"
)

const (
	xBaseURL       = "https://api.twitter.com"
	newsAPIBaseURL = "https://newsapi.org"

	defaultSentimentQuery = "bitcoin OR btc OR crypto"
)

type XConfig struct {
	BearerToken string
	BaseURL     string
	Query       string
	MaxResults  int
	Priority    int
}

// XRecentSearch reads posts from the X v2 recent search endpoint.
type XRecentSearch struct {
	httpSource
	cfg XConfig
}

func NewXRecentSearch(tracer trace.Tracer, cfg XConfig) *XRecentSearch {
	if cfg.BaseURL == "" {
		cfg.BaseURL = xBaseURL
	}
	if cfg.Query == "" {
		cfg.Query = defaultSentimentQuery + " -is:retweet lang:en"
	}
	cfg.MaxResults = min(max(cfg.MaxResults, 10), 100)
	desc := domain.SourceDescriptor{
		Name:        "x",
		Priority:    cfg.Priority,
		FallbackFor: "x",
		RateLimited: true,
	}
	return &XRecentSearch{
		httpSource: newHTTPSource(desc, tracer, cfg.BaseURL, NewRateLimiter(1, 15*time.Second)),
		cfg:        cfg,
	}
}

func (p *XRecentSearch) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "recent-search", window)
	defer func() { endSpan(span, table.Len(), err) }()

	if strings.TrimSpace(p.cfg.BearerToken) == "" {
		return domain.Table{}, missingCredential(p.desc.Name, "X_BEARER_TOKEN")
	}

	q := url.Values{}
	q.Set("query", params.Get("query", p.cfg.Query))
	q.Set("max_results", strconv.Itoa(p.cfg.MaxResults))
	q.Set("tweet.fields", "created_at")
	// Recent search only covers the last seven days.
	if start := window.Start.UTC(); time.Since(start) < 7*24*time.Hour {
		q.Set("start_time", start.Format(time.RFC3339))
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.cfg.BearerToken)

	var payload struct {
		Data []struct {
			ID        string `json:"id"`
			Text      string `json:"text"`
			CreatedAt string `json:"created_at"`
		} `json:"data"`
	}
	if err := p.getJSON(ctx, p.baseURL+"/2/tweets/search/recent?"+q.Encode(), header, &payload); err != nil {
		return domain.Table{}, err
	}

	raw := make([]normalize.Record, 0, len(payload.Data))
	for _, tw := range payload.Data {
		raw = append(raw, normalize.Record{
			"created_at": tw.CreatedAt,
			"id":         tw.ID,
			"text":       sanitizeText(tw.Text, 2000),
			"url":        "https://x.com/i/web/status/" + tw.ID,
		})
	}
	return p.normalize(raw, sentimentSchema(p.desc.Name, normalize.TimeField{Field: "created_at", Format: normalize.RFC3339}))
}

type NewsAPIConfig struct {
	APIKey   string
	BaseURL  string
	Query    string
	PageSize int
	Priority int
}

// NewsAPI reads articles from the NewsAPI everything endpoint.
type NewsAPI struct {
	httpSource
	cfg NewsAPIConfig
}

func NewNewsAPI(tracer trace.Tracer, cfg NewsAPIConfig) *NewsAPI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = newsAPIBaseURL
	}
	if cfg.Query == "" {
		cfg.Query = defaultSentimentQuery
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = 100
	}
	desc := domain.SourceDescriptor{
		Name:        "newsapi",
		Priority:    cfg.Priority,
		FallbackFor: "news",
		RateLimited: true,
	}
	return &NewsAPI{
		httpSource: newHTTPSource(desc, tracer, cfg.BaseURL, PerMinute(30)),
		cfg:        cfg,
	}
}

func (p *NewsAPI) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "fetch-everything", window)
	defer func() { endSpan(span, table.Len(), err) }()

	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return domain.Table{}, missingCredential(p.desc.Name, "NEWSAPI_KEY")
	}

	q := url.Values{}
	q.Set("q", params.Get("query", p.cfg.Query))
	q.Set("language", "en")
	q.Set("pageSize", strconv.Itoa(p.cfg.PageSize))
	q.Set("from", window.Start.UTC().Format(time.RFC3339))
	q.Set("to", window.End.UTC().Format(time.RFC3339))
	q.Set("sortBy", "publishedAt")

	header := http.Header{}
	header.Set("X-Api-Key", p.cfg.APIKey)

	var payload struct {
		Status   string `json:"status"`
		Articles []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
			PublishedAt string `json:"publishedAt"`
		} `json:"articles"`
	}
	if err := p.getJSON(ctx, p.baseURL+"/v2/everything?"+q.Encode(), header, &payload); err != nil {
		return domain.Table{}, err
	}

	raw := make([]normalize.Record, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		link := strings.TrimSpace(a.URL)
		if link == "" {
			continue
		}
		raw = append(raw, normalize.Record{
			"published": a.PublishedAt,
			"id":        link,
			"text":      joinText(sanitizeText(a.Title, 300), sanitizeText(a.Description, 1000)),
			"url":       link,
		})
	}
	return p.normalize(raw, sentimentSchema("news", normalize.TimeField{Field: "published", Format: normalize.RFC3339}))
}
