package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"tsingest/internal/domain"
	"tsingest/internal/normalize"

	"go.opentelemetry.io/otel/trace"
)

const (
	redditBaseURL     = "https://www.reddit.com"
	defaultRedditUA   = "tsingest/1.0 (+https://github.com/tsingest/tsingest)"
	defaultRedditSize = 100
)

type RedditConfig struct {
	BaseURL   string
	UserAgent string
	Subreddit string
	Limit     int
	Priority  int
}

// RedditPosts reads the newest posts of a subreddit from the public listing.
type RedditPosts struct {
	httpSource
	cfg RedditConfig
}

func NewRedditPosts(tracer trace.Tracer, cfg RedditConfig) *RedditPosts {
	if cfg.BaseURL == "" {
		cfg.BaseURL = redditBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultRedditUA
	}
	if cfg.Subreddit == "" {
		cfg.Subreddit = "Bitcoin"
	}
	if cfg.Limit <= 0 || cfg.Limit > 100 {
		cfg.Limit = defaultRedditSize
	}
	desc := domain.SourceDescriptor{
		Name:        "reddit",
		Priority:    cfg.Priority,
		FallbackFor: "reddit",
		RateLimited: true,
	}
	return &RedditPosts{
		httpSource: newHTTPSource(desc, tracer, cfg.BaseURL, PerMinute(10)),
		cfg:        cfg,
	}
}

func (p *RedditPosts) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "fetch-new", window)
	defer func() { endSpan(span, table.Len(), err) }()

	subreddit := strings.TrimPrefix(params.Get("subreddit", p.cfg.Subreddit), "r/")
	u := fmt.Sprintf("%s/r/%s/new.json?limit=%d", p.baseURL, url.PathEscape(subreddit), p.cfg.Limit)

	header := http.Header{}
	header.Set("User-Agent", p.cfg.UserAgent)

	var payload struct {
		Data struct {
			Children []struct {
				Data struct {
					ID         string  `json:"id"`
					Title      string  `json:"title"`
					SelfText   string  `json:"selftext"`
					CreatedUTC float64 `json:"created_utc"`
					Permalink  string  `json:"permalink"`
					URL        string  `json:"url"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := p.getJSON(ctx, u, header, &payload); err != nil {
		return domain.Table{}, err
	}

	raw := make([]normalize.Record, 0, len(payload.Data.Children))
	for _, row := range payload.Data.Children {
		data := row.Data
		if strings.TrimSpace(data.ID) == "" || strings.TrimSpace(data.Title) == "" {
			continue
		}
		itemURL := strings.TrimSpace(data.URL)
		if permalink := strings.TrimSpace(data.Permalink); permalink != "" {
			itemURL = p.baseURL + permalink
		}
		raw = append(raw, normalize.Record{
			"created": data.CreatedUTC,
			"id":      data.ID,
			"text":    joinText(sanitizeText(data.Title, 300), sanitizeText(data.SelfText, 2000)),
			"url":     itemURL,
		})
	}
	return p.normalize(raw, sentimentSchema(p.desc.Name, normalize.TimeField{Field: "created", Format: normalize.EpochSeconds}))
}
