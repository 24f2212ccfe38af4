package provider

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tsingest/internal/domain"
	"tsingest/internal/normalize"

	"go.opentelemetry.io/otel/trace"
)

type RSSConfig struct {
	FeedURL  string
	MaxItems int
	Priority int
}

// RSSFeed reads headlines from an RSS 2.0 feed. It is the keyless fallback
// for NewsAPI.
type RSSFeed struct {
	httpSource
	cfg RSSConfig
}

func NewRSSFeed(tracer trace.Tracer, cfg RSSConfig) *RSSFeed {
	if cfg.FeedURL == "" {
		cfg.FeedURL = "https://www.coindesk.com/arc/outboundfeeds/rss/"
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 100
	}
	desc := domain.SourceDescriptor{
		Name:        "rss",
		Priority:    cfg.Priority,
		FallbackFor: "news",
		RateLimited: true,
	}
	return &RSSFeed{
		httpSource: newHTTPSource(desc, tracer, "", PerMinute(30)),
		cfg:        cfg,
	}
}

func (p *RSSFeed) Fetch(ctx context.Context, window domain.Window, params Params) (table domain.Table, err error) {
	ctx, span := p.startSpan(ctx, "fetch-feed", window)
	defer func() { endSpan(span, table.Len(), err) }()

	feedURL := params.Get("feed_url", p.cfg.FeedURL)
	header := http.Header{}
	header.Set("Accept", "application/rss+xml, application/xml, text/xml")

	body, err := p.doRequest(ctx, feedURL, header)
	if err != nil {
		return domain.Table{}, err
	}

	var rss struct {
		Channel struct {
			Items []struct {
				Title       string `xml:"title"`
				Link        string `xml:"link"`
				Description string `xml:"description"`
				GUID        string `xml:"guid"`
				PubDate     string `xml:"pubDate"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal(body, &rss); err != nil {
		return domain.Table{}, domain.NewFetchError(p.desc.Name, domain.ErrMalformedResponse, http.StatusOK,
			fmt.Errorf("decode rss payload: %w", err))
	}

	raw := make([]normalize.Record, 0, min(p.cfg.MaxItems, len(rss.Channel.Items)))
	for i, row := range rss.Channel.Items {
		if i >= p.cfg.MaxItems {
			break
		}
		title := sanitizeText(row.Title, 300)
		publishedAt := parseRSSDate(row.PubDate)
		// Items without a publish date cannot be placed in the window.
		if title == "" || publishedAt.IsZero() {
			continue
		}
		sourceID := sanitizeText(row.GUID, 250)
		if sourceID == "" {
			sourceID = sanitizeText(row.Link, 250)
		}
		if sourceID == "" {
			h := sha1.Sum([]byte(title + "|" + publishedAt.Format(time.RFC3339Nano)))
			sourceID = hex.EncodeToString(h[:])
		}
		raw = append(raw, normalize.Record{
			"published": publishedAt.Format(time.RFC3339Nano),
			"id":        sourceID,
			"text":      joinText(title, sanitizeText(htmlStrip(row.Description), 420)),
			"url":       sanitizeText(row.Link, 500),
		})
	}
	return p.normalize(raw, sentimentSchema("news", normalize.TimeField{Field: "published", Format: normalize.RFC3339}))
}

func parseRSSDate(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func htmlStrip(in string) string {
	if strings.TrimSpace(in) == "" {
		return ""
	}
	var b strings.Builder
	inside := false
	for _, r := range in {
		switch r {
		case '<':
			inside = true
			continue
		case '>':
			inside = false
			continue
		}
		if !inside {
			b.WriteRune(r)
		}
	}
	return b.String()
}
