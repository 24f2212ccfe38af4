package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"tsingest/internal/domain"
)

func TestRSSFeedFetch(t *testing.T) {
	p := NewRSSFeed(noopTracer(), RSSConfig{})
	stub(&p.httpSource, func(req *http.Request) (*http.Response, error) {
		if req.URL.String() != "https://news.example/rss" {
			t.Fatalf("unexpected url: %s", req.URL)
		}
		xml := `<?xml version="1.0"?><rss version="2.0"><channel><title>Example Feed</title>` +
			`<item><title>ETH adoption rises</title><link>https://news.example/eth</link><description><![CDATA[<p>Ethereum growth continues</p>]]></description><guid>guid-1</guid><pubDate>Tue, 03 Feb 2026 10:00:00 +0000</pubDate></item>` +
			`<item><title>Undated</title><link>https://news.example/undated</link></item>` +
			`</channel></rss>`
		return textResponse(http.StatusOK, xml), nil
	})

	table, err := p.Fetch(context.Background(), testWindow, Params{"feed_url": "https://news.example/rss"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", table.Len())
	}
	row := table.Rows[0]
	if row.Fields["source"] != "news" || row.Fields["source_id"] != "guid-1" {
		t.Fatalf("unexpected row: %+v", row.Fields)
	}
	if row.Fields["text"] != "ETH adoption rises Ethereum growth continues" {
		t.Fatalf("expected html stripped text, got %q", row.Fields["text"])
	}
}

func TestRSSFeedMalformed(t *testing.T) {
	p := NewRSSFeed(noopTracer(), RSSConfig{FeedURL: "https://news.example/rss"})
	stub(&p.httpSource, func(*http.Request) (*http.Response, error) {
		return textResponse(http.StatusOK, "<rss><channel><item>"), nil
	})

	_, err := p.Fetch(context.Background(), testWindow, nil)
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}
