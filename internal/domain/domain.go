package domain

import (
	"fmt"
	"strings"
	"time"
)

// ID names one ingestion domain.
type ID string

const (
	Market    ID = "market"
	OnChain   ID = "onchain"
	Macro     ID = "macro"
	Sentiment ID = "sentiment"
)

// AllDomains lists every domain in the order the orchestrator runs them.
var AllDomains = []ID{Market, OnChain, Sentiment, Macro}

// ArtifactDir maps a domain to its directory under the data root.
var ArtifactDir = map[ID]string{
	Market:    "ohlcv",
	OnChain:   "onchain",
	Macro:     "macro",
	Sentiment: "sentiment",
}

func ParseID(v string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(v)))
	for _, known := range AllDomains {
		if id == known {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", v)
}

// Window is the half-open fetch interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func LastDays(now time.Time, days int) Window {
	now = now.UTC()
	return Window{Start: now.AddDate(0, 0, -days), End: now}
}

func LastHours(now time.Time, hours int) Window {
	now = now.UTC()
	return Window{Start: now.Add(-time.Duration(hours) * time.Hour), End: now}
}

func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// SourceDescriptor identifies one adapter and its place in a fallback chain.
type SourceDescriptor struct {
	Name        string
	Priority    int
	Lookback    time.Duration
	FallbackFor string
	RateLimited bool
	Timeout     time.Duration
}

// Snapshot is the persisted table for one domain and calendar date.
type Snapshot struct {
	Domain   ID
	Artifact string
	Date     time.Time
	Table    Table
}

// DateKey is the ISO calendar date identifying the snapshot.
func (s Snapshot) DateKey() string {
	return s.Date.UTC().Format(time.DateOnly)
}
