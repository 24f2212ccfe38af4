package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tsingest/internal/cache"
	"tsingest/internal/domain"

	tea "github.com/charmbracelet/bubbletea"
)

type stubSource struct {
	report domain.RunReport
	err    error
	calls  int
}

func (s *stubSource) LatestReport(context.Context) (domain.RunReport, error) {
	s.calls++
	return s.report, s.err
}

func sampleReport() domain.RunReport {
	start := time.Date(2026, 2, 8, 6, 0, 0, 0, time.UTC)

	market := domain.NewOutcome(domain.Market, start)
	_ = market.Transition(domain.StateFetching)
	_ = market.Transition(domain.StateNormalizing)
	_ = market.Transition(domain.StateWritten)
	market.Rows = 168
	market.Location = "data/raw/ohlcv/btc_usdt_2026-02-08.parquet"
	market.Sources = map[string]string{"btc_usdt_ohlcv": "coingecko"}
	market.Warnings = []string{"binance: rate limited"}

	onchain := domain.NewOutcome(domain.OnChain, start)
	_ = onchain.Transition(domain.StateFetching)
	onchain.Fail(domain.ReasonSourceError, errors.New("glassnode: unauthorized"))

	return domain.RunReport{
		RunID:      "run-42",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Outcomes:   []domain.Outcome{*market, *onchain},
	}
}

func load(t *testing.T, m *BoardModel) {
	t.Helper()
	msg := m.fetch()()
	if _, ok := msg.(reportMsg); !ok {
		t.Fatalf("expected reportMsg, got %T", msg)
	}
	m.Update(msg)
}

func TestBoardShowsLatestRun(t *testing.T) {
	src := &stubSource{report: sampleReport()}
	m := NewBoardModel(src, "alice", time.Minute)

	if !strings.Contains(m.View(), "loading") {
		t.Fatalf("expected loading view before the first fetch")
	}

	load(t, m)
	view := m.View()
	for _, want := range []string{"run-42", "market", "WRITTEN", "168", "FAILED: source_error", "btc_usdt_ohlcv ← coingecko", "binance: rate limited"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestBoardSelectionShowsDetails(t *testing.T) {
	m := NewBoardModel(&stubSource{report: sampleReport()}, "", time.Minute)
	load(t, m)

	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if !strings.Contains(m.View(), "glassnode: unauthorized") {
		t.Fatalf("expected onchain error after moving the cursor:\n%s", m.View())
	}
}

func TestBoardWithoutReport(t *testing.T) {
	m := NewBoardModel(&stubSource{err: cache.ErrNoReport}, "", time.Minute)
	load(t, m)

	if !strings.Contains(m.View(), "no run has been published yet") {
		t.Fatalf("unexpected view:\n%s", m.View())
	}
}

func TestBoardKeepsLastReportOnError(t *testing.T) {
	src := &stubSource{report: sampleReport()}
	m := NewBoardModel(src, "", time.Minute)
	load(t, m)

	src.err = errors.New("redis down")
	load(t, m)
	if !strings.Contains(m.View(), "redis down") {
		t.Fatalf("expected error in view")
	}
	if m.report.RunID != "run-42" {
		t.Fatalf("previous report should be kept")
	}
}

func TestBoardKeys(t *testing.T) {
	src := &stubSource{report: sampleReport()}
	m := NewBoardModel(src, "", time.Minute)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatalf("refresh should return a command")
	}
	if _, ok := cmd().(reportMsg); !ok || src.calls != 1 {
		t.Fatalf("refresh should fetch the latest report")
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("quit should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected quit message")
	}
}

func TestBoardSetSizeWidensLocation(t *testing.T) {
	m := NewBoardModel(&stubSource{}, "", time.Minute)
	m.SetSize(160, 40)

	cols := m.table.Columns()
	if last := cols[len(cols)-1].Width; last <= 48 {
		t.Fatalf("expected location column to grow, got %d", last)
	}
}
