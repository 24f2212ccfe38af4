// Package tui renders the latest ingestion run as a terminal board.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tsingest/internal/cache"
	"tsingest/internal/domain"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const fetchTimeout = 5 * time.Second

// ReportSource returns the most recently published run.
type ReportSource interface {
	LatestReport(ctx context.Context) (domain.RunReport, error)
}

type reportMsg struct {
	report domain.RunReport
	err    error
}

type tickMsg time.Time

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	writtenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// BoardModel shows one row per domain of the latest run and the details of
// the selected row.
type BoardModel struct {
	source   ReportSource
	username string
	refresh  time.Duration

	table  table.Model
	report domain.RunReport
	err    error
	loaded bool
	width  int
}

func NewBoardModel(source ReportSource, username string, refresh time.Duration) *BoardModel {
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Domain", Width: 10},
			{Title: "State", Width: 26},
			{Title: "Rows", Width: 7},
			{Title: "Location", Width: 48},
		}),
		table.WithFocused(true),
		table.WithHeight(len(domain.AllDomains)+1),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return &BoardModel{source: source, username: username, refresh: refresh, table: t}
}

// SetSize adapts the location column to the terminal width.
func (m *BoardModel) SetSize(width, height int) {
	m.width = width
	if width <= 0 {
		return
	}
	cols := m.table.Columns()
	fixed := 0
	for _, c := range cols[:len(cols)-1] {
		fixed += c.Width + 2
	}
	if rest := width - fixed - 4; rest > 20 {
		cols[len(cols)-1].Width = rest
		m.table.SetColumns(cols)
	}
}

func (m *BoardModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m *BoardModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		report, err := m.source.LatestReport(ctx)
		return reportMsg{report: report, err: err}
	}
}

func (m *BoardModel) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *BoardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())
	case reportMsg:
		m.loaded = true
		m.err = msg.err
		if msg.err == nil {
			m.report = msg.report
			m.table.SetRows(reportRows(msg.report))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *BoardModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tsingest runs"))
	if m.username != "" {
		b.WriteString(mutedStyle.Render("  " + m.username))
	}
	b.WriteString("\n\n")

	switch {
	case !m.loaded:
		b.WriteString("loading latest run...\n")
	case errors.Is(m.err, cache.ErrNoReport):
		b.WriteString("no run has been published yet\n")
	case m.err != nil:
		b.WriteString(failedStyle.Render("error: "+m.err.Error()) + "\n")
	default:
		b.WriteString(m.header() + "\n\n")
		b.WriteString(m.table.View() + "\n\n")
		b.WriteString(m.details())
	}

	b.WriteString("\n" + mutedStyle.Render("↑/↓ select • r refresh • q quit"))
	return b.String()
}

func (m *BoardModel) header() string {
	r := m.report
	written := writtenStyle.Render(fmt.Sprintf("%d written", r.Succeeded()))
	failed := fmt.Sprintf("%d failed", r.Failed())
	if r.Failed() > 0 {
		failed = failedStyle.Render(failed)
	}
	return fmt.Sprintf("run %s  %s  %s  %s, %s",
		r.RunID,
		r.StartedAt.UTC().Format("2006-01-02 15:04:05Z"),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
		written, failed)
}

func (m *BoardModel) details() string {
	if len(m.report.Outcomes) == 0 {
		return ""
	}
	i := m.table.Cursor()
	if i < 0 || i >= len(m.report.Outcomes) {
		return ""
	}
	out := m.report.Outcomes[i]

	var b strings.Builder
	if len(out.Sources) > 0 {
		metrics := make([]string, 0, len(out.Sources))
		for metric := range out.Sources {
			metrics = append(metrics, metric)
		}
		sort.Strings(metrics)
		b.WriteString("sources:\n")
		for _, metric := range metrics {
			fmt.Fprintf(&b, "  %s ← %s\n", metric, out.Sources[metric])
		}
	}
	for _, w := range out.Warnings {
		b.WriteString(mutedStyle.Render("warning: "+w) + "\n")
	}
	if out.Error != "" {
		b.WriteString(failedStyle.Render("error: "+out.Error) + "\n")
	}
	return b.String()
}

func reportRows(r domain.RunReport) []table.Row {
	rows := make([]table.Row, 0, len(r.Outcomes))
	for _, out := range r.Outcomes {
		rows = append(rows, table.Row{
			string(out.Domain),
			out.Summary(),
			fmt.Sprintf("%d", out.Rows),
			out.Location,
		})
	}
	return rows
}
