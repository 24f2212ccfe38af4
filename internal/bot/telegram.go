package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tsingest/internal/cache"
	"tsingest/internal/domain"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

const commandTimeout = 30 * time.Minute

// Runner triggers ingestion runs.
type Runner interface {
	Run(ctx context.Context) domain.RunReport
	RunDomain(ctx context.Context, id domain.ID) (domain.RunReport, error)
}

// ReportReader returns the latest published run.
type ReportReader interface {
	LatestReport(ctx context.Context) (domain.RunReport, error)
}

type registrar interface {
	Handle(endpoint interface{}, h tele.HandlerFunc, m ...tele.MiddlewareFunc)
}

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// NewTelegramBot creates a long-polling bot. It does not start polling.
func NewTelegramBot(token string) (*tele.Bot, error) {
	return tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
}

// Commands answers chat commands about ingestion runs.
type Commands struct {
	runner  Runner
	reports ReportReader
	logger  *zap.Logger
}

func NewCommands(runner Runner, reports ReportReader, logger *zap.Logger) *Commands {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Commands{runner: runner, reports: reports, logger: logger}
}

// Register installs /ping, /status and /run on b.
func (c *Commands) Register(b registrar) {
	b.Handle("/ping", func(ctx tele.Context) error {
		return ctx.Send("pong")
	})
	b.Handle("/status", func(ctx tele.Context) error {
		return ctx.Send(c.Status(context.Background()))
	})
	b.Handle("/run", func(ctx tele.Context) error {
		return ctx.Send(c.Run(context.Background(), ctx.Args()))
	})
}

// Status renders the latest published run.
func (c *Commands) Status(ctx context.Context) string {
	if c.reports == nil {
		return "Run reports are not stored (redis_url is not set)."
	}
	report, err := c.reports.LatestReport(ctx)
	if errors.Is(err, cache.ErrNoReport) {
		return "No run has been published yet."
	}
	if err != nil {
		c.logger.Warn("telegram status failed", zap.Error(err))
		return fmt.Sprintf("Error reading the latest run: %v", err)
	}
	return FormatReport(report)
}

// Run triggers a run for every domain or for the one named in args and
// replies with its report.
func (c *Commands) Run(ctx context.Context, args []string) string {
	if c.runner == nil {
		return "Ingestion runner unavailable."
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if len(args) == 0 || strings.EqualFold(args[0], "all") {
		return FormatReport(c.runner.Run(ctx))
	}
	id, err := domain.ParseID(args[0])
	if err != nil {
		return fmt.Sprintf("Usage: /run [all|%s]", strings.Join(domainNames(), "|"))
	}
	report, err := c.runner.RunDomain(ctx, id)
	if err != nil {
		return err.Error()
	}
	return FormatReport(report)
}

// Notifier pushes every finished run to one chat.
type Notifier struct {
	sender sender
	chat   tele.ChatID
}

func NewNotifier(s sender, chatID int64) *Notifier {
	return &Notifier{sender: s, chat: tele.ChatID(chatID)}
}

func (n *Notifier) SaveReport(_ context.Context, report domain.RunReport) error {
	if _, err := n.sender.Send(n.chat, FormatReport(report)); err != nil {
		return fmt.Errorf("send telegram report: %w", err)
	}
	return nil
}

// FormatReport renders one line per domain.
func FormatReport(r domain.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %d written, %d failed\n", shortID(r.RunID), r.Succeeded(), r.Failed())
	for _, out := range r.Outcomes {
		if out.Succeeded() {
			fmt.Fprintf(&b, "✅ %s: %d rows\n", out.Domain, out.Rows)
			continue
		}
		fmt.Fprintf(&b, "❌ %s: %s\n", out.Domain, out.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func domainNames() []string {
	names := make([]string, len(domain.AllDomains))
	for i, id := range domain.AllDomains {
		names[i] = string(id)
	}
	return names
}
