package pipeline

import (
	"strings"
	"time"

	"tsingest/internal/config"
	"tsingest/internal/domain"
	"tsingest/internal/fallback"
	"tsingest/internal/normalize"
	"tsingest/internal/provider"
	"tsingest/internal/retry"
	"tsingest/internal/snapshot"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Deps carries the shared collaborators every pipeline is built with.
type Deps struct {
	Tracer   trace.Tracer
	Logger   *zap.Logger
	Resolver ChainResolver
	Writer   snapshot.Writer
	// Gate caps in-flight requests per provider; nil when running sequentially.
	Gate *provider.Gate
}

// Build turns the configuration into one pipeline per domain, in run order.
func Build(cfg *config.Config, deps Deps) []DomainRunner {
	domains := Domains(cfg, deps.Tracer, deps.Gate)
	runners := make([]DomainRunner, 0, len(domains))
	for _, d := range domains {
		runners = append(runners, NewPipeline(d, deps.Resolver, deps.Writer, deps.Tracer, deps.Logger))
	}
	return runners
}

// Domains wires adapters into fallback chains for every domain.
func Domains(cfg *config.Config, tracer trace.Tracer, gate *provider.Gate) []Domain {
	b := builder{cfg: cfg, tracer: tracer, gate: gate}
	byID := map[domain.ID]Domain{
		domain.Market:    b.market(),
		domain.OnChain:   b.onChain(),
		domain.Macro:     b.macro(),
		domain.Sentiment: b.sentiment(),
	}
	out := make([]Domain, 0, len(domain.AllDomains))
	for _, id := range domain.AllDomains {
		out = append(out, byID[id])
	}
	return out
}

type builder struct {
	cfg    *config.Config
	tracer trace.Tracer
	gate   *provider.Gate
}

func (b builder) candidate(a provider.Adapter, params provider.Params) fallback.Candidate {
	a = provider.WithTimeout(a, b.cfg.SourceTimeout)
	return fallback.Candidate{Adapter: b.gate.Wrap(a), Params: params}
}

func (b builder) market() Domain {
	m := b.cfg.Market
	creds := b.cfg.Credentials
	binance := provider.NewBinanceKlines(b.tracer, provider.BinanceConfig{
		APIKey:    creds.Get(config.BinanceAPIKey),
		Symbol:    m.Symbol,
		Timeframe: m.Timeframe,
		Limit:     m.Limit,
		Priority:  0,
	})
	coingecko := provider.NewCoinGeckoChart(b.tracer, provider.CoinGeckoConfig{
		APIKey:    creds.Get(config.CoinGeckoAPIKey),
		CoinID:    m.CoinID,
		Timeframe: m.Timeframe,
		Priority:  1,
	})
	return Domain{
		ID:       domain.Market,
		Artifact: m.Artifact,
		Chains: []fallback.Chain{
			fallback.NewChain("btc_usdt_ohlcv", b.candidate(binance, nil), b.candidate(coingecko, nil)),
		},
		Strategy: normalize.OuterJoin,
		Window:   func(now time.Time) domain.Window { return domain.LastDays(now, m.LookbackDays) },
	}
}

func (b builder) onChain() Domain {
	oc := b.cfg.OnChain
	creds := b.cfg.Credentials
	candidates := []fallback.Candidate{
		b.candidate(provider.NewGlassnode(b.tracer, provider.GlassnodeConfig{
			APIKey:   creds.Get(config.GlassnodeAPIKey),
			Asset:    oc.Asset,
			Metric:   oc.Metric,
			Priority: 0,
		}), nil),
	}
	// Dune needs a saved query; without one the chain skips straight to the public charts.
	if oc.DuneQueryID > 0 {
		candidates = append(candidates, b.candidate(provider.NewDune(b.tracer, provider.DuneConfig{
			APIKey:   creds.Get(config.DuneAPIKey),
			QueryID:  oc.DuneQueryID,
			Priority: 1,
		}), nil))
	}
	candidates = append(candidates, b.candidate(provider.NewBlockchainCharts(b.tracer, provider.BlockchainChartsConfig{
		Chart:    oc.BlockchainChart,
		Priority: 2,
	}), nil))

	return Domain{
		ID:       domain.OnChain,
		Artifact: oc.Artifact,
		Chains:   []fallback.Chain{fallback.NewChain("btc_active_addresses", candidates...)},
		Strategy: normalize.OuterJoin,
		Window:   func(now time.Time) domain.Window { return domain.LastDays(now, oc.LookbackDays) },
	}
}

func (b builder) macro() Domain {
	mc := b.cfg.Macro
	fred := provider.NewFRED(b.tracer, provider.FREDConfig{
		APIKey:   b.cfg.Credentials.Get(config.FREDAPIKey),
		SeriesID: mc.FREDSeries,
		Column:   "dxy",
	})
	yahoo := provider.NewYahooChart(b.tracer, provider.YahooConfig{
		Symbol:   mc.EquitySymbol,
		Prefix:   "sp500",
		Priority: 0,
	})
	stooq := provider.NewStooqCSV(b.tracer, provider.StooqConfig{
		Symbol:   mc.StooqSymbol,
		Prefix:   "sp500",
		Priority: 1,
	})
	return Domain{
		ID:       domain.Macro,
		Artifact: mc.Artifact,
		Chains: []fallback.Chain{
			fallback.NewChain("dxy", b.candidate(fred, nil)),
			fallback.NewChain("sp500", b.candidate(yahoo, nil), b.candidate(stooq, nil)),
		},
		Strategy: normalize.OuterJoin,
		Window:   func(now time.Time) domain.Window { return domain.LastDays(now, mc.LookbackDays) },
	}
}

func (b builder) sentiment() Domain {
	sc := b.cfg.Sentiment
	creds := b.cfg.Credentials

	x := provider.NewXRecentSearch(b.tracer, provider.XConfig{
		BearerToken: creds.Get(config.XBearerToken),
		Query:       sc.Query + " -is:retweet lang:en",
		MaxResults:  sc.Limit,
	})
	chains := []fallback.Chain{fallback.NewChain("x", b.candidate(x, nil))}

	// One chain per subreddit so every listing lands in the snapshot.
	reddit := provider.NewRedditPosts(b.tracer, provider.RedditConfig{Limit: sc.Limit})
	for _, sub := range sc.Subreddits {
		sub = strings.TrimPrefix(strings.TrimSpace(sub), "r/")
		if sub == "" {
			continue
		}
		chains = append(chains, fallback.NewChain("reddit/"+sub,
			b.candidate(reddit, provider.Params{"subreddit": sub})))
	}

	news := []fallback.Candidate{
		b.candidate(provider.NewNewsAPI(b.tracer, provider.NewsAPIConfig{
			APIKey:   creds.Get(config.NewsAPIKey),
			Query:    sc.Query,
			PageSize: sc.Limit,
			Priority: 0,
		}), nil),
	}
	for _, feed := range sc.NewsFeeds {
		if feed = strings.TrimSpace(feed); feed == "" {
			continue
		}
		rss := provider.NewRSSFeed(b.tracer, provider.RSSConfig{FeedURL: feed, MaxItems: sc.Limit, Priority: 1})
		news = append(news, b.candidate(rss, nil))
	}
	chains = append(chains, fallback.NewChain("news", news...))

	fearGreed := provider.NewFearGreedIndex(b.tracer, provider.FearGreedConfig{})
	chains = append(chains, fallback.NewChain("fear_greed", b.candidate(fearGreed, nil)))

	return Domain{
		ID:       domain.Sentiment,
		Artifact: sc.Artifact,
		Chains:   chains,
		Strategy: normalize.Concatenate,
		Window:   func(now time.Time) domain.Window { return domain.LastHours(now, sc.LookbackHours) },
	}
}

// RetryPolicy converts the configured backoff settings.
func RetryPolicy(cfg config.RetryConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.Multiplier > 0 {
		policy.Multiplier = cfg.Multiplier
	}
	if cfg.Min > 0 {
		policy.Min = cfg.Min
	}
	if cfg.Max > 0 {
		policy.Max = cfg.Max
	}
	return policy
}

// FromConfig assembles the orchestrator a process runs. publisher may be nil.
func FromConfig(cfg *config.Config, tracer trace.Tracer, logger *zap.Logger, writer snapshot.Writer, publisher ReportPublisher) *Orchestrator {
	var gate *provider.Gate
	if cfg.Parallel {
		gate = provider.NewGate(1)
	}
	runners := Build(cfg, Deps{
		Tracer:   tracer,
		Logger:   logger,
		Resolver: fallback.NewResolver(tracer, logger, RetryPolicy(cfg.Retry)),
		Writer:   writer,
		Gate:     gate,
	})
	return NewOrchestrator(runners, Options{
		Parallel:   cfg.Parallel,
		RunTimeout: cfg.RunTimeout,
		Publisher:  publisher,
		Tracer:     tracer,
		Logger:     logger,
	})
}
