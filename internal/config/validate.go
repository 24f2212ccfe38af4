package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that required settings are present and in range.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if c.RunTimeout <= 0 {
		return errors.New("run_timeout must be > 0")
	}
	if c.SourceTimeout < 0 {
		return errors.New("source_timeout must be >= 0")
	}
	if c.ScheduleInterval < 0 {
		return errors.New("schedule_interval must be >= 0")
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if c.Retry.Multiplier <= 0 {
		return errors.New("retry.multiplier must be > 0")
	}
	if c.Retry.Min < 0 || c.Retry.Max <= 0 {
		return errors.New("retry.min must be >= 0 and retry.max must be > 0")
	}
	if c.Retry.Min > c.Retry.Max {
		return fmt.Errorf("retry.min (%s) cannot exceed retry.max (%s)", c.Retry.Min, c.Retry.Max)
	}

	if c.Market.Symbol == "" {
		return errors.New("market.symbol is required")
	}
	if c.Market.LookbackDays < 1 {
		return errors.New("market.lookback_days must be >= 1")
	}
	if c.Market.Limit < 1 || c.Market.Limit > 1000 {
		return fmt.Errorf("market.limit must be between 1 and 1000, got %d", c.Market.Limit)
	}
	if c.OnChain.LookbackDays < 1 {
		return errors.New("onchain.lookback_days must be >= 1")
	}
	if c.OnChain.DuneQueryID < 0 {
		return errors.New("onchain.dune_query_id must be >= 0")
	}
	if c.Macro.FREDSeries == "" {
		return errors.New("macro.fred_series is required")
	}
	if c.Macro.LookbackDays < 1 {
		return errors.New("macro.lookback_days must be >= 1")
	}
	if c.Sentiment.LookbackHours < 1 {
		return errors.New("sentiment.lookback_hours must be >= 1")
	}
	if c.Sentiment.Limit < 10 || c.Sentiment.Limit > 100 {
		return fmt.Errorf("sentiment.limit must be between 10 and 100, got %d", c.Sentiment.Limit)
	}

	for name, artifact := range map[string]string{
		"market.artifact":    c.Market.Artifact,
		"onchain.artifact":   c.OnChain.Artifact,
		"macro.artifact":     c.Macro.Artifact,
		"sentiment.artifact": c.Sentiment.Artifact,
	} {
		if strings.TrimSpace(artifact) == "" || strings.ContainsAny(artifact, `/\`) {
			return fmt.Errorf("%s must be a plain file name, got %q", name, artifact)
		}
	}
	return nil
}
