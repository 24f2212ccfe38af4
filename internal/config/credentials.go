package config

import (
	"sort"
	"strings"
)

// Credential names, read from the environment exactly as written.
const (
	BinanceAPIKey   = "BINANCE_API_KEY"
	CoinGeckoAPIKey = "COINGECKO_API_KEY"
	GlassnodeAPIKey = "GLASSNODE_API_KEY"
	DuneAPIKey      = "DUNE_API_KEY"
	FREDAPIKey      = "FRED_API_KEY"
	XBearerToken    = "X_BEARER_TOKEN"
	NewsAPIKey      = "NEWSAPI_KEY"
)

var credentialNames = []string{
	BinanceAPIKey,
	CoinGeckoAPIKey,
	GlassnodeAPIKey,
	DuneAPIKey,
	FREDAPIKey,
	XBearerToken,
	NewsAPIKey,
}

// Credentials is resolved once at start-up and handed to adapters through
// their config structs.
type Credentials map[string]string

func LoadCredentials(getenv func(string) string) Credentials {
	creds := make(Credentials, len(credentialNames))
	for _, name := range credentialNames {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			creds[name] = v
		}
	}
	return creds
}

func (c Credentials) Get(name string) string {
	return c[name]
}

// Missing lists the known credentials that are not set, sorted.
func (c Credentials) Missing() []string {
	var out []string
	for _, name := range credentialNames {
		if c[name] == "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
