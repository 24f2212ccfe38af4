package domain

import "time"

// Candle represents a single OHLCV bar before it is flattened into a table row.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// CandleColumns is the canonical market bar schema. Sources that only know a
// rolling 24h volume report it as volume_24h instead of volume.
var CandleColumns = []Column{
	{Name: "close", Kind: KindNumber},
	{Name: "high", Kind: KindNumber},
	{Name: "low", Kind: KindNumber},
	{Name: "open", Kind: KindNumber},
	{Name: "volume", Kind: KindNumber},
}

// CoinGeckoID maps exchange base assets to CoinGecko API identifiers.
var CoinGeckoID = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
}

// SentimentColumns is the canonical text record schema.
var SentimentColumns = []Column{
	{Name: "source", Kind: KindText},
	{Name: "source_id", Kind: KindText},
	{Name: "text", Kind: KindText},
	{Name: "url", Kind: KindText},
}
