package state

import "time"

// Domain records held by the store. All records carry a UTC timestamp; the
// bounded collections evict on it unless noted otherwise.

// MarketSnapshot is the latest observed market data for one token. The market
// collection is latest-wins keyed by token symbol.
type MarketSnapshot struct {
	Token     string    `json:"token"`
	PriceUSD  float64   `json:"price_usd"`
	Change24h float64   `json:"change_24h"`
	VolumeUSD float64   `json:"volume_usd"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// ArbitrageOpportunity is a detected cross-venue spread. When the collection
// is full the lowest-profit entry is evicted first.
type ArbitrageOpportunity struct {
	ID            string    `json:"id"`
	Pair          string    `json:"pair"`
	BuyVenue      string    `json:"buy_venue"`
	SellVenue     string    `json:"sell_venue"`
	ProfitPercent float64   `json:"profit_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// WhaleMovement is a large on-chain transfer worth surfacing.
type WhaleMovement struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	AmountUSD float64   `json:"amount_usd"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	TxHash    string    `json:"tx_hash"`
	Timestamp time.Time `json:"timestamp"`
}

// ResearchReport is a completed research task summary.
type ResearchReport struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// ContentPiece is generated content awaiting review or publication.
type ContentPiece struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}
