package state

import (
	"fmt"
	"strings"

	"starkagent/pkg/logx"
	"starkagent/pkg/proto"
)

// Collection bounds. Sequence collections evict on overflow; the market
// collection is latest-wins per token and practically unbounded in normal use.
const (
	maxMarketTokens  = 512
	maxOpportunities = 100
	maxWhaleMoves    = 200
	maxReports       = 50
	maxContent       = 50
	maxAlerts        = 100
)

// Store is the shared state hub. Every collection is independently locked;
// cross-collection consistency exists only inside Snapshot.
type Store struct {
	logger *logx.Logger
	path   string

	Market    *Collection[MarketSnapshot]
	Arbitrage *Collection[ArbitrageOpportunity]
	Whales    *Collection[WhaleMovement]
	Research  *Collection[ResearchReport]
	Content   *Collection[ContentPiece]
	Alerts    *Collection[proto.Alert]
}

// NewStore creates an empty store that persists to path.
func NewStore(path string) *Store {
	return &Store{
		logger: logx.NewLogger("state"),
		path:   path,
		Market: NewCollection("market", Options[MarketSnapshot]{
			MaxSize: maxMarketTokens,
			Key:     func(s MarketSnapshot) string { return strings.ToUpper(s.Token) },
			Check:   checkMarketSnapshot,
		}),
		Arbitrage: NewCollection("arbitrage", Options[ArbitrageOpportunity]{
			MaxSize: maxOpportunities,
			EvictBefore: func(a, b ArbitrageOpportunity) bool {
				return a.ProfitPercent < b.ProfitPercent
			},
		}),
		Whales: NewCollection("whales", Options[WhaleMovement]{
			MaxSize: maxWhaleMoves,
			EvictBefore: func(a, b WhaleMovement) bool {
				return a.Timestamp.Before(b.Timestamp)
			},
		}),
		Research: NewCollection("research", Options[ResearchReport]{
			MaxSize: maxReports,
			EvictBefore: func(a, b ResearchReport) bool {
				return a.Timestamp.Before(b.Timestamp)
			},
		}),
		Content: NewCollection("content", Options[ContentPiece]{
			MaxSize: maxContent,
			EvictBefore: func(a, b ContentPiece) bool {
				return a.Timestamp.Before(b.Timestamp)
			},
		}),
		// Alerts form a ring: the oldest is silently discarded when full.
		Alerts: NewCollection("alerts", Options[proto.Alert]{
			MaxSize: maxAlerts,
		}),
	}
}

// checkMarketSnapshot rejects entries that would corrupt the keyed market
// collection: a missing token symbol or a non-positive price.
func checkMarketSnapshot(s MarketSnapshot) error {
	if strings.TrimSpace(s.Token) == "" {
		return fmt.Errorf("market snapshot has no token symbol")
	}
	if s.PriceUSD <= 0 {
		return fmt.Errorf("market snapshot for %s has non-positive price %f", s.Token, s.PriceUSD)
	}
	return nil
}

// PublishAlert appends an alert to the ring. It never fails and never blocks;
// producers can call it from any goroutine.
func (s *Store) PublishAlert(alert proto.Alert) {
	// The alert ring has no schema check, so Put cannot fail.
	_ = s.Alerts.Put(alert)
	if alert.Severity == proto.SeverityError || alert.Severity == proto.SeverityCritical {
		s.logger.Warn("alert %s: %v", alert.Kind, alert.Payload)
	} else {
		s.logger.Debug("alert %s: %v", alert.Kind, alert.Payload)
	}
}

// Path returns the snapshot file location.
func (s *Store) Path() string {
	return s.path
}
