package skills

import (
	"context"
	"fmt"
	"strings"
	"time"

	"starkagent/pkg/proto"
	"starkagent/pkg/router"
	"starkagent/pkg/state"
)

// Dispatcher methods the built-in skills race across endpoints.
const (
	MethodGetPrice     = "get_price"
	MethodCheckAddress = "check_address"
)

var defaultPriceTokens = []string{"ETH", "STRK", "BTC"}

type pricesSkill struct{}

func (s *pricesSkill) Name() string { return "prices" }

func (s *pricesSkill) Profile() router.Profile {
	return router.Profile{
		Name:     s.Name(),
		Keywords: []string{"price", "btc", "eth", "strk", "worth", "cost"},
		Patterns: []string{`\$[A-Z]+`},
		Priority: 10,
		Extract:  router.ExtractTokens,
	}
}

// Handle answers price queries: live quotes through the dispatcher, falling
// back to the last market snapshot when every endpoint is down.
func (s *pricesSkill) Handle(ctx context.Context, decision proto.RoutingDecision, caps Capabilities) (string, error) {
	tokens := paramList(decision, "tokens")
	if len(tokens) == 0 {
		tokens = defaultPriceTokens
	}

	var lines []string
	for _, token := range tokens {
		token = strings.ToUpper(token)

		res, err := caps.Dispatcher.Dispatch(ctx, MethodGetPrice, map[string]any{"token": token})
		if err == nil {
			snap, parseErr := parseSnapshot(token, res.Endpoint, res.Value)
			if parseErr == nil {
				if putErr := caps.State.Market.Put(snap); putErr != nil {
					return "", fmt.Errorf("failed to record %s snapshot: %w", token, putErr)
				}
				lines = append(lines, formatSnapshot(snap, res.Cached))
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: endpoint %s returned an unreadable quote", token, res.Endpoint))
			continue
		}

		// Stale beats nothing when the upstreams are out.
		if snap, ok := caps.State.Market.Get(token); ok {
			lines = append(lines, formatSnapshot(snap, false)+" (stale)")
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: no quote available (%v)", token, err))
	}
	return strings.Join(lines, "\n"), nil
}

// parseSnapshot reads an endpoint quote payload into a market snapshot.
// Endpoints return {"price_usd": float, "change_24h": float, "volume_usd": float}.
func parseSnapshot(token, source string, value any) (state.MarketSnapshot, error) {
	payload, ok := value.(map[string]any)
	if !ok {
		return state.MarketSnapshot{}, fmt.Errorf("quote payload is %T, not an object", value)
	}
	price, ok := asFloat(payload["price_usd"])
	if !ok {
		return state.MarketSnapshot{}, fmt.Errorf("quote payload has no price_usd")
	}
	change, _ := asFloat(payload["change_24h"])
	volume, _ := asFloat(payload["volume_usd"])
	return state.MarketSnapshot{
		Token:     token,
		PriceUSD:  price,
		Change24h: change,
		VolumeUSD: volume,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}, nil
}

func formatSnapshot(snap state.MarketSnapshot, cached bool) string {
	line := fmt.Sprintf("%s: $%.4f (%+.2f%% 24h) via %s", snap.Token, snap.PriceUSD, snap.Change24h, snap.Source)
	if cached {
		line += " (cached)"
	}
	return line
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
