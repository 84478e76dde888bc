package skills

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"starkagent/pkg/proto"
	"starkagent/pkg/router"
	"starkagent/pkg/state"
)

// The original platform hid real-DEX quotes and simulated exchange spreads
// behind one code path. Here they are two named skills so the caller always
// knows which signal they got.

type dexArbitrageSkill struct{}

func (s *dexArbitrageSkill) Name() string { return "dex-arbitrage" }

func (s *dexArbitrageSkill) Profile() router.Profile {
	return router.Profile{
		Name:     s.Name(),
		Keywords: []string{"arbitrage", "dex", "swap", "opportunity"},
		Priority: 9,
		Extract:  router.ExtractTokens,
	}
}

// Handle lists live DEX opportunities collected in shared state, highest
// profit first.
func (s *dexArbitrageSkill) Handle(_ context.Context, decision proto.RoutingDecision, caps Capabilities) (string, error) {
	tokens := paramList(decision, "tokens")

	opps := caps.State.Arbitrage.List(func(o state.ArbitrageOpportunity) bool {
		if len(tokens) == 0 {
			return true
		}
		for _, t := range tokens {
			if strings.Contains(strings.ToUpper(o.Pair), strings.ToUpper(t)) {
				return true
			}
		}
		return false
	}, 0)

	if len(opps) == 0 {
		return "no DEX arbitrage opportunities on record", nil
	}

	sort.Slice(opps, func(i, j int) bool { return opps[i].ProfitPercent > opps[j].ProfitPercent })
	if len(opps) > 5 {
		opps = opps[:5]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "top %d DEX opportunities:\n", len(opps))
	for _, o := range opps {
		fmt.Fprintf(&b, "%s: buy %s, sell %s, +%.2f%%\n", o.Pair, o.BuyVenue, o.SellVenue, o.ProfitPercent)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type spreadArbitrageSkill struct{}

func (s *spreadArbitrageSkill) Name() string { return "spread-arbitrage" }

func (s *spreadArbitrageSkill) Profile() router.Profile {
	return router.Profile{
		Name:     s.Name(),
		Keywords: []string{"spread", "cex", "exchange", "premium"},
		Priority: 7,
		Extract:  router.ExtractTokens,
	}
}

// Handle estimates the spread between a fresh aggregator quote and the last
// recorded snapshot for each token. This is a simulated signal, not a DEX
// order-book reading, and says so in its output.
func (s *spreadArbitrageSkill) Handle(ctx context.Context, decision proto.RoutingDecision, caps Capabilities) (string, error) {
	tokens := paramList(decision, "tokens")
	if len(tokens) == 0 {
		tokens = defaultPriceTokens
	}

	var lines []string
	for _, token := range tokens {
		token = strings.ToUpper(token)

		prev, ok := caps.State.Market.Get(token)
		if !ok {
			lines = append(lines, fmt.Sprintf("%s: no reference snapshot yet", token))
			continue
		}

		res, err := caps.Dispatcher.Dispatch(ctx, MethodGetPrice, map[string]any{"token": token})
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s: quote unavailable (%v)", token, err))
			continue
		}
		fresh, parseErr := parseSnapshot(token, res.Endpoint, res.Value)
		if parseErr != nil {
			lines = append(lines, fmt.Sprintf("%s: unreadable quote from %s", token, res.Endpoint))
			continue
		}

		spread := 0.0
		if prev.PriceUSD > 0 {
			spread = (fresh.PriceUSD - prev.PriceUSD) / prev.PriceUSD * 100
		}
		lines = append(lines, fmt.Sprintf("%s: %.3f%% simulated spread (%s $%.4f vs %s $%.4f)",
			token, math.Abs(spread), fresh.Source, fresh.PriceUSD, prev.Source, prev.PriceUSD))
	}
	return strings.Join(lines, "\n"), nil
}
