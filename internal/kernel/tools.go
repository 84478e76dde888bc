package kernel

import (
	"context"
	"fmt"
	"strings"

	"starkagent/pkg/dispatch"
	"starkagent/pkg/metrics"
	"starkagent/pkg/skills"
	"starkagent/pkg/state"
	"starkagent/pkg/tools"
)

// The built-in tool catalog the model can call. Every tool is a thin wrapper
// over a capability handle; the model never reaches runtime internals.

type getPriceTool struct {
	dispatcher *dispatch.Dispatcher
}

func (t *getPriceTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "get_price",
		Description: "Fetch the current USD price, 24h change, and volume for a token symbol.",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"token": {Type: "string", Description: "Token ticker symbol, e.g. ETH or STRK"},
			},
			Required: []string{"token"},
		},
	}
}

func (t *getPriceTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	token, _ := args["token"].(string)
	res, err := t.dispatcher.Dispatch(ctx, skills.MethodGetPrice, map[string]any{"token": strings.ToUpper(token)})
	if err != nil {
		return nil, fmt.Errorf("price lookup failed: %w", err)
	}
	payload, ok := res.Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("endpoint %s returned an unreadable quote", res.Endpoint)
	}
	out := map[string]any{"token": strings.ToUpper(token), "source": res.Endpoint}
	for k, v := range payload {
		out[k] = v
	}
	return out, nil
}

type listWhalesTool struct {
	store *state.Store
}

func (t *listWhalesTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "list_whale_movements",
		Description: "List recent large on-chain transfers, optionally filtered by token symbol.",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"token": {Type: "string", Description: "Optional token ticker filter"},
				"limit": {Type: "integer", Description: "Maximum movements to return (default 10)"},
			},
		},
	}
}

func (t *listWhalesTool) Exec(_ context.Context, args map[string]any) (map[string]any, error) {
	token, _ := args["token"].(string)
	limit := 10
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}

	moves := t.store.Whales.List(func(m state.WhaleMovement) bool {
		return token == "" || strings.EqualFold(m.Token, token)
	}, 0)
	if len(moves) > limit {
		moves = moves[len(moves)-limit:]
	}

	out := make([]map[string]any, 0, len(moves))
	for _, m := range moves {
		out = append(out, map[string]any{
			"token":      m.Token,
			"amount_usd": m.AmountUSD,
			"from":       m.From,
			"to":         m.To,
			"tx_hash":    m.TxHash,
			"timestamp":  m.Timestamp,
		})
	}
	return map[string]any{"movements": out}, nil
}

type listArbitrageTool struct {
	store *state.Store
}

func (t *listArbitrageTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "list_arbitrage_opportunities",
		Description: "List currently tracked DEX arbitrage opportunities with profit estimates.",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"min_profit_percent": {Type: "number", Description: "Only include opportunities at or above this profit"},
			},
		},
	}
}

func (t *listArbitrageTool) Exec(_ context.Context, args map[string]any) (map[string]any, error) {
	minProfit, _ := args["min_profit_percent"].(float64)

	opps := t.store.Arbitrage.List(func(o state.ArbitrageOpportunity) bool {
		return o.ProfitPercent >= minProfit
	}, 0)

	out := make([]map[string]any, 0, len(opps))
	for _, o := range opps {
		out = append(out, map[string]any{
			"pair":           o.Pair,
			"buy_venue":      o.BuyVenue,
			"sell_venue":     o.SellVenue,
			"profit_percent": o.ProfitPercent,
		})
	}
	return map[string]any{"opportunities": out}, nil
}

// registerBuiltinTools fills the catalog. The registry seals on first loop
// run, so this happens during kernel construction only.
func registerBuiltinTools(registry *tools.Registry, store *state.Store, dispatcher *dispatch.Dispatcher, rec *metrics.Recorder) error {
	for _, tool := range []tools.Tool{
		&getPriceTool{dispatcher: dispatcher},
		&listWhalesTool{store: store},
		&listArbitrageTool{store: store},
	} {
		if err := registry.Register(&instrumentedTool{Tool: tool, rec: rec}); err != nil {
			return err
		}
	}
	return nil
}
