package skills

import (
	"context"
	"fmt"
	"strings"

	"starkagent/pkg/proto"
	"starkagent/pkg/router"
	"starkagent/pkg/state"
)

type whaleSkill struct{}

func (s *whaleSkill) Name() string { return "whale" }

func (s *whaleSkill) Profile() router.Profile {
	return router.Profile{
		Name:     s.Name(),
		Keywords: []string{"whale", "movement", "large transfer", "wallet"},
		Patterns: []string{`0x[0-9a-fA-F]{6,64}`},
		Priority: 9,
		Extract:  combine(router.ExtractAddresses, router.ExtractTokens),
	}
}

// Handle reports recent whale movements on record, filtered by extracted
// token or address when present.
func (s *whaleSkill) Handle(_ context.Context, decision proto.RoutingDecision, caps Capabilities) (string, error) {
	tokens := paramList(decision, "tokens")
	addresses := paramList(decision, "addresses")

	moves := caps.State.Whales.List(func(m state.WhaleMovement) bool {
		if len(tokens) == 0 && len(addresses) == 0 {
			return true
		}
		for _, t := range tokens {
			if strings.EqualFold(m.Token, t) {
				return true
			}
		}
		for _, a := range addresses {
			if strings.EqualFold(m.From, a) || strings.EqualFold(m.To, a) {
				return true
			}
		}
		return false
	}, 0)
	moves = tail(moves, 10)

	if len(moves) == 0 {
		return "no matching whale movements on record", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d recent whale movements:\n", len(moves))
	for _, m := range moves {
		fmt.Fprintf(&b, "[%s] %s $%.0f %s -> %s (tx %s)\n",
			m.Timestamp.Format("15:04"), m.Token, m.AmountUSD, shortAddr(m.From), shortAddr(m.To), shortAddr(m.TxHash))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func shortAddr(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:8] + "…" + addr[len(addr)-4:]
}
