package skills

import (
	"context"
	"errors"
	"strings"

	"starkagent/pkg/proto"
	"starkagent/pkg/router"
)

const generalSystemPrompt = `You are the assistant behind a Starknet automation platform.
Answer briefly. For prices, whales, arbitrage, audits, or content requests,
point the user at the matching command phrasing so the router picks it up.`

type generalSkill struct{}

func (s *generalSkill) Name() string { return router.GeneralSkill }

// Profile exists to satisfy the contract; the general skill is the router's
// confidence-floor fallback and never competes on keywords.
func (s *generalSkill) Profile() router.Profile {
	return router.Profile{Name: router.GeneralSkill}
}

// Handle answers anything that cleared no profile: through the model when
// configured, otherwise a capability summary.
func (s *generalSkill) Handle(ctx context.Context, decision proto.RoutingDecision, caps Capabilities) (string, error) {
	answer, err := caps.complete(ctx, generalSystemPrompt, decision.Params["raw"])
	if err == nil {
		return answer, nil
	}
	if !errors.Is(err, ErrNoModel) {
		return "", err
	}

	return strings.Join([]string{
		"I can help with:",
		"- token prices (\"price of $ETH\")",
		"- whale movements (\"whale moves for $STRK\")",
		"- DEX arbitrage and exchange spreads",
		"- address screening (paste a 0x address)",
		"- research and content drafting (needs a configured model)",
	}, "\n"), nil
}
