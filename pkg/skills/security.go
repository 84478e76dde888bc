package skills

import (
	"context"
	"fmt"
	"strings"

	"starkagent/pkg/proto"
	"starkagent/pkg/router"
)

type securitySkill struct{}

func (s *securitySkill) Name() string { return "security" }

func (s *securitySkill) Profile() router.Profile {
	return router.Profile{
		Name:     s.Name(),
		Keywords: []string{"audit", "security", "scam", "rug", "safe"},
		Patterns: []string{`0x[0-9a-fA-F]{6,64}`},
		Priority: 9,
		Extract:  router.ExtractAddresses,
	}
}

// Handle screens extracted addresses through the dispatcher's reputation
// endpoints, with a local shape check when every endpoint is down.
func (s *securitySkill) Handle(ctx context.Context, decision proto.RoutingDecision, caps Capabilities) (string, error) {
	addresses := paramList(decision, "addresses")
	if len(addresses) == 0 {
		return "no contract or wallet address found in the request; paste a 0x address to screen", nil
	}

	var lines []string
	for _, addr := range addresses {
		res, err := caps.Dispatcher.Dispatch(ctx, MethodCheckAddress, map[string]any{"address": addr})
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s: %s (reputation endpoints unavailable)", shortAddr(addr), localCheck(addr)))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s via %s", shortAddr(addr), formatVerdict(res.Value), res.Endpoint))
	}
	return strings.Join(lines, "\n"), nil
}

// localCheck is the offline fallback: shape validation only, no verdict.
func localCheck(addr string) string {
	trimmed := strings.TrimPrefix(strings.ToLower(addr), "0x")
	switch len(trimmed) {
	case 40:
		return "well-formed EVM address, no reputation data"
	case 64:
		return "well-formed Starknet address, no reputation data"
	default:
		return fmt.Sprintf("unusual address length (%d hex chars)", len(trimmed))
	}
}

// formatVerdict renders an endpoint reputation payload
// {"risk": "low"|"medium"|"high", "flags": [..]}.
func formatVerdict(value any) string {
	payload, ok := value.(map[string]any)
	if !ok {
		return "unreadable reputation payload"
	}
	risk, _ := payload["risk"].(string)
	if risk == "" {
		risk = "unknown"
	}
	verdict := "risk " + risk
	if flags, ok := payload["flags"].([]any); ok && len(flags) > 0 {
		parts := make([]string, 0, len(flags))
		for _, f := range flags {
			if s, ok := f.(string); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			verdict += " (" + strings.Join(parts, ", ") + ")"
		}
	}
	return verdict
}
