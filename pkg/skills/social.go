package skills

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"starkagent/pkg/proto"
	"starkagent/pkg/router"
)

type socialSkill struct{}

func (s *socialSkill) Name() string { return "social" }

func (s *socialSkill) Profile() router.Profile {
	return router.Profile{
		Name:     s.Name(),
		Keywords: []string{"trending", "sentiment", "social", "buzz"},
		Priority: 6,
		Extract:  router.ExtractTokens,
	}
}

// Handle summarises what the platform is seeing: highest-volume tokens from
// market snapshots plus the freshest whale activity.
func (s *socialSkill) Handle(_ context.Context, _ proto.RoutingDecision, caps Capabilities) (string, error) {
	snaps := caps.State.Market.List(nil, 0)
	if len(snaps) == 0 {
		return "no market data collected yet", nil
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].VolumeUSD > snaps[j].VolumeUSD })
	if len(snaps) > 5 {
		snaps = snaps[:5]
	}

	var b strings.Builder
	b.WriteString("trending by volume:\n")
	for i, snap := range snaps {
		fmt.Fprintf(&b, "%d. %s $%.4f (%+.2f%% 24h, $%.0f volume)\n",
			i+1, snap.Token, snap.PriceUSD, snap.Change24h, snap.VolumeUSD)
	}

	moves := tail(caps.State.Whales.List(nil, 0), 3)
	if len(moves) > 0 {
		b.WriteString("latest whale activity:\n")
		for _, m := range moves {
			fmt.Fprintf(&b, "%s $%.0f moved at %s\n", m.Token, m.AmountUSD, m.Timestamp.Format("15:04"))
		}
	}

	return strings.TrimRight(b.String(), "\n"), nil
}
