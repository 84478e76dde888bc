package orch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"starkagent/pkg/agent"
	"starkagent/pkg/proto"
	"starkagent/pkg/skills"
	"starkagent/pkg/state"
)

// Alert kinds raised by the built-in watch agents.
const (
	alertMarketMove  = "market_move"
	alertVolumeSpike = "volume_spike"
)

const (
	marketPollInterval = time.Minute
	// marketMoveThreshold is the absolute 24h change that raises an alert.
	marketMoveThreshold = 10.0
	// volumeSpikeFactor flags a snapshot whose volume is this many times the
	// previous one for the same token.
	volumeSpikeFactor = 5.0
)

var watchedTokens = []string{"ETH", "STRK", "BTC"}

// newMarketWatchAgent polls the dispatcher for watched tokens and publishes
// market snapshots. Endpoint failures are survivable: the agent logs and
// keeps its cadence rather than crash-looping through the supervisor.
func (o *Orchestrator) newMarketWatchAgent() agent.Agent {
	return &agent.TickerAgent{
		AgentName: "market-watch",
		Interval:  marketPollInterval,
		Work: func(ctx context.Context) error {
			for _, token := range watchedTokens {
				res, err := o.kernel.Dispatcher.Dispatch(ctx, skills.MethodGetPrice, map[string]any{"token": token})
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					o.logger.Warn("market-watch: %s quote failed: %v", token, err)
					continue
				}
				payload, ok := res.Value.(map[string]any)
				if !ok {
					continue
				}
				price, _ := payload["price_usd"].(float64)
				change, _ := payload["change_24h"].(float64)
				volume, _ := payload["volume_usd"].(float64)
				snap := state.MarketSnapshot{
					Token:     token,
					PriceUSD:  price,
					Change24h: change,
					VolumeUSD: volume,
					Source:    res.Endpoint,
					Timestamp: time.Now().UTC(),
				}
				if err := o.kernel.State.Market.Put(snap); err != nil {
					o.logger.Warn("market-watch: rejected %s snapshot: %v", token, err)
				}
			}
			return nil
		},
	}
}

// newWhaleWatchAgent subscribes to market snapshots and raises alerts on
// whale-scale moves: outsized 24h changes and sudden volume multiples.
func (o *Orchestrator) newWhaleWatchAgent() agent.Agent {
	return &agent.Func{
		AgentName: "whale-watch",
		RunFunc: func(ctx context.Context) error {
			sub := o.kernel.State.Market.Subscribe(nil)
			defer func() {
				o.kernel.State.Market.Unsubscribe(sub)
				if n := sub.Dropped(); n > 0 {
					o.kernel.Metrics.AddDroppedNotifications("market", n)
				}
			}()

			last := make(map[string]state.MarketSnapshot)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-sub.Ch():
					if !ok {
						return nil
					}
					snap := ev.Value
					if prev, seen := last[snap.Token]; seen {
						if prev.VolumeUSD > 0 && snap.VolumeUSD >= prev.VolumeUSD*volumeSpikeFactor {
							o.kernel.PublishAlert(proto.NewAlert(alertVolumeSpike, proto.SeverityWarning, map[string]any{
								"token":      snap.Token,
								"volume_usd": snap.VolumeUSD,
								"prior_usd":  prev.VolumeUSD,
								"source":     snap.Source,
							}))
						}
					}
					if snap.Change24h >= marketMoveThreshold || snap.Change24h <= -marketMoveThreshold {
						o.kernel.PublishAlert(proto.NewAlert(alertMarketMove, proto.SeverityInfo, map[string]any{
							"token":      snap.Token,
							"change_24h": snap.Change24h,
							"price_usd":  snap.PriceUSD,
						}))
					}
					last[snap.Token] = snap
				}
			}
		},
	}
}

// newLimiterSweepAgent reclaims idle rate-limit buckets so long-gone users
// stop costing memory.
func (o *Orchestrator) newLimiterSweepAgent() agent.Agent {
	return &agent.TickerAgent{
		AgentName: "limiter-sweep",
		Interval:  limiterSweepInterval,
		Work: func(context.Context) error {
			if n := o.kernel.Limiter.Sweep(); n > 0 {
				o.logger.Debug("reclaimed %d idle rate-limit buckets", n)
			}
			return nil
		},
	}
}

// buildDailyReport summarises the day's market state into a stored content
// piece. Scheduled, not user-invoked.
func (o *Orchestrator) buildDailyReport(context.Context) error {
	snaps := o.kernel.State.Market.List(nil, 0)
	if len(snaps) == 0 {
		return fmt.Errorf("no market data to report")
	}

	var b strings.Builder
	b.WriteString("daily market report\n")
	for _, snap := range snaps {
		fmt.Fprintf(&b, "%s $%.4f (%+.2f%% 24h, $%.0f vol) via %s\n",
			snap.Token, snap.PriceUSD, snap.Change24h, snap.VolumeUSD, snap.Source)
	}
	alerts := o.kernel.State.Alerts.List(nil, 0)
	fmt.Fprintf(&b, "%d alerts in the window", len(alerts))

	piece := state.ContentPiece{
		ID:        fmt.Sprintf("daily-%s", time.Now().UTC().Format("2006-01-02")),
		Kind:      "report",
		Body:      b.String(),
		Timestamp: time.Now().UTC(),
	}
	if err := o.kernel.State.Content.Put(piece); err != nil {
		return fmt.Errorf("failed to store daily report: %w", err)
	}
	return nil
}

// snapshotState persists the store on a schedule so a crash loses at most
// one interval of writes.
func (o *Orchestrator) snapshotState(context.Context) error {
	return o.kernel.State.Save()
}
