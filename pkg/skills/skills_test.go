package skills

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starkagent/pkg/dispatch"
	"starkagent/pkg/proto"
	"starkagent/pkg/router"
	"starkagent/pkg/state"
)

type scriptedEndpoint struct {
	name    string
	handler func(method string, args map[string]any) (any, error)
}

func (e *scriptedEndpoint) Name() string { return e.name }

func (e *scriptedEndpoint) Call(_ context.Context, method string, args map[string]any) (any, error) {
	return e.handler(method, args)
}

func quoteEndpoint(name string, price float64) dispatch.Endpoint {
	return &scriptedEndpoint{name: name, handler: func(method string, args map[string]any) (any, error) {
		if method != MethodGetPrice {
			return nil, errors.New("unsupported method")
		}
		return map[string]any{"price_usd": price, "change_24h": 1.5, "volume_usd": 1e6}, nil
	}}
}

func deadEndpoint(name string) dispatch.Endpoint {
	return &scriptedEndpoint{name: name, handler: func(string, map[string]any) (any, error) {
		return nil, errors.New("connection refused")
	}}
}

func testCaps(t *testing.T, endpoints ...dispatch.Endpoint) Capabilities {
	t.Helper()
	return Capabilities{
		State:      state.NewStore(""),
		Dispatcher: dispatch.NewDispatcher(endpoints, dispatch.Options{}),
	}
}

func decisionFor(t *testing.T, set *Set, text string) proto.RoutingDecision {
	t.Helper()
	r := router.New()
	require.NoError(t, set.RegisterProfiles(r))
	return r.Route(proto.Message{Text: text, Timestamp: time.Now()})
}

func TestBuiltInSetRegistersCleanly(t *testing.T) {
	set, err := BuiltIn()
	require.NoError(t, err)

	names := set.Names()
	assert.Contains(t, names, "prices")
	assert.Contains(t, names, "dex-arbitrage")
	assert.Contains(t, names, "spread-arbitrage")
	assert.Contains(t, names, router.GeneralSkill)

	r := router.New()
	require.NoError(t, set.RegisterProfiles(r))
	assert.NotContains(t, r.Profiles(), router.GeneralSkill)
}

func TestNewSetRejectsDuplicates(t *testing.T) {
	_, err := NewSet(&pricesSkill{}, &pricesSkill{})
	require.Error(t, err)
}

func TestPricesSkillLiveQuote(t *testing.T) {
	set, err := BuiltIn()
	require.NoError(t, err)
	caps := testCaps(t, quoteEndpoint("dexscreener", 4200.5))

	decision := decisionFor(t, set, "what is the price of $ETH")
	require.Equal(t, "prices", decision.Skill)

	sk, ok := set.Get(decision.Skill)
	require.True(t, ok)
	out, err := sk.Handle(context.Background(), decision, caps)
	require.NoError(t, err)
	assert.Contains(t, out, "ETH: $4200.5000")
	assert.Contains(t, out, "via dexscreener")

	// The quote landed in shared state.
	snap, ok := caps.State.Market.Get("ETH")
	require.True(t, ok)
	assert.Equal(t, 4200.5, snap.PriceUSD)
}

func TestPricesSkillFallsBackToStaleSnapshot(t *testing.T) {
	set, err := BuiltIn()
	require.NoError(t, err)
	caps := testCaps(t, deadEndpoint("dexscreener"))

	require.NoError(t, caps.State.Market.Put(state.MarketSnapshot{
		Token: "ETH", PriceUSD: 4100, Source: "coingecko", Timestamp: time.Now(),
	}))

	sk, _ := set.Get("prices")
	out, err := sk.Handle(context.Background(), decisionFor(t, set, "price of $ETH"), caps)
	require.NoError(t, err)
	assert.Contains(t, out, "$4100")
	assert.Contains(t, out, "(stale)")
}

func TestWhaleSkillFiltersByToken(t *testing.T) {
	set, err := BuiltIn()
	require.NoError(t, err)
	caps := testCaps(t)

	require.NoError(t, caps.State.Whales.Put(state.WhaleMovement{
		ID: "1", Token: "ETH", AmountUSD: 2_000_000, From: "0xaaa111", To: "0xbbb222",
		TxHash: "0xccc333", Timestamp: time.Now(),
	}))
	require.NoError(t, caps.State.Whales.Put(state.WhaleMovement{
		ID: "2", Token: "STRK", AmountUSD: 900_000, From: "0xddd444", To: "0xeee555",
		TxHash: "0xfff666", Timestamp: time.Now(),
	}))

	sk, _ := set.Get("whale")
	out, err := sk.Handle(context.Background(), decisionFor(t, set, "whale moves for $STRK"), caps)
	require.NoError(t, err)
	assert.Contains(t, out, "STRK")
	assert.NotContains(t, out, "ETH $2000000")
}

func TestDexArbitrageOrdersByProfit(t *testing.T) {
	set, err := BuiltIn()
	require.NoError(t, err)
	caps := testCaps(t)

	for _, o := range []state.ArbitrageOpportunity{
		{ID: "a", Pair: "ETH/USDC", BuyVenue: "jediswap", SellVenue: "ekubo", ProfitPercent: 0.4, Timestamp: time.Now()},
		{ID: "b", Pair: "STRK/USDC", BuyVenue: "ekubo", SellVenue: "myswap", ProfitPercent: 1.9, Timestamp: time.Now()},
	} {
		require.NoError(t, caps.State.Arbitrage.Put(o))
	}

	sk, _ := set.Get("dex-arbitrage")
	out, err := sk.Handle(context.Background(), decisionFor(t, set, "any dex arbitrage opportunity?"), caps)
	require.NoError(t, err)

	strk := strings.Index(out, "STRK/USDC")
	eth := strings.Index(out, "ETH/USDC")
	require.GreaterOrEqual(t, strk, 0)
	require.GreaterOrEqual(t, eth, 0)
	assert.Less(t, strk, eth, "highest profit should be listed first")
}

func TestSpreadArbitrageComparesQuoteToSnapshot(t *testing.T) {
	set, err := BuiltIn()
	require.NoError(t, err)
	caps := testCaps(t, quoteEndpoint("coingecko", 101))

	require.NoError(t, caps.State.Market.Put(state.MarketSnapshot{
		Token: "ETH", PriceUSD: 100, Source: "dexscreener", Timestamp: time.Now(),
	}))

	sk, _ := set.Get("spread-arbitrage")
	out, err := sk.Handle(context.Background(), proto.RoutingDecision{
		Skill:  "spread-arbitrage",
		Params: map[string]string{"tokens": "ETH"},
	}, caps)
	require.NoError(t, err)
	assert.Contains(t, out, "1.000% simulated spread")
}

func TestSecuritySkillOfflineFallback(t *testing.T) {
	set, err := BuiltIn()
	require.NoError(t, err)
	caps := testCaps(t, deadEndpoint("reputation"))

	sk, _ := set.Get("security")
	out, err := sk.Handle(context.Background(), decisionFor(t, set,
		"is 0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7 safe? audit it"), caps)
	require.NoError(t, err)
	assert.Contains(t, out, "well-formed Starknet address")
}

func TestGeneralSkillWithoutModel(t *testing.T) {
	set, err := BuiltIn()
	require.NoError(t, err)
	caps := testCaps(t)

	sk, _ := set.Get(router.GeneralSkill)
	out, err := sk.Handle(context.Background(), proto.RoutingDecision{
		Skill:  router.GeneralSkill,
		Params: map[string]string{"raw": "hello"},
	}, caps)
	require.NoError(t, err)
	assert.Contains(t, out, "token prices")
}

func TestResearchSkillServesStoredReports(t *testing.T) {
	set, err := BuiltIn()
	require.NoError(t, err)
	caps := testCaps(t)

	require.NoError(t, caps.State.Research.Put(state.ResearchReport{
		ID: "r1", Topic: "starknet fees", Summary: "fees dropped after v0.13", Timestamp: time.Now(),
	}))

	sk, _ := set.Get("research")
	out, err := sk.Handle(context.Background(), proto.RoutingDecision{
		Skill:  "research",
		Params: map[string]string{"query": "starknet fees", "raw": "research starknet fees"},
	}, caps)
	require.NoError(t, err)
	assert.Contains(t, out, "fees dropped after v0.13")
}

