package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starkagent/pkg/fault"
	"starkagent/pkg/proto"
)

func snapAt(token string, price float64, ts time.Time) MarketSnapshot {
	return MarketSnapshot{Token: token, PriceUSD: price, Source: "test", Timestamp: ts}
}

func TestMarketLatestWins(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Market.Put(snapAt("STRK", 1.10, base)))
	require.NoError(t, s.Market.Put(snapAt("strk", 1.25, base.Add(time.Minute))))

	got, ok := s.Market.Get("STRK")
	require.True(t, ok)
	assert.Equal(t, 1.25, got.PriceUSD)
	assert.Equal(t, 1, s.Market.Len())
	assert.Equal(t, uint64(2), s.Market.Revision())
}

func TestMarketSchemaCheck(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))

	err := s.Market.Put(MarketSnapshot{Token: "", PriceUSD: 1})
	require.Error(t, err)
	assert.Equal(t, fault.KindStateOverflow, fault.KindOf(err))

	err = s.Market.Put(MarketSnapshot{Token: "ETH", PriceUSD: 0})
	require.Error(t, err)
	assert.Equal(t, fault.KindStateOverflow, fault.KindOf(err))
	assert.Equal(t, uint64(0), s.Market.Revision())
}

func TestArbitrageEvictsLowestProfit(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < maxOpportunities; i++ {
		require.NoError(t, s.Arbitrage.Put(ArbitrageOpportunity{
			ID:            "op",
			Pair:          "ETH/USDC",
			ProfitPercent: 1.0 + float64(i),
			Timestamp:     base,
		}))
	}
	// The next insert pushes out the lowest-profit entry (1.0), not the oldest.
	require.NoError(t, s.Arbitrage.Put(ArbitrageOpportunity{
		ID:            "big",
		Pair:          "STRK/USDC",
		ProfitPercent: 500,
		Timestamp:     base,
	}))

	assert.Equal(t, maxOpportunities, s.Arbitrage.Len())
	lowest := s.Arbitrage.List(func(o ArbitrageOpportunity) bool {
		return o.ProfitPercent < 2.0
	}, 0)
	assert.Empty(t, lowest)
}

func TestWhalesEvictOldest(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < maxWhaleMoves+10; i++ {
		require.NoError(t, s.Whales.Put(WhaleMovement{
			ID:        "w",
			Token:     "ETH",
			AmountUSD: 1_000_000,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	assert.Equal(t, maxWhaleMoves, s.Whales.Len())
	remaining := s.Whales.List(nil, 0)
	for _, w := range remaining {
		assert.False(t, w.Timestamp.Before(base.Add(10*time.Second)))
	}
}

func TestSubscriberReceivesRevisions(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))
	sub := s.Whales.Subscribe(nil)
	defer s.Whales.Unsubscribe(sub)

	require.NoError(t, s.Whales.Put(WhaleMovement{ID: "a", Token: "ETH"}))
	require.NoError(t, s.Whales.Put(WhaleMovement{ID: "b", Token: "STRK"}))

	first := <-sub.Ch()
	second := <-sub.Ch()
	assert.Equal(t, uint64(1), first.Revision)
	assert.Equal(t, "a", first.Value.ID)
	assert.Equal(t, uint64(2), second.Revision)
	assert.Equal(t, "b", second.Value.ID)
}

func TestSubscriberPredicateFilters(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))
	sub := s.Whales.Subscribe(func(w WhaleMovement) bool {
		return w.AmountUSD >= 1_000_000
	})
	defer s.Whales.Unsubscribe(sub)

	require.NoError(t, s.Whales.Put(WhaleMovement{ID: "small", AmountUSD: 10}))
	require.NoError(t, s.Whales.Put(WhaleMovement{ID: "big", AmountUSD: 5_000_000}))

	ev := <-sub.Ch()
	assert.Equal(t, "big", ev.Value.ID)
	assert.Len(t, sub.Ch(), 0)
}

func TestSlowSubscriberLosesOldest(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))
	sub := s.Whales.Subscribe(nil)
	defer s.Whales.Unsubscribe(sub)

	total := DefaultSubscriberBuffer + 20
	for i := 0; i < total; i++ {
		require.NoError(t, s.Whales.Put(WhaleMovement{ID: "w", AmountUSD: float64(i)}))
	}

	assert.Equal(t, uint64(20), sub.Dropped())
	// The first delivered event is the oldest survivor, not revision 1.
	ev := <-sub.Ch()
	assert.Equal(t, uint64(21), ev.Revision)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	s := NewStore(path)
	require.NoError(t, s.Market.Put(snapAt("ETH", 3100.50, base)))
	require.NoError(t, s.Arbitrage.Put(ArbitrageOpportunity{ID: "op1", Pair: "ETH/USDC", ProfitPercent: 1.4, Timestamp: base}))
	require.NoError(t, s.Research.Put(ResearchReport{ID: "r1", Topic: "restaking", Summary: "ok", Timestamp: base}))
	require.NoError(t, s.Save())

	restored := NewStore(path)
	require.NoError(t, restored.Load())

	eth, ok := restored.Market.Get("ETH")
	require.True(t, ok)
	assert.Equal(t, 3100.50, eth.PriceUSD)
	assert.Equal(t, 1, restored.Arbitrage.Len())
	assert.Equal(t, 1, restored.Research.Len())
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Market.Len())
	assert.Equal(t, 0, s.Alerts.Len())
}

func TestLoadMalformedFilePublishesAlert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := NewStore(path)
	require.NoError(t, s.Load())

	alerts := s.Alerts.List(nil, 0)
	require.Len(t, alerts, 1)
	assert.Equal(t, proto.AlertStateLoadError, alerts[0].Kind)
	assert.Equal(t, 0, s.Market.Len())
}

func TestLoadUnsupportedVersionPublishesAlert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99}`), 0644))

	s := NewStore(path)
	require.NoError(t, s.Load())

	alerts := s.Alerts.List(nil, 0)
	require.Len(t, alerts, 1)
	assert.Equal(t, proto.AlertStateVersion, alerts[0].Kind)
}

func TestSaveIsAtomicOverExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := NewStore(path)
	require.NoError(t, s.Market.Put(snapAt("BTC", 65000, time.Now().UTC())))
	require.NoError(t, s.Save())
	require.NoError(t, s.Market.Put(snapAt("BTC", 66000, time.Now().UTC())))
	require.NoError(t, s.Save())

	restored := NewStore(path)
	require.NoError(t, restored.Load())
	btc, ok := restored.Market.Get("BTC")
	require.True(t, ok)
	assert.Equal(t, 66000.0, btc.PriceUSD)

	// No temp files linger after a successful save.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAlertRingBounded(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.json"))
	for i := 0; i < maxAlerts+25; i++ {
		s.PublishAlert(proto.NewAlert(proto.AlertAgentError, proto.SeverityInfo, nil))
	}
	assert.Equal(t, maxAlerts, s.Alerts.Len())
}
