package ranking

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/domain"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func target(symbol string, share, change30d float64) domain.TargetAllocation {
	return domain.TargetAllocation{
		Symbol:      symbol,
		TargetShare: dec(share),
		Change30d:   dec(change30d),
	}
}

func held(symbol string, share, value float64) domain.AssetBalance {
	return domain.AssetBalance{
		Symbol:     symbol,
		Share:      dec(share),
		TotalValue: dec(value),
	}
}

// prefs with the overrides disabled, so individual passes can be tested in
// isolation.
func basePrefs() domain.UserPreferences {
	return domain.UserPreferences{
		ReferenceCurrency: "USD",
		PurchaseMin:       decimal.NewFromInt(10),
		PurchaseMax:       decimal.NewFromInt(25),
	}
}

func symbols(entries []domain.TargetAllocation) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Symbol
	}
	return out
}

func newTestRanker() *Ranker {
	return NewRanker(zerolog.Nop())
}

func TestRank_ExcludesAssetsAtOrAboveTarget(t *testing.T) {
	index := []domain.TargetAllocation{
		target("BTC", 40, 0),
		target("ETH", 30, 0),
		target("ADA", 30, 0),
	}
	portfolio := []domain.AssetBalance{
		held("BTC", 40, 4000), // exactly at target
		held("ETH", 35, 3500), // above target
		held("USD", 25, 2500),
	}

	ranked := newTestRanker().Rank(index, portfolio, basePrefs(), nil)

	assert.Equal(t, []string{"ADA"}, symbols(ranked))
}

func TestRank_EmptyInputsYieldEmptyOutput(t *testing.T) {
	r := newTestRanker()
	assert.Empty(t, r.Rank(nil, []domain.AssetBalance{held("USD", 100, 100)}, basePrefs(), nil))
	assert.Empty(t, r.Rank([]domain.TargetAllocation{target("BTC", 40, 0)}, nil, basePrefs(), nil))
}

func TestRank_AllocationDeltaOrdersMostUnderweightFirst(t *testing.T) {
	index := []domain.TargetAllocation{
		target("ADA", 10, 0),
		target("BTC", 40, 0),
		target("ETH", 30, 0),
	}
	// All owned above the minimum so pass 5 does not reorder; equal
	// momentum so pass 4 is a no-op.
	portfolio := []domain.AssetBalance{
		held("BTC", 5, 500),  // delta -35
		held("ETH", 10, 900), // delta -20
		held("ADA", 5, 400),  // delta -5
	}

	ranked := newTestRanker().Rank(index, portfolio, basePrefs(), nil)

	assert.Equal(t, []string{"BTC", "ETH", "ADA"}, symbols(ranked))
}

func TestRank_MomentumSupersedesAllocationDelta(t *testing.T) {
	index := []domain.TargetAllocation{
		target("BTC", 40, -2),  // delta -35, mild drop
		target("ETH", 30, -25), // delta -20, big drop
		target("ADA", 10, -10),
	}
	portfolio := []domain.AssetBalance{
		held("BTC", 5, 500),
		held("ETH", 10, 900),
		held("ADA", 5, 400),
	}

	ranked := newTestRanker().Rank(index, portfolio, basePrefs(), nil)

	// Largest 30d drop wins even though BTC is further under target.
	assert.Equal(t, []string{"ETH", "ADA", "BTC"}, symbols(ranked))
}

func TestRank_UnownedAssetsSortFirst(t *testing.T) {
	index := []domain.TargetAllocation{
		target("BTC", 40, 0),
		target("NEW", 5, 0),
		target("DUST", 5, 0),
	}
	portfolio := []domain.AssetBalance{
		held("BTC", 10, 1000),
		held("DUST", 0.05, 5), // held below the 10 minimum: treated as unowned
		held("USD", 20, 2000),
	}

	ranked := newTestRanker().Rank(index, portfolio, basePrefs(), nil)

	require.Len(t, ranked, 3)
	assert.ElementsMatch(t, []string{"NEW", "DUST"}, symbols(ranked)[:2])
	assert.Equal(t, "BTC", ranked[2].Symbol)
}

func TestRank_DriftMultipleForcesAssetForward(t *testing.T) {
	limit := decimal.NewFromInt(5)
	prefs := basePrefs()
	prefs.DriftMultipleLimit = &limit

	index := []domain.TargetAllocation{
		target("NEW", 2, 0),   // unowned, placeholder share 0.01 -> ratio 200
		target("BTC", 42, 0),  // ratio 42/6 = 7 -> forced
		target("ETH", 20, 0),  // ratio 20/15 ≈ 1.3 -> not forced
	}
	portfolio := []domain.AssetBalance{
		held("BTC", 6, 600),
		held("ETH", 15, 1500),
		held("USD", 20, 2000),
	}

	ranked := newTestRanker().Rank(index, portfolio, prefs, nil)

	// Both drifted assets come first, larger ratio first; ETH keeps its
	// pass-5 position at the back.
	assert.Equal(t, []string{"NEW", "BTC", "ETH"}, symbols(ranked))
}

func TestRank_AbsoluteDriftOutranksDriftMultiple(t *testing.T) {
	multiple := decimal.NewFromInt(5)
	points := decimal.NewFromInt(10)
	prefs := basePrefs()
	prefs.DriftMultipleLimit = &multiple
	prefs.DriftPercentLimit = &points

	index := []domain.TargetAllocation{
		target("SMALL", 2, 0), // ratio 200 via placeholder, but only 2 points of drift
		target("BTC", 40, 0),  // 25 points under target -> absolute override wins
	}
	portfolio := []domain.AssetBalance{
		held("BTC", 15, 1500),
		held("USD", 30, 3000),
	}

	ranked := newTestRanker().Rank(index, portfolio, prefs, nil)

	assert.Equal(t, []string{"BTC", "SMALL"}, symbols(ranked))
}

func TestRank_DeprioritizedSymbolsAlwaysLast(t *testing.T) {
	prefs := basePrefs()
	prefs.DeprioritizedCoins = []string{"DOGE"}

	index := []domain.TargetAllocation{
		target("DOGE", 10, -50), // biggest drop, unowned: would otherwise rank first
		target("BTC", 40, 0),
		target("ETH", 30, 0),
	}
	portfolio := []domain.AssetBalance{
		held("BTC", 10, 1000),
		held("ETH", 10, 1000),
		held("USD", 20, 2000),
	}

	ranked := newTestRanker().Rank(index, portfolio, prefs, nil)

	require.Len(t, ranked, 3)
	assert.Equal(t, "DOGE", ranked[2].Symbol)
}

func TestRank_VenueExclusivity(t *testing.T) {
	listings := map[domain.Venue]map[string]bool{
		domain.VenueBinance:  {"BTC": true, "ETH": true, "ONLY": false},
		domain.VenueCoinbase: {"BTC": true, "ONLY": true},
	}
	canBuy := func(venue domain.Venue, symbol string) bool {
		return listings[venue][symbol]
	}

	index := []domain.TargetAllocation{
		target("BTC", 40, 0),
		target("ETH", 30, 0),
		target("ONLY", 10, 0),
	}
	portfolio := []domain.AssetBalance{held("USD", 100, 1000)}

	r := newTestRanker()

	// Primary venue keeps everything it lists.
	primary := r.Rank(index, portfolio, basePrefs(), &VenueContext{
		Venue:   domain.VenueBinance,
		Primary: domain.VenueBinance,
		Enabled: []domain.Venue{domain.VenueBinance, domain.VenueCoinbase},
		CanBuy:  canBuy,
	})
	assert.ElementsMatch(t, []string{"BTC", "ETH"}, symbols(primary))

	// Non-primary venue only keeps what no other venue offers.
	secondary := r.Rank(index, portfolio, basePrefs(), &VenueContext{
		Venue:   domain.VenueCoinbase,
		Primary: domain.VenueBinance,
		Enabled: []domain.Venue{domain.VenueBinance, domain.VenueCoinbase},
		CanBuy:  canBuy,
	})
	assert.Equal(t, []string{"ONLY"}, symbols(secondary))
}

func TestRank_IsDeterministic(t *testing.T) {
	limit := decimal.NewFromInt(5)
	prefs := basePrefs()
	prefs.DriftMultipleLimit = &limit
	prefs.DeprioritizedCoins = []string{"XRP"}

	index := []domain.TargetAllocation{
		target("BTC", 40, -3),
		target("ETH", 30, -3),
		target("ADA", 10, -8),
		target("XRP", 10, -20),
		target("DOT", 5, -8),
	}
	portfolio := []domain.AssetBalance{
		held("BTC", 20, 2000),
		held("ETH", 25, 2500),
		held("USD", 30, 3000),
	}

	r := newTestRanker()
	first := r.Rank(index, portfolio, prefs, nil)
	second := r.Rank(index, portfolio, prefs, nil)

	assert.Equal(t, symbols(first), symbols(second))
}

// The spec-level scenario: fresh portfolio holding only fiat, equal momentum
// everywhere. Priority falls back to target weight via the drift ratio.
func TestRank_FreshPortfolioOrdersByTargetWeight(t *testing.T) {
	limit := decimal.NewFromInt(5)
	prefs := basePrefs()
	prefs.DriftMultipleLimit = &limit

	index := []domain.TargetAllocation{
		target("BTC", 40, 0),
		target("ETH", 30, 0),
		target("ADA", 30, 0),
	}
	portfolio := []domain.AssetBalance{held("USD", 100, 75)}

	ranked := newTestRanker().Rank(index, portfolio, prefs, nil)

	assert.Equal(t, []string{"BTC", "ETH", "ADA"}, symbols(ranked))
}
