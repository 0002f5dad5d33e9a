package index

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/domain"
)

func record(symbol string, weight int64, tags ...string) domain.MarketRecord {
	return domain.MarketRecord{
		Symbol: symbol,
		Weight: decimal.NewFromInt(weight),
		Tags:   tags,
	}
}

func newTestBuilder() *Builder {
	return NewBuilder(zerolog.Nop())
}

func TestBuild_MarketCapWeighting(t *testing.T) {
	records := []domain.MarketRecord{
		record("BTC", 800),
		record("ETH", 150),
		record("ADA", 50),
	}

	result, err := newTestBuilder().Build(records, InclusionPolicy{}, domain.StrategyMarketCap, 0)
	require.NoError(t, err)
	require.Len(t, result, 3)

	assert.Equal(t, "BTC", result[0].Symbol)
	assert.True(t, result[0].TargetShare.Equal(decimal.NewFromInt(80)),
		"BTC share should be 80, got %s", result[0].TargetShare)
	assert.True(t, result[1].TargetShare.Equal(decimal.NewFromInt(15)))
	assert.True(t, result[2].TargetShare.Equal(decimal.NewFromInt(5)))
}

func TestBuild_TargetSharesSumTo100(t *testing.T) {
	records := []domain.MarketRecord{
		record("BTC", 123456789),
		record("ETH", 98765432),
		record("ADA", 1234567),
		record("SOL", 7654321),
		record("DOT", 999999),
	}

	for _, strategy := range []domain.WeightingStrategy{domain.StrategyMarketCap, domain.StrategySqrtMarketCap} {
		result, err := newTestBuilder().Build(records, InclusionPolicy{}, strategy, 0)
		require.NoError(t, err)

		sum := decimal.Zero
		for _, entry := range result {
			sum = sum.Add(entry.TargetShare)
		}

		epsilon := decimal.New(1, -9) // 1e-9
		assert.True(t, sum.Sub(decimal.NewFromInt(100)).Abs().LessThan(epsilon),
			"strategy %s: shares sum to %s, want 100", strategy, sum)
	}
}

func TestBuild_SqrtDampensDominance(t *testing.T) {
	// Square-root weighting on caps [100, 25] gives transformed weights
	// [10, 5] and shares [66.67, 33.33] instead of [80, 20].
	records := []domain.MarketRecord{
		record("BTC", 100),
		record("ETH", 25),
	}

	result, err := newTestBuilder().Build(records, InclusionPolicy{}, domain.StrategySqrtMarketCap, 0)
	require.NoError(t, err)
	require.Len(t, result, 2)

	assert.True(t, result[0].WeightRaw.Equal(decimal.NewFromInt(10)),
		"sqrt(100) should be 10, got %s", result[0].WeightRaw)
	assert.True(t, result[1].WeightRaw.Equal(decimal.NewFromInt(5)),
		"sqrt(25) should be 5, got %s", result[1].WeightRaw)

	assert.Equal(t, "66.67", result[0].TargetShare.Round(2).String())
	assert.Equal(t, "33.33", result[1].TargetShare.Round(2).String())
}

func TestBuild_CustomRootExponent(t *testing.T) {
	records := []domain.MarketRecord{
		record("BTC", 1000),
		record("ETH", 8),
	}

	// Cube root: 1000 -> 10, 8 -> 2.
	result, err := newTestBuilder().Build(records, InclusionPolicy{}, domain.StrategySqrtMarketCap, 3)
	require.NoError(t, err)

	assert.Equal(t, "10", result[0].WeightRaw.Round(6).String())
	assert.Equal(t, "2", result[1].WeightRaw.Round(6).String())
}

func TestBuild_InclusionPolicy(t *testing.T) {
	records := []domain.MarketRecord{
		record("BTC", 800),
		record("USDT", 300, "stablecoin"),
		record("DOGE", 100),
		record("WBTC", 90, "wrapped-tokens"),
		record("XMR", 50),
	}

	policy := InclusionPolicy{
		ExcludedSymbols: []string{"DOGE"},
		ExcludedTags:    []string{"stablecoin", "wrapped-tokens"},
		CanBuy: func(symbol string) bool {
			return symbol != "XMR" // not listed on the venue
		},
	}

	result, err := newTestBuilder().Build(records, policy, domain.StrategyMarketCap, 0)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "BTC", result[0].Symbol)
	assert.True(t, result[0].TargetShare.Equal(decimal.NewFromInt(100)))
}

func TestBuild_CountCap(t *testing.T) {
	records := []domain.MarketRecord{
		record("BTC", 500),
		record("ETH", 300),
		record("ADA", 200),
	}

	result, err := newTestBuilder().Build(records, InclusionPolicy{Limit: 2}, domain.StrategyMarketCap, 0)
	require.NoError(t, err)
	require.Len(t, result, 2)

	// Shares are normalized over the capped set, not the full input.
	assert.Equal(t, "62.5", result[0].TargetShare.String())
	assert.Equal(t, "37.5", result[1].TargetShare.String())
}

func TestBuild_EmptyAfterFilteringIsNotAnError(t *testing.T) {
	records := []domain.MarketRecord{record("USDT", 100, "stablecoin")}

	result, err := newTestBuilder().Build(records, InclusionPolicy{
		ExcludedTags: []string{"stablecoin"},
	}, domain.StrategyMarketCap, 0)

	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestBuild_MalformedRecordFailsWholeBuild(t *testing.T) {
	tests := []struct {
		name    string
		records []domain.MarketRecord
	}{
		{
			name: "missing symbol",
			records: []domain.MarketRecord{
				record("BTC", 100),
				{Symbol: "", Weight: decimal.NewFromInt(50)},
			},
		},
		{
			name: "non-positive weight",
			records: []domain.MarketRecord{
				record("BTC", 100),
				{Symbol: "ETH", Weight: decimal.Zero},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newTestBuilder().Build(tt.records, InclusionPolicy{}, domain.StrategyMarketCap, 0)
			assert.ErrorIs(t, err, domain.ErrMalformedRecord)
			assert.Nil(t, result)
		})
	}
}

func TestBuild_ReservedStrategyFailsLoudly(t *testing.T) {
	records := []domain.MarketRecord{record("BTC", 100)}

	_, err := newTestBuilder().Build(records, InclusionPolicy{}, domain.StrategySMA, 0)
	assert.ErrorIs(t, err, domain.ErrStrategyNotImplemented)

	_, err = newTestBuilder().Build(records, InclusionPolicy{}, domain.WeightingStrategy("bogus"), 0)
	assert.ErrorIs(t, err, domain.ErrUnsupportedStrategy)
}

func TestBuild_StableOutputOrder(t *testing.T) {
	records := []domain.MarketRecord{
		record("ETH", 300),
		record("BTC", 800),
		record("ADA", 50),
	}

	first, err := newTestBuilder().Build(records, InclusionPolicy{}, domain.StrategyMarketCap, 0)
	require.NoError(t, err)
	second, err := newTestBuilder().Build(records, InclusionPolicy{}, domain.StrategyMarketCap, 0)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Symbol, second[i].Symbol)
	}
	// Input order is preserved; the builder does not sort.
	assert.Equal(t, "ETH", first[0].Symbol)
	assert.Equal(t, "BTC", first[1].Symbol)
	assert.Equal(t, "ADA", first[2].Symbol)
}

func TestComputeStats(t *testing.T) {
	records := []domain.MarketRecord{
		record("BTC", 50),
		record("ETH", 50),
	}
	result, err := newTestBuilder().Build(records, InclusionPolicy{}, domain.StrategyMarketCap, 0)
	require.NoError(t, err)

	stats := ComputeStats(result)
	assert.Equal(t, 2, stats.AssetCount)
	assert.InDelta(t, 50.0, stats.TopShare, 1e-9)
	assert.InDelta(t, 0.5, stats.Herfindahl, 1e-9)
	assert.InDelta(t, 2.0, stats.EffectiveCount, 1e-9)
	assert.InDelta(t, 50.0, stats.MeanShare, 1e-9)

	assert.Equal(t, Stats{}, ComputeStats(nil))
}
