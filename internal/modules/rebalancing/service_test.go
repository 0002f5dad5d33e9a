package rebalancing

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/quantfolio/internal/domain"
)

type stubMarket struct {
	records []domain.MarketRecord
}

func (s *stubMarket) Listings(quote string) ([]domain.MarketRecord, error) {
	return s.records, nil
}

type stubVenue struct {
	prices     map[string]decimal.Decimal
	balances   []domain.AssetBalance
	openOrders []domain.OpenOrder
	halted     map[string]bool
}

func (s *stubVenue) PriceFor(symbol, quote string) (decimal.Decimal, error) {
	price, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (s *stubVenue) CanBuy(symbol, quote string) bool {
	_, ok := s.prices[symbol]
	return ok
}

func (s *stubVenue) IsTradingNow(pair string) bool {
	return !s.halted[pair]
}

func (s *stubVenue) MinimumNotional() decimal.Decimal {
	return decimal.NewFromInt(10)
}

func (s *stubVenue) OpenOrders() ([]domain.OpenOrder, error) {
	return s.openOrders, nil
}

func (s *stubVenue) AccountBalances() ([]domain.AssetBalance, error) {
	return s.balances, nil
}

type stubPrefs struct {
	prefs domain.UserPreferences
}

func (s *stubPrefs) Preferences(user string) (domain.UserPreferences, error) {
	return s.prefs, nil
}

func record(symbol string, cap int64) domain.MarketRecord {
	return domain.MarketRecord{Symbol: symbol, Weight: decimal.NewFromInt(cap)}
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// newTestService wires a service over a three-asset market (BTC 50%,
// ETH 30%, ADA 20% by market cap) and a venue holding 76 USD.
func newTestService(venue *stubVenue) *Service {
	market := &stubMarket{records: []domain.MarketRecord{
		record("BTC", 2000),
		record("ETH", 1200),
		record("ADA", 800),
	}}

	prefs := &stubPrefs{prefs: domain.DefaultPreferences()}

	return NewService(
		market,
		map[domain.Venue]VenueClient{domain.VenueBinance: venue},
		nil,
		prefs,
		zerolog.Nop(),
	)
}

func defaultVenue() *stubVenue {
	return &stubVenue{
		prices: map[string]decimal.Decimal{
			"BTC": d("50000"),
			"ETH": d("3000"),
			"ADA": d("0.5"),
		},
		balances: []domain.AssetBalance{
			{Symbol: "USD", Amount: d("76")},
		},
	}
}

func TestPlanPurchases_FreshPortfolio(t *testing.T) {
	svc := newTestService(defaultVenue())

	plan, err := svc.PlanPurchases("alice", nil)
	require.NoError(t, err)

	// 76 USD held, 1 reserved. Targets are 50/30/20 of a 76 USD portfolio:
	// BTC capped at the 25 ceiling, ETH and ADA sized to target capacity.
	assert.True(t, plan.SpendableBalance.Equal(d("75")))
	require.Len(t, plan.Purchases, 3)
	assert.Equal(t, "BTC", plan.Purchases[0].Symbol)
	assert.True(t, plan.Purchases[0].SpendAmount.Equal(d("25")))
	assert.Equal(t, "ETH", plan.Purchases[1].Symbol)
	assert.True(t, plan.Purchases[1].SpendAmount.Equal(d("22.8")))
	assert.Equal(t, "ADA", plan.Purchases[2].Symbol)
	assert.True(t, plan.Purchases[2].SpendAmount.Equal(d("15.2")))

	assert.Equal(t, domain.VenueBinance, plan.Venue)
	assert.NotZero(t, plan.RunID)
}

func TestPlanPurchases_BalanceOverride(t *testing.T) {
	svc := newTestService(defaultVenue())

	override := d("30")
	plan, err := svc.PlanPurchases("alice", &override)
	require.NoError(t, err)

	// 25 goes to BTC; the remaining 5 cannot cover the 10 floor for
	// anything else.
	assert.True(t, plan.SpendableBalance.Equal(d("30")))
	require.Len(t, plan.Purchases, 1)
	assert.Equal(t, "BTC", plan.Purchases[0].Symbol)
	assert.True(t, plan.Purchases[0].SpendAmount.Equal(d("25")))
}

func TestPlanPurchases_OpenOrderExcludesSymbol(t *testing.T) {
	venue := defaultVenue()
	venue.openOrders = []domain.OpenOrder{
		{TradingPair: "BTCUSD", Side: "BUY", Venue: domain.VenueBinance},
	}
	svc := newTestService(venue)

	plan, err := svc.PlanPurchases("alice", nil)
	require.NoError(t, err)

	for _, p := range plan.Purchases {
		assert.NotEqual(t, "BTC", p.Symbol)
	}
	require.NotEmpty(t, plan.Purchases)
	assert.Equal(t, "ETH", plan.Purchases[0].Symbol)
}

func TestPlanPurchases_HaltedPairSkipped(t *testing.T) {
	venue := defaultVenue()
	venue.halted = map[string]bool{"ETHUSD": true}
	svc := newTestService(venue)

	plan, err := svc.PlanPurchases("alice", nil)
	require.NoError(t, err)

	for _, p := range plan.Purchases {
		assert.NotEqual(t, "ETH", p.Symbol)
	}
}

func TestPlanPurchases_VenueNotConfigured(t *testing.T) {
	svc := newTestService(defaultVenue())
	svc.prefs = &stubPrefs{prefs: func() domain.UserPreferences {
		p := domain.DefaultPreferences()
		p.Venues = []domain.Venue{domain.VenueCoinbase}
		return p
	}()}

	_, err := svc.PlanPurchases("alice", nil)
	assert.ErrorIs(t, err, domain.ErrVenueNotConfigured)
}

func TestTargetIndex_AppliesPreferences(t *testing.T) {
	venue := defaultVenue()
	svc := newTestService(venue)
	svc.marketData = &stubMarket{records: []domain.MarketRecord{
		record("BTC", 2000),
		{Symbol: "USDT", Weight: decimal.NewFromInt(1500), Tags: []string{"stablecoin"}},
		record("ETH", 1200),
		record("ADA", 800),
	}}

	targetIndex, err := svc.TargetIndex("alice")
	require.NoError(t, err)

	require.Len(t, targetIndex, 3)
	for _, entry := range targetIndex {
		assert.NotEqual(t, "USDT", entry.Symbol)
	}
	assert.True(t, targetIndex[0].TargetShare.Equal(d("50")))
}

func TestTargetIndex_DropsUnbuyableSymbols(t *testing.T) {
	venue := defaultVenue()
	delete(venue.prices, "ADA")
	svc := newTestService(venue)

	targetIndex, err := svc.TargetIndex("alice")
	require.NoError(t, err)

	require.Len(t, targetIndex, 2)
	assert.Equal(t, "BTC", targetIndex[0].Symbol)
	assert.Equal(t, "ETH", targetIndex[1].Symbol)
}

func TestPortfolioView_SortedWithPlaceholders(t *testing.T) {
	venue := defaultVenue()
	venue.balances = []domain.AssetBalance{
		{Symbol: "USD", Amount: d("50")},
		{Symbol: "BTC", Amount: d("0.001")},
	}
	svc := newTestService(venue)

	view, err := svc.PortfolioView("alice")
	require.NoError(t, err)

	// Owned BTC and USD, plus zero-amount placeholders for ETH and ADA.
	require.Len(t, view, 4)
	assert.Equal(t, "BTC", view[0].Symbol)
	assert.True(t, view[0].TargetShare.Equal(d("50")))
	assert.Equal(t, "ETH", view[1].Symbol)
	assert.Equal(t, "ADA", view[2].Symbol)
	assert.Equal(t, "USD", view[3].Symbol)
	assert.True(t, view[3].TargetShare.IsZero())

	// Shares computed over the priced holdings: 50 USD + 50 of BTC.
	assert.True(t, view[0].Share.Equal(d("50")))
	assert.True(t, view[3].Share.Equal(d("50")))
}

func TestIndexStats(t *testing.T) {
	svc := newTestService(defaultVenue())

	stats, err := svc.IndexStats("alice")
	require.NoError(t, err)

	assert.Equal(t, 3, stats.AssetCount)
	assert.InDelta(t, 50, stats.TopShare, 1e-9)
}
