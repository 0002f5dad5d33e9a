// Package rebalancing orchestrates one full planning cycle: build the
// target index from market data, normalize the user's holdings, rank the
// buy candidates and size bounded purchases against the spendable balance.
// The package only plans; it never places orders.
package rebalancing

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
	"github.com/quantfolio/quantfolio/internal/modules/index"
	"github.com/quantfolio/quantfolio/internal/modules/portfolio"
	"github.com/quantfolio/quantfolio/internal/modules/purchase"
	"github.com/quantfolio/quantfolio/internal/modules/ranking"
)

// VenueClient is the full venue surface the planning cycle needs: prices,
// pair metadata and the account's holdings and open orders.
type VenueClient interface {
	domain.PriceSource
	domain.VenueInfo
	AccountBalances() ([]domain.AssetBalance, error)
}

// MomentumBackfiller fills missing percent-change values on market records.
type MomentumBackfiller interface {
	Backfill(records []domain.MarketRecord, refCurrency string) []domain.MarketRecord
}

// PreferenceSource loads per-user rebalancing preferences.
type PreferenceSource interface {
	Preferences(user string) (domain.UserPreferences, error)
}

// Plan is the outcome of one planning cycle for one user.
type Plan struct {
	RunID            uuid.UUID                    `json:"run_id"`
	User             string                       `json:"user"`
	Venue            domain.Venue                 `json:"venue"`
	GeneratedAt      time.Time                    `json:"generated_at"`
	SpendableBalance decimal.Decimal              `json:"spendable_balance"`
	Purchases        []domain.PurchaseInstruction `json:"purchases"`
}

// Service runs planning cycles.
type Service struct {
	marketData domain.MarketDataSource
	venues     map[domain.Venue]VenueClient
	momentum   MomentumBackfiller
	prefs      PreferenceSource

	builder    *index.Builder
	normalizer *portfolio.Normalizer
	ranker     *ranking.Ranker
	allocator  *purchase.Allocator

	// Planning runs for the same user are serialized: a scheduled run and
	// an API-triggered run must not interleave.
	mu        sync.Mutex
	userLocks map[string]*sync.Mutex

	log zerolog.Logger
}

// NewService wires a rebalancing service. momentum may be nil, in which
// case missing percent changes stay unset.
func NewService(
	marketData domain.MarketDataSource,
	venues map[domain.Venue]VenueClient,
	momentum MomentumBackfiller,
	prefs PreferenceSource,
	log zerolog.Logger,
) *Service {
	return &Service{
		marketData: marketData,
		venues:     venues,
		momentum:   momentum,
		prefs:      prefs,
		builder:    index.NewBuilder(log),
		normalizer: portfolio.NewNormalizer(log),
		ranker:     ranking.NewRanker(log),
		allocator:  purchase.NewAllocator(log),
		userLocks:  make(map[string]*sync.Mutex),
		log:        log.With().Str("service", "rebalancing").Logger(),
	}
}

func (s *Service) lockFor(user string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.userLocks[user]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[user] = lock
	}
	return lock
}

// TargetIndex builds the user's target index from current market data.
func (s *Service) TargetIndex(user string) ([]domain.TargetAllocation, error) {
	prefs, err := s.prefs.Preferences(user)
	if err != nil {
		return nil, err
	}
	return s.buildIndex(prefs)
}

// IndexStats builds the user's target index and returns concentration
// diagnostics for it.
func (s *Service) IndexStats(user string) (index.Stats, error) {
	targetIndex, err := s.TargetIndex(user)
	if err != nil {
		return index.Stats{}, err
	}
	return index.ComputeStats(targetIndex), nil
}

// PortfolioView returns the user's consolidated holdings with shares and
// target shares attached, largest target first.
func (s *Service) PortfolioView(user string) ([]domain.AssetBalance, error) {
	prefs, err := s.prefs.Preferences(user)
	if err != nil {
		return nil, err
	}

	targetIndex, err := s.buildIndex(prefs)
	if err != nil {
		return nil, err
	}

	view, err := s.normalizedPortfolio(prefs, targetIndex)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(view, func(i, j int) bool {
		return view[i].TargetShare.GreaterThan(view[j].TargetShare)
	})
	return view, nil
}

// PlanPurchases runs a full planning cycle for the user on their primary
// venue. balanceOverride, when non-nil, replaces the spendable balance
// derived from holdings; it lets the API answer "what would you buy with
// X" without touching the account.
func (s *Service) PlanPurchases(user string, balanceOverride *decimal.Decimal) (*Plan, error) {
	lock := s.lockFor(user)
	lock.Lock()
	defer lock.Unlock()

	prefs, err := s.prefs.Preferences(user)
	if err != nil {
		return nil, err
	}

	venue := prefs.PrimaryVenue()
	client, ok := s.venues[venue]
	if !ok {
		return nil, domain.ErrVenueNotConfigured
	}

	targetIndex, err := s.buildIndex(prefs)
	if err != nil {
		return nil, err
	}

	currentPortfolio, err := s.normalizedPortfolio(prefs, targetIndex)
	if err != nil {
		return nil, err
	}

	spendable := portfolio.SpendableBalance(currentPortfolio, prefs.ReferenceCurrency)
	if balanceOverride != nil {
		spendable = *balanceOverride
	}

	ranked := s.ranker.Rank(targetIndex, currentPortfolio, prefs, s.venueContext(venue, prefs))

	constraints := purchase.Constraints{
		ExchangeMinimum:  client.MinimumNotional(),
		UserMinimum:      prefs.PurchaseMin,
		UserMaximum:      prefs.PurchaseMax,
		OpenOrderSymbols: s.openOrderSymbols(client, prefs.ReferenceCurrency),
		TradeableNow: func(symbol string) bool {
			return client.IsTradingNow(symbol + prefs.ReferenceCurrency)
		},
	}

	purchases, err := s.allocator.Allocate(ranked, currentPortfolio, targetIndex, spendable, constraints)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		RunID:            uuid.New(),
		User:             user,
		Venue:            venue,
		GeneratedAt:      time.Now().UTC(),
		SpendableBalance: spendable,
		Purchases:        purchases,
	}

	s.log.Info().
		Str("run_id", plan.RunID.String()).
		Str("user", user).
		Int("purchases", len(purchases)).
		Str("spendable", spendable.String()).
		Msg("Rebalancing plan generated")

	return plan, nil
}

// buildIndex fetches market data, backfills momentum and builds the index
// per the user's preferences.
func (s *Service) buildIndex(prefs domain.UserPreferences) ([]domain.TargetAllocation, error) {
	records, err := s.marketData.Listings(prefs.ReferenceCurrency)
	if err != nil {
		return nil, err
	}

	if s.momentum != nil {
		records = s.momentum.Backfill(records, prefs.ReferenceCurrency)
	}

	policy := index.InclusionPolicy{
		ExcludedSymbols: prefs.ExcludedSymbols,
		ExcludedTags:    prefs.ExcludedTags,
		Limit:           prefs.IndexLimit,
		CanBuy: func(symbol string) bool {
			for _, venue := range prefs.Venues {
				if client, ok := s.venues[venue]; ok && client.CanBuy(symbol, prefs.ReferenceCurrency) {
					return true
				}
			}
			return false
		},
	}

	return s.builder.Build(records, policy, prefs.IndexStrategy, prefs.IndexRootExponent)
}

// normalizedPortfolio consolidates venue holdings and configured external
// holdings into the standard pipeline output. A venue whose balances are
// unreadable contributes nothing rather than failing the cycle.
func (s *Service) normalizedPortfolio(
	prefs domain.UserPreferences,
	targetIndex []domain.TargetAllocation,
) ([]domain.AssetBalance, error) {
	venue := prefs.PrimaryVenue()
	client, ok := s.venues[venue]
	if !ok {
		return nil, domain.ErrVenueNotConfigured
	}

	merged := prefs.ExternalHoldingsRaw
	for _, v := range prefs.Venues {
		vc, ok := s.venues[v]
		if !ok {
			continue
		}
		balances, err := vc.AccountBalances()
		if err != nil {
			s.log.Warn().Err(err).Str("venue", string(v)).Msg("Venue balances unavailable, continuing without them")
			continue
		}
		merged = s.normalizer.Merge(merged, balances)
	}

	priced := s.normalizer.Price(merged, prefs.ReferenceCurrency, client)
	shared := s.normalizer.WithShares(priced)
	filled := s.normalizer.WithMissingTargetAssets(shared, targetIndex, prefs.ReferenceCurrency, client)
	return s.normalizer.WithTargetShares(filled, targetIndex), nil
}

// venueContext is non-nil only for multi-venue users; single-venue setups
// skip the exclusivity pass entirely.
func (s *Service) venueContext(venue domain.Venue, prefs domain.UserPreferences) *ranking.VenueContext {
	if len(prefs.Venues) <= 1 {
		return nil
	}
	return &ranking.VenueContext{
		Venue:   venue,
		Primary: prefs.PrimaryVenue(),
		Enabled: prefs.Venues,
		CanBuy: func(v domain.Venue, symbol string) bool {
			client, ok := s.venues[v]
			if !ok {
				return false
			}
			return client.CanBuy(symbol, prefs.ReferenceCurrency)
		},
	}
}

// openOrderSymbols maps the venue's open orders back to base asset symbols.
// Missing credentials or an API failure yield no exclusions.
func (s *Service) openOrderSymbols(client VenueClient, refCurrency string) []string {
	orders, err := client.OpenOrders()
	if err != nil {
		s.log.Debug().Err(err).Msg("Open orders unavailable, no open-order exclusions")
		return nil
	}

	symbols := make([]string, 0, len(orders))
	for _, order := range orders {
		symbol := order.Symbol
		if symbol == "" {
			symbol = strings.TrimSuffix(order.TradingPair, refCurrency)
		}
		if symbol != "" {
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}
