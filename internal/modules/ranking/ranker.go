// Package ranking orders target-index entries by purchase priority.
//
// The ranker is a chain of stable filters and stable sort passes. Each pass
// only reorders where it has an opinion; ties fall back to the order left by
// the previous pass. That stability is load-bearing: it is what makes the
// final ordering deterministic and testable, and it is how the weaker early
// passes (allocation delta) still matter after the stronger late ones.
package ranking

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
)

// unownedShare stands in for the current share of an unowned asset inside
// the drift-multiple ratio. A true zero would make every unowned asset an
// infinite-drift candidate and defeat the override's purpose.
var unownedShare = decimal.NewFromFloat(0.01)

// VenueContext describes the venue a ranking run is planning purchases for.
// Nil context disables the venue-exclusivity pass (single-venue setups).
type VenueContext struct {
	Venue   domain.Venue
	Primary domain.Venue
	Enabled []domain.Venue

	// CanBuy reports whether symbol is tradeable on the given venue.
	CanBuy func(venue domain.Venue, symbol string) bool
}

// Ranker produces the purchase priority order for one rebalancing cycle.
type Ranker struct {
	log zerolog.Logger
}

// NewRanker creates a ranker.
func NewRanker(log zerolog.Logger) *Ranker {
	return &Ranker{
		log: log.With().Str("service", "ranking").Logger(),
	}
}

// Rank returns target-index entries in descending purchase priority.
//
// Pass order (later passes supersede earlier ones, ties preserve the
// previous pass's order):
//  1. drop symbols already at or above their target share
//  2. drop symbols better purchased on another venue
//  3. most-underweight first (ascending current - target)
//  4. biggest 30-day drop first (buy the dip)
//  5. unowned assets first
//  6. drift-multiple override forces runaway-drift assets to the front
//  7. absolute-drift override forces large point-drift assets ahead of that
//  8. deprioritized symbols go last, no matter what
func (r *Ranker) Rank(
	targetIndex []domain.TargetAllocation,
	portfolio []domain.AssetBalance,
	prefs domain.UserPreferences,
	venueCtx *VenueContext,
) []domain.TargetAllocation {
	r.log.Info().
		Int("target_index", len(targetIndex)).
		Int("current_portfolio", len(portfolio)).
		Msg("calculating market buy preferences")

	if len(targetIndex) == 0 || len(portfolio) == 0 {
		return []domain.TargetAllocation{}
	}

	shares := make(map[string]decimal.Decimal, len(portfolio))
	values := make(map[string]decimal.Decimal, len(portfolio))
	owned := make(map[string]bool, len(portfolio))
	for _, balance := range portfolio {
		shares[balance.Symbol] = balance.Share
		values[balance.Symbol] = balance.TotalValue
		owned[balance.Symbol] = true
	}

	// Pass 1: fully rebalanced assets are never purchased further.
	candidates := make([]domain.TargetAllocation, 0, len(targetIndex))
	for _, entry := range targetIndex {
		current := shares[entry.Symbol]
		if current.GreaterThanOrEqual(entry.TargetShare) {
			r.log.Debug().
				Str("symbol", entry.Symbol).
				Str("percentage", current.String()).
				Str("target", entry.TargetShare.String()).
				Msg("coin exceeding target, skipping")
			continue
		}
		candidates = append(candidates, entry)
	}

	// Pass 2: on a non-primary venue, only buy what no other venue offers.
	if venueCtx != nil {
		candidates = filterByVenueExclusivity(candidates, *venueCtx)
	}

	// Pass 3: most-underweight assets first. Deliberately weak; later
	// passes reorder freely on top of this baseline.
	sort.SliceStable(candidates, func(i, j int) bool {
		di := shares[candidates[i].Symbol].Sub(candidates[i].TargetShare)
		dj := shares[candidates[j].Symbol].Sub(candidates[j].TargetShare)
		return di.LessThan(dj)
	})

	// Pass 4: buy whatever dropped the most over 30 days.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Change30d.LessThan(candidates[j].Change30d)
	})

	// Pass 5: something new beats topping up an existing position. A
	// position worth less than one minimum purchase counts as unowned.
	isOwned := func(symbol string) bool {
		if !owned[symbol] {
			return false
		}
		return values[symbol].GreaterThanOrEqual(prefs.PurchaseMin)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return !isOwned(candidates[i].Symbol) && isOwned(candidates[j].Symbol)
	})

	// Pass 6: runaway drift ratio forces an asset to the front.
	if prefs.DriftMultipleLimit != nil {
		candidates = forceForward(candidates, func(entry domain.TargetAllocation) (decimal.Decimal, bool) {
			current := shares[entry.Symbol]
			if current.Sign() == 0 {
				current = unownedShare
			}
			ratio := entry.TargetShare.Div(current)
			return ratio, ratio.GreaterThan(*prefs.DriftMultipleLimit)
		})
	}

	// Pass 7: absolute point drift outranks even the multiple override.
	if prefs.DriftPercentLimit != nil {
		candidates = forceForward(candidates, func(entry domain.TargetAllocation) (decimal.Decimal, bool) {
			excess := entry.TargetShare.Sub(shares[entry.Symbol])
			return excess, excess.GreaterThan(*prefs.DriftPercentLimit)
		})
	}

	// Pass 8: user-deprioritized symbols always go last.
	deprioritized := make(map[string]bool, len(prefs.DeprioritizedCoins))
	for _, symbol := range prefs.DeprioritizedCoins {
		deprioritized[symbol] = true
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return !deprioritized[candidates[i].Symbol] && deprioritized[candidates[j].Symbol]
	})

	return candidates
}

// filterByVenueExclusivity keeps a symbol only if it is tradeable on the
// current venue and either this venue is the user's primary one or no other
// enabled venue lists the symbol. This prevents buying the same asset twice
// across venues.
func filterByVenueExclusivity(candidates []domain.TargetAllocation, ctx VenueContext) []domain.TargetAllocation {
	if ctx.CanBuy == nil {
		return candidates
	}

	kept := make([]domain.TargetAllocation, 0, len(candidates))
	for _, entry := range candidates {
		if !ctx.CanBuy(ctx.Venue, entry.Symbol) {
			continue
		}

		if ctx.Venue == ctx.Primary || !tradeableElsewhere(entry.Symbol, ctx) {
			kept = append(kept, entry)
		}
	}
	return kept
}

func tradeableElsewhere(symbol string, ctx VenueContext) bool {
	for _, venue := range ctx.Enabled {
		if venue == ctx.Venue {
			continue
		}
		if ctx.CanBuy(venue, symbol) {
			return true
		}
	}
	return false
}

// forceForward moves entries whose magnitude exceeds a threshold to the
// front, larger magnitude first. Entries under the threshold keep their
// relative order from the previous pass.
func forceForward(
	candidates []domain.TargetAllocation,
	classify func(domain.TargetAllocation) (magnitude decimal.Decimal, forced bool),
) []domain.TargetAllocation {
	type keyed struct {
		forced    bool
		magnitude decimal.Decimal
	}

	keys := make([]keyed, len(candidates))
	for i, entry := range candidates {
		magnitude, forced := classify(entry)
		keys[i] = keyed{forced: forced, magnitude: magnitude}
	}

	indices := make([]int, len(candidates))
	for i := range indices {
		indices[i] = i
	}

	sort.SliceStable(indices, func(a, b int) bool {
		ka, kb := keys[indices[a]], keys[indices[b]]
		if ka.forced != kb.forced {
			return ka.forced
		}
		if ka.forced {
			return ka.magnitude.GreaterThan(kb.magnitude)
		}
		return false
	})

	result := make([]domain.TargetAllocation, len(candidates))
	for i, idx := range indices {
		result[i] = candidates[idx]
	}
	return result
}
