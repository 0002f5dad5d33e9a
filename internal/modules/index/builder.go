// Package index builds a normalized target allocation from raw market data.
// The builder applies an inclusion policy (excluded symbols, excluded tags,
// venue availability, optional count cap), transforms the surviving raw
// weights with the configured weighting strategy, and normalizes the result
// so that target shares sum to 100.
package index

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
)

var oneHundred = decimal.NewFromInt(100)

// InclusionPolicy decides which market records survive into the index.
// Records failing the policy are logged and dropped, never errored.
type InclusionPolicy struct {
	ExcludedSymbols []string
	ExcludedTags    []string

	// CanBuy reports whether the asset can be purchased with the reference
	// currency on at least one of the user's enabled venues. Nil disables
	// the venue availability check.
	CanBuy func(symbol string) bool

	// Limit caps the number of assets in the index. 0 or negative means no
	// cap.
	Limit int
}

// Builder turns market records into a target index.
type Builder struct {
	log zerolog.Logger
}

// NewBuilder creates a new index builder.
func NewBuilder(log zerolog.Logger) *Builder {
	return &Builder{
		log: log.With().Str("service", "index_builder").Logger(),
	}
}

// Build constructs a target index from market records. The output preserves
// the input order of surviving records; purchase ordering happens downstream
// in the ranker.
//
// An empty result after filtering is not an error. A malformed record fails
// the whole build: a partially built index would silently misallocate
// capital.
func (b *Builder) Build(
	records []domain.MarketRecord,
	policy InclusionPolicy,
	strategy domain.WeightingStrategy,
	rootExponent int64,
) ([]domain.TargetAllocation, error) {
	if err := validateStrategy(strategy); err != nil {
		return nil, err
	}

	filtered, err := b.filter(records, policy)
	if err != nil {
		return nil, err
	}

	if len(filtered) == 0 {
		b.log.Info().Msg("no records left after filtering, index is empty")
		return []domain.TargetAllocation{}, nil
	}

	weights := make([]decimal.Decimal, len(filtered))
	totalWeight := decimal.Zero
	for i, rec := range filtered {
		w, err := transformWeight(rec.Weight, strategy, rootExponent)
		if err != nil {
			return nil, err
		}
		weights[i] = w
		totalWeight = totalWeight.Add(w)
	}

	b.log.Info().
		Int("asset_count", len(filtered)).
		Str("strategy", string(strategy)).
		Str("total_weight", totalWeight.String()).
		Msg("building target index")

	result := make([]domain.TargetAllocation, len(filtered))
	for i, rec := range filtered {
		result[i] = domain.TargetAllocation{
			Symbol:      rec.Symbol,
			WeightRaw:   weights[i],
			TargetShare: weights[i].Div(totalWeight).Mul(oneHundred),
			Change7d:    rec.Change7d.Decimal,
			Change30d:   rec.Change30d.Decimal,
		}
	}

	return result, nil
}

// filter applies the inclusion policy. Malformed records fail the build.
func (b *Builder) filter(records []domain.MarketRecord, policy InclusionPolicy) ([]domain.MarketRecord, error) {
	excludedSymbols := toSet(policy.ExcludedSymbols)
	excludedTags := toSet(policy.ExcludedTags)

	remaining := policy.Limit
	var kept []domain.MarketRecord

	for _, rec := range records {
		if rec.Symbol == "" || rec.Weight.Sign() <= 0 {
			return nil, fmt.Errorf("record %q with weight %s: %w",
				rec.Symbol, rec.Weight, domain.ErrMalformedRecord)
		}

		if tag, ok := firstMatchingTag(rec.Tags, excludedTags); ok {
			b.log.Debug().Str("symbol", rec.Symbol).Str("tag", tag).Msg("skipping, includes excluded tag")
			continue
		}

		if excludedSymbols[rec.Symbol] {
			b.log.Debug().Str("symbol", rec.Symbol).Msg("symbol excluded")
			continue
		}

		if policy.CanBuy != nil && !policy.CanBuy(rec.Symbol) {
			b.log.Debug().Str("symbol", rec.Symbol).Msg("not purchasable on any enabled venue")
			continue
		}

		kept = append(kept, rec)

		if policy.Limit > 0 {
			remaining--
			if remaining == 0 {
				break
			}
		}
	}

	b.log.Info().Int("coin_count", len(kept)).Msg("filtered coin list, used for index")
	return kept, nil
}

func validateStrategy(strategy domain.WeightingStrategy) error {
	switch strategy {
	case domain.StrategyMarketCap, domain.StrategySqrtMarketCap:
		return nil
	case domain.StrategySMA:
		return fmt.Errorf("strategy %q: %w", strategy, domain.ErrStrategyNotImplemented)
	default:
		return fmt.Errorf("strategy %q: %w", strategy, domain.ErrUnsupportedStrategy)
	}
}

// transformWeight applies the weighting strategy to one raw market weight.
func transformWeight(weight decimal.Decimal, strategy domain.WeightingStrategy, rootExponent int64) (decimal.Decimal, error) {
	switch strategy {
	case domain.StrategyMarketCap:
		return weight, nil
	case domain.StrategySqrtMarketCap:
		if rootExponent <= 0 {
			rootExponent = 2
		}
		return nthRoot(weight, rootExponent), nil
	default:
		return decimal.Zero, fmt.Errorf("strategy %q: %w", strategy, domain.ErrUnsupportedStrategy)
	}
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func firstMatchingTag(tags []string, excluded map[string]bool) (string, bool) {
	for _, tag := range tags {
		if excluded[tag] {
			return tag, true
		}
	}
	return "", false
}
