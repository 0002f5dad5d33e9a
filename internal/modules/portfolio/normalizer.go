// Package portfolio normalizes raw per-venue balances into one consolidated
// holding set with values and portfolio shares attached. The functions here
// are pure and are typically invoked as an ordered pipeline:
// Merge -> Price -> WithShares -> WithMissingTargetAssets -> WithTargetShares.
package portfolio

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
)

var oneHundred = decimal.NewFromInt(100)

// Normalizer consolidates balances and computes allocation percentages.
type Normalizer struct {
	log zerolog.Logger
}

// NewNormalizer creates a portfolio normalizer.
func NewNormalizer(log zerolog.Logger) *Normalizer {
	return &Normalizer{
		log: log.With().Str("service", "portfolio").Logger(),
	}
}

// Merge combines two balance sets into one. Amounts add when a symbol
// appears in both inputs. Output order is the insertion order of the first
// input followed by symbols unique to the second.
func (n *Normalizer) Merge(a, b []domain.AssetBalance) []domain.AssetBalance {
	bySymbol := make(map[string]domain.AssetBalance, len(b))
	for _, balance := range b {
		bySymbol[balance.Symbol] = balance
	}

	seen := make(map[string]bool, len(a))
	merged := make([]domain.AssetBalance, 0, len(a)+len(b))

	for _, balance := range a {
		if other, ok := bySymbol[balance.Symbol]; ok {
			balance.Amount = balance.Amount.Add(other.Amount)
		}
		merged = append(merged, balance)
		seen[balance.Symbol] = true
	}

	for _, balance := range b {
		if !seen[balance.Symbol] {
			merged = append(merged, balance)
		}
	}

	return merged
}

// Price attaches a unit price to every balance. The reference currency
// itself always prices at 1. A missing price is a soft exclusion: the asset
// is dropped with a warning and the cycle continues, because rebalancing
// with N-1 assets beats aborting entirely.
func (n *Normalizer) Price(
	balances []domain.AssetBalance,
	refCurrency string,
	prices domain.PriceSource,
) []domain.AssetBalance {
	priced := make([]domain.AssetBalance, 0, len(balances))

	for _, balance := range balances {
		if balance.Symbol == refCurrency {
			balance.UnitPrice = decimal.New(1, 0)
			priced = append(priced, balance)
			continue
		}

		price, err := prices.PriceFor(balance.Symbol, refCurrency)
		if err != nil {
			n.log.Warn().Err(err).Str("symbol", balance.Symbol).Msg("no price found, excluding asset from this cycle")
			continue
		}

		balance.UnitPrice = price
		priced = append(priced, balance)
	}

	return priced
}

// WithShares computes total value and share of portfolio for each entry.
// Entries whose total value is strictly zero are dropped from the result.
// That drop is intentional: zero-value dust rows otherwise pollute every
// downstream percentage computation.
func (n *Normalizer) WithShares(balances []domain.AssetBalance) []domain.AssetBalance {
	total := decimal.Zero
	for _, balance := range balances {
		total = total.Add(balance.UnitPrice.Mul(balance.Amount))
	}

	result := make([]domain.AssetBalance, 0, len(balances))
	for _, balance := range balances {
		value := balance.UnitPrice.Mul(balance.Amount)
		if value.Sign() == 0 {
			continue
		}

		balance.TotalValue = value
		balance.Share = value.Div(total).Mul(oneHundred)
		result = append(result, balance)
	}

	return result
}

// WithMissingTargetAssets appends a zero-amount placeholder for every target
// index symbol absent from the portfolio, so downstream ranking considers
// unowned assets uniformly. Placeholders still need a unit price; a symbol
// without one is skipped softly.
func (n *Normalizer) WithMissingTargetAssets(
	balances []domain.AssetBalance,
	target []domain.TargetAllocation,
	refCurrency string,
	prices domain.PriceSource,
) []domain.AssetBalance {
	owned := make(map[string]bool, len(balances))
	for _, balance := range balances {
		owned[balance.Symbol] = true
	}

	result := balances
	for _, entry := range target {
		if owned[entry.Symbol] {
			continue
		}

		price, err := prices.PriceFor(entry.Symbol, refCurrency)
		if err != nil {
			n.log.Warn().Err(err).Str("symbol", entry.Symbol).Msg("no price for unowned target asset, skipping placeholder")
			continue
		}

		result = append(result, domain.AssetBalance{
			Symbol:    entry.Symbol,
			UnitPrice: price,
		})
	}

	return result
}

// WithTargetShares attaches each balance's target share by symbol lookup.
// Assets absent from the index keep a target share of zero; they may be
// held and tradeable yet intentionally excluded from the index.
func (n *Normalizer) WithTargetShares(
	balances []domain.AssetBalance,
	target []domain.TargetAllocation,
) []domain.AssetBalance {
	targetBySymbol := make(map[string]decimal.Decimal, len(target))
	for _, entry := range target {
		targetBySymbol[entry.Symbol] = entry.TargetShare
	}

	result := make([]domain.AssetBalance, len(balances))
	for i, balance := range balances {
		balance.TargetShare = targetBySymbol[balance.Symbol]
		result[i] = balance
	}

	return result
}

// TotalValue sums the total value of all balances.
func TotalValue(balances []domain.AssetBalance) decimal.Decimal {
	total := decimal.Zero
	for _, balance := range balances {
		total = total.Add(balance.TotalValue)
	}
	return total
}

// SpendableBalance returns the reference-currency holdings available for
// purchases, net of a one-unit reserve. The reserve absorbs fee rounding so
// a cycle never tries to spend the very last cent. Never negative.
func SpendableBalance(balances []domain.AssetBalance, refCurrency string) decimal.Decimal {
	total := decimal.Zero
	for _, balance := range balances {
		if balance.Symbol == refCurrency {
			total = total.Add(balance.TotalValue)
		}
	}

	spendable := total.Sub(decimal.New(1, 0))
	if spendable.Sign() < 0 {
		return decimal.Zero
	}
	return spendable
}
