// Package purchase converts a ranked candidate list into bounded purchase
// instructions against the available spendable balance.
package purchase

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
	"github.com/quantfolio/quantfolio/internal/modules/portfolio"
)

var oneHundred = decimal.NewFromInt(100)

// Constraints bounds every purchase the allocator may emit.
type Constraints struct {
	// ExchangeMinimum is the venue-wide minimum order value in the
	// reference currency.
	ExchangeMinimum decimal.Decimal

	// UserMinimum / UserMaximum are the user's per-purchase floor and
	// ceiling.
	UserMinimum decimal.Decimal
	UserMaximum decimal.Decimal

	// OpenOrderSymbols are skipped outright: a pending order already
	// commits balance to them.
	OpenOrderSymbols []string

	// TradeableNow reports whether the symbol's trading pair is accepting
	// orders right now. Nil means everything is tradeable.
	TradeableNow func(symbol string) bool
}

// Allocator sizes purchases for ranked candidates.
type Allocator struct {
	log zerolog.Logger
}

// NewAllocator creates an allocator.
func NewAllocator(log zerolog.Logger) *Allocator {
	return &Allocator{
		log: log.With().Str("service", "purchase").Logger(),
	}
}

// Allocate walks the ranked candidates and emits one bounded purchase per
// affordable candidate until the balance runs out.
//
// The clamp order matters: the target-capacity and balance ceilings apply
// first, then the user and exchange floors. A floor can therefore push the
// spend back above an already-computed ceiling; when the result exceeds the
// remaining balance, the asset is skipped entirely rather than overspent.
//
// A spendable balance below the exchange minimum is an expected steady
// state and returns an empty list, not an error. A candidate without a
// target-index entry violates the pipeline contract and fails the call.
func (a *Allocator) Allocate(
	ranked []domain.TargetAllocation,
	currentPortfolio []domain.AssetBalance,
	targetIndex []domain.TargetAllocation,
	spendableBalance decimal.Decimal,
	constraints Constraints,
) ([]domain.PurchaseInstruction, error) {
	if spendableBalance.LessThan(constraints.ExchangeMinimum) {
		a.log.Info().
			Str("balance", spendableBalance.String()).
			Str("exchange_minimum", constraints.ExchangeMinimum.String()).
			Msg("not enough balance to buy anything")
		return []domain.PurchaseInstruction{}, nil
	}

	a.log.Info().
		Str("balance", spendableBalance.String()).
		Str("exchange_minimum", constraints.ExchangeMinimum.String()).
		Str("user_minimum", constraints.UserMinimum.String()).
		Msg("enough purchase currency balance")

	targetBySymbol := make(map[string]domain.TargetAllocation, len(targetIndex))
	for _, entry := range targetIndex {
		targetBySymbol[entry.Symbol] = entry
	}

	valueBySymbol := make(map[string]decimal.Decimal, len(currentPortfolio))
	for _, balance := range currentPortfolio {
		valueBySymbol[balance.Symbol] = balance.TotalValue
	}

	openOrders := make(map[string]bool, len(constraints.OpenOrderSymbols))
	for _, symbol := range constraints.OpenOrderSymbols {
		openOrders[symbol] = true
	}

	portfolioTotal := portfolio.TotalValue(currentPortfolio)
	remaining := spendableBalance
	var purchases []domain.PurchaseInstruction

	for _, candidate := range ranked {
		if openOrders[candidate.Symbol] {
			a.log.Info().Str("symbol", candidate.Symbol).Msg("already have an open order for this coin")
			continue
		}

		if constraints.TradeableNow != nil && !constraints.TradeableNow(candidate.Symbol) {
			a.log.Info().Str("symbol", candidate.Symbol).Msg("pair not trading right now, skipping")
			continue
		}

		targetEntry, ok := targetBySymbol[candidate.Symbol]
		if !ok {
			return nil, fmt.Errorf("symbol %s: %w", candidate.Symbol, domain.ErrCandidateNotInIndex)
		}

		// Remaining room under the asset's target ceiling. Negative or
		// zero room drops out naturally through the min below.
		targetAmount := targetEntry.TargetShare.Div(oneHundred).Mul(portfolioTotal).
			Sub(valueBySymbol[candidate.Symbol])

		spend := decimal.Min(remaining, targetAmount, constraints.UserMaximum)
		spend = decimal.Max(spend, constraints.UserMinimum)
		spend = decimal.Max(spend, constraints.ExchangeMinimum)

		if spend.GreaterThan(remaining) {
			a.log.Info().
				Str("symbol", candidate.Symbol).
				Str("amount", spend.String()).
				Str("balance", remaining.String()).
				Msg("not enough balance left for coin")
			continue
		}

		a.log.Info().
			Str("symbol", candidate.Symbol).
			Str("amount", spend.String()).
			Msg("adding purchase")

		purchases = append(purchases, domain.PurchaseInstruction{
			Symbol:      candidate.Symbol,
			SpendAmount: spend,
		})

		remaining = remaining.Sub(spend)
		if remaining.Sign() <= 0 {
			break
		}
	}

	return purchases, nil
}
