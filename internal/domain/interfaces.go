package domain

import "github.com/shopspring/decimal"

// PriceSource resolves the unit price of an asset in a quote currency.
// Implementations are expected to be cache-backed; the engine never calls
// the network directly.
type PriceSource interface {
	// PriceFor returns the price of one unit of symbol in the quote
	// currency. A missing price is an error; callers treat it as a soft
	// exclusion, not a fatal condition.
	PriceFor(symbol, quote string) (decimal.Decimal, error)
}

// VenueInfo answers tradability questions for one venue. It backs both the
// index inclusion policy (is the asset listed at all?) and the allocator's
// tradeable-now predicate (is the pair accepting orders right now?).
type VenueInfo interface {
	// CanBuy reports whether the symbol can be bought with the quote
	// currency on this venue.
	CanBuy(symbol, quote string) bool

	// IsTradingNow reports whether the trading pair is currently accepting
	// orders (listed pairs can be halted).
	IsTradingNow(pair string) bool

	// MinimumNotional returns the venue-wide minimum order value in the
	// quote currency.
	MinimumNotional() decimal.Decimal

	// OpenOrders returns the user's open orders on this venue. An error is
	// a soft condition: planning continues without open-order exclusions.
	OpenOrders() ([]OpenOrder, error)
}

// MarketDataSource delivers the raw market snapshot the target index is
// built from.
type MarketDataSource interface {
	// Listings returns market records quoted in the given reference
	// currency, largest market cap first.
	Listings(quote string) ([]MarketRecord, error)
}
