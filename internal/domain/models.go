// Package domain contains the core value objects and collaborator interfaces
// shared across the rebalancing engine. The domain layer is pure: no
// infrastructure dependencies, no I/O, and all monetary and quantity values
// are exact decimals. Binary floating point is never used for money — the
// historical float-based implementation was a recurring source of
// off-by-a-cent allocation errors.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue identifies a trading exchange on which assets can be bought.
type Venue string

const (
	VenueBinance  Venue = "binance"
	VenueCoinbase Venue = "coinbase"
)

// WeightingStrategy selects the transform applied to raw market weights
// before proportional target shares are computed.
type WeightingStrategy string

const (
	// StrategyMarketCap weights assets proportionally to market cap.
	StrategyMarketCap WeightingStrategy = "market_cap"
	// StrategySqrtMarketCap dampens the dominance of the largest assets by
	// taking the n-th root (default square root) of each market cap.
	StrategySqrtMarketCap WeightingStrategy = "sqrt_market_cap"
	// StrategySMA is reserved and not implemented. Selecting it fails the
	// index build loudly rather than silently falling back.
	StrategySMA WeightingStrategy = "sma"
)

// AssetBalance is one entry of a normalized portfolio. It is recomputed on
// every rebalancing cycle and never persisted.
type AssetBalance struct {
	Symbol      string          `json:"symbol"`
	Amount      decimal.Decimal `json:"amount"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalValue  decimal.Decimal `json:"total_value"`
	Share       decimal.Decimal `json:"share_of_portfolio"` // 0-100
	TargetShare decimal.Decimal `json:"target_share"`       // 0-100, 0 when absent from index
}

// TargetAllocation is one entry of a target index built from market data.
// TargetShare values across an index sum to 100 (modulo rounding).
type TargetAllocation struct {
	Symbol      string          `json:"symbol"`
	WeightRaw   decimal.Decimal `json:"weight_raw"` // transformed market weight
	TargetShare decimal.Decimal `json:"target_share"`
	Change7d    decimal.Decimal `json:"change_7d"`  // percent change over 7 days
	Change30d   decimal.Decimal `json:"change_30d"` // percent change over 30 days
}

// PurchaseInstruction is a bounded spend decision for a single asset,
// denominated in the reference currency. It is produced only by the
// purchase allocator and consumed by the order-execution layer.
type PurchaseInstruction struct {
	Symbol      string          `json:"symbol"`
	SpendAmount decimal.Decimal `json:"spend_amount"`
}

// MarketRecord is one raw market-data row (one asset) as delivered by the
// market-data source. Change7d/Change30d are null when the source does not
// report momentum for the asset; the caller may backfill them from price
// history before building an index.
type MarketRecord struct {
	Symbol    string
	Weight    decimal.Decimal // market capitalization in the reference currency
	Tags      []string
	Change7d  decimal.NullDecimal
	Change30d decimal.NullDecimal
}

// UserPreferences holds the per-user configuration consumed by the ranking
// and allocation passes. Stored in the settings database as JSON.
type UserPreferences struct {
	ReferenceCurrency string            `json:"reference_currency"`
	Venues            []Venue           `json:"venues"` // first entry is the primary venue
	IndexStrategy     WeightingStrategy `json:"index_strategy"`
	IndexRootExponent int64             `json:"index_root_exponent"` // 0 means default (2)
	IndexLimit        int               `json:"index_limit"`         // 0 means no cap

	PurchaseMin decimal.Decimal `json:"purchase_min"`
	PurchaseMax decimal.Decimal `json:"purchase_max"`

	ExcludedSymbols     []string       `json:"excluded_symbols"`
	ExcludedTags        []string       `json:"excluded_tags"`
	DeprioritizedCoins  []string       `json:"deprioritized_coins"`
	ExternalHoldingsRaw []AssetBalance `json:"external_holdings,omitempty"`

	// If current target share / current share exceeds this multiple, the
	// asset is purchased before anything else. Nil disables the override.
	DriftMultipleLimit *decimal.Decimal `json:"drift_multiple_limit,omitempty"`

	// If target share - current share exceeds this many percentage points,
	// the asset is forced ahead even of drift-multiple candidates.
	DriftPercentLimit *decimal.Decimal `json:"drift_percent_limit,omitempty"`
}

// PrimaryVenue returns the user's default venue, used for tie-breaking
// multi-venue purchases. Falls back to Binance when no venues are enabled.
func (p UserPreferences) PrimaryVenue() Venue {
	if len(p.Venues) == 0 {
		return VenueBinance
	}
	return p.Venues[0]
}

// IsPrimaryVenue reports whether the given venue is the user's primary one.
func (p UserPreferences) IsPrimaryVenue(v Venue) bool {
	return p.PrimaryVenue() == v
}

// DefaultPreferences returns the configuration used when a user has not
// saved any settings yet.
func DefaultPreferences() UserPreferences {
	drift := decimal.NewFromInt(5)
	return UserPreferences{
		ReferenceCurrency:  "USD",
		Venues:             []Venue{VenueBinance},
		IndexStrategy:      StrategyMarketCap,
		PurchaseMin:        decimal.NewFromInt(10),
		PurchaseMax:        decimal.NewFromInt(25),
		ExcludedTags:       []string{"wrapped-tokens", "stablecoin"},
		DeprioritizedCoins: []string{"BNB", "DOGE", "XRP", "STORJ"},
		DriftMultipleLimit: &drift,
	}
}

// OpenOrder is the subset of an exchange order relevant to purchase
// planning: assets with open orders are excluded from new purchases.
type OpenOrder struct {
	Symbol      string          `json:"symbol"`
	TradingPair string          `json:"trading_pair"`
	Side        string          `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	CreatedAt   time.Time       `json:"created_at"`
	Venue       Venue           `json:"venue"`
}
