package clientdata

import "time"

// TTLs per data category. Market data drives purchase decisions and goes
// stale quickly; exchange metadata changes rarely.
const (
	// TTLMarketData covers coinmarketcap listings. Thirty minutes matches
	// the cadence of rebalancing runs.
	TTLMarketData = 30 * time.Minute

	// TTLExchangeInfo covers pair listings and trading status.
	TTLExchangeInfo = 6 * time.Hour

	// TTLPrices covers spot ticker prices.
	TTLPrices = 5 * time.Minute

	// TTLKlines covers daily candle history used for momentum backfill.
	TTLKlines = 1 * time.Hour
)
