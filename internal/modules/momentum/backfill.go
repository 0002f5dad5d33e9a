// Package momentum backfills percent-change figures that the listings
// source did not provide, from daily candle history.
package momentum

import (
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
)

// KlineSource supplies daily closing prices for a trading pair, oldest
// first.
type KlineSource interface {
	DailyCloses(pair string, days int) ([]float64, error)
}

const (
	shortPeriod = 7
	longPeriod  = 30
)

// Backfiller fills missing Change7d/Change30d values on market records.
type Backfiller struct {
	klines KlineSource
	log    zerolog.Logger
}

// NewBackfiller creates a momentum backfiller.
func NewBackfiller(klines KlineSource, log zerolog.Logger) *Backfiller {
	return &Backfiller{
		klines: klines,
		log:    log.With().Str("service", "momentum").Logger(),
	}
}

// Backfill returns a copy of records where any record missing a 7-day or
// 30-day percent change has it computed from candle history. Records whose
// history cannot be fetched keep their missing values; the ranker treats
// those as zero momentum.
func (b *Backfiller) Backfill(records []domain.MarketRecord, refCurrency string) []domain.MarketRecord {
	out := make([]domain.MarketRecord, len(records))
	copy(out, records)

	for i := range out {
		if out[i].Change7d.Valid && out[i].Change30d.Valid {
			continue
		}

		pair := out[i].Symbol + refCurrency
		closes, err := b.klines.DailyCloses(pair, longPeriod+1)
		if err != nil {
			b.log.Debug().Err(err).Str("pair", pair).Msg("no candle history, leaving momentum unset")
			continue
		}

		if !out[i].Change7d.Valid {
			out[i].Change7d = rateOfChange(closes, shortPeriod)
		}
		if !out[i].Change30d.Valid {
			out[i].Change30d = rateOfChange(closes, longPeriod)
		}
	}

	return out
}

// rateOfChange computes the percent change over the given number of days
// from a close series, ((close/close[-period])-1)*100. Returns an invalid
// NullDecimal when the series is too short.
func rateOfChange(closes []float64, period int) decimal.NullDecimal {
	if len(closes) <= period {
		return decimal.NullDecimal{}
	}

	roc := talib.Roc(closes, period)
	last := roc[len(roc)-1]

	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(last), Valid: true}
}
