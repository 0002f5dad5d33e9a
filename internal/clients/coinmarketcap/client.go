// Package coinmarketcap fetches market-capitalization listings used to
// build the target index. Listings are cached through clientdata; stale
// cache is served when the API is unavailable.
package coinmarketcap

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/clientdata"
	"github.com/quantfolio/quantfolio/internal/domain"
)

const (
	defaultBaseURL = "https://pro-api.coinmarketcap.com"
	listingsPath   = "/v1/cryptocurrency/listings/latest?limit=1000&sort=market_cap&convert=%s"
	cacheTable     = "coinmarketcap_listings"
)

// Client talks to the CoinMarketCap pro API.
type Client struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	cacheRepo *clientdata.Repository
	log       zerolog.Logger
}

// NewClient creates a CoinMarketCap client. cacheRepo is optional - if nil,
// caching is disabled.
func NewClient(apiKey string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   defaultBaseURL,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 15 * time.Second},
		cacheRepo: cacheRepo,
		log:       log.With().Str("client", "coinmarketcap").Logger(),
	}
}

// SetBaseURL overrides the API endpoint (tests).
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// cachedRecord is the cache representation of one listing. Decimals are
// stored as strings so the msgpack round trip is exact.
type cachedRecord struct {
	Symbol    string
	MarketCap string
	Tags      []string
	Change7d  *string
	Change30d *string
}

// listingsResponse mirrors the API shape. Numeric fields decode through
// json.Number so market caps survive without a float64 round trip.
type listingsResponse struct {
	Data []struct {
		Symbol string   `json:"symbol"`
		Tags   []string `json:"tags"`
		Quote  map[string]struct {
			MarketCap       json.Number `json:"market_cap"`
			PercentChange7d *json.Number `json:"percent_change_7d"`
			PercentChange30 *json.Number `json:"percent_change_30d"`
		} `json:"quote"`
	} `json:"data"`
}

// Listings implements domain.MarketDataSource: the top listings quoted in
// the given reference currency, largest market cap first.
func (c *Client) Listings(quote string) ([]domain.MarketRecord, error) {
	if c.cacheRepo != nil {
		if blob, err := c.cacheRepo.GetIfFresh(cacheTable, quote); err == nil && blob != nil {
			var cached []cachedRecord
			if err := clientdata.Unmarshal(blob, &cached); err == nil {
				c.log.Debug().Int("count", len(cached)).Msg("Cache hit")
				return recordsFromCache(cached)
			}
		}
	}

	records, err := c.fetch(quote)
	if err != nil {
		// API failed - serve stale cache if available
		if c.cacheRepo != nil {
			if blob, cacheErr := c.cacheRepo.Get(cacheTable, quote); cacheErr == nil && blob != nil {
				var cached []cachedRecord
				if err := clientdata.Unmarshal(blob, &cached); err == nil {
					c.log.Warn().Err(err).Msg("Listings API failed, using stale cached data")
					return recordsFromCache(cached)
				}
			}
		}
		return nil, err
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(cacheTable, quote, recordsToCache(records), clientdata.TTLMarketData); err != nil {
			c.log.Warn().Err(err).Msg("Failed to cache listings")
		}
	}

	return records, nil
}

func (c *Client) fetch(quote string) ([]domain.MarketRecord, error) {
	endpoint := c.baseURL + fmt.Sprintf(listingsPath, quote)

	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listings request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listings API returned status %d", resp.StatusCode)
	}

	var parsed listingsResponse
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse listings: %w", err)
	}

	records := make([]domain.MarketRecord, 0, len(parsed.Data))
	for _, row := range parsed.Data {
		quoteData, ok := row.Quote[quote]
		if !ok {
			c.log.Warn().Str("symbol", row.Symbol).Str("quote", quote).Msg("listing without requested quote, skipping")
			continue
		}

		weight, err := decimal.NewFromString(quoteData.MarketCap.String())
		if err != nil {
			c.log.Warn().Str("symbol", row.Symbol).Msg("listing with unparseable market cap, skipping")
			continue
		}

		records = append(records, domain.MarketRecord{
			Symbol:    row.Symbol,
			Weight:    weight,
			Tags:      row.Tags,
			Change7d:  nullDecimalFromNumber(quoteData.PercentChange7d),
			Change30d: nullDecimalFromNumber(quoteData.PercentChange30),
		})
	}

	c.log.Info().Int("count", len(records)).Str("quote", quote).Msg("Fetched listings")
	return records, nil
}

func nullDecimalFromNumber(n *json.Number) decimal.NullDecimal {
	if n == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func recordsToCache(records []domain.MarketRecord) []cachedRecord {
	cached := make([]cachedRecord, len(records))
	for i, rec := range records {
		cached[i] = cachedRecord{
			Symbol:    rec.Symbol,
			MarketCap: rec.Weight.String(),
			Tags:      rec.Tags,
			Change7d:  nullDecimalToString(rec.Change7d),
			Change30d: nullDecimalToString(rec.Change30d),
		}
	}
	return cached
}

func recordsFromCache(cached []cachedRecord) ([]domain.MarketRecord, error) {
	records := make([]domain.MarketRecord, len(cached))
	for i, row := range cached {
		weight, err := decimal.NewFromString(row.MarketCap)
		if err != nil {
			return nil, fmt.Errorf("corrupt cached market cap for %s: %w", row.Symbol, err)
		}
		records[i] = domain.MarketRecord{
			Symbol:    row.Symbol,
			Weight:    weight,
			Tags:      row.Tags,
			Change7d:  nullDecimalFromString(row.Change7d),
			Change30d: nullDecimalFromString(row.Change30d),
		}
	}
	return records, nil
}

func nullDecimalToString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func nullDecimalFromString(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
