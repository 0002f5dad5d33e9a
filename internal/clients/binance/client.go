// Package binance provides a read-only client for the Binance.US REST API:
// ticker prices, exchange metadata, daily klines and open orders. Responses
// are cached through clientdata so a rebalancing cycle never hammers the
// API, and stale cache is served when the API is down.
package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/clientdata"
	"github.com/quantfolio/quantfolio/internal/domain"
)

const defaultBaseURL = "https://api.binance.us"

// minimumNotional is the venue-wide minimum order value in USD. It is not
// exposed through the public API; the documented account minimum is $10.
var minimumNotional = decimal.NewFromInt(10)

// Client talks to the Binance.US public and signed endpoints.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
	cacheRepo *clientdata.Repository
	log       zerolog.Logger
}

// NewClient creates a Binance client. cacheRepo is optional - if nil,
// caching is disabled. apiKey/apiSecret are only needed for open orders;
// without them OpenOrders reports an error that callers treat softly.
func NewClient(baseURL, apiKey, apiSecret string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Timeout: 10 * time.Second},
		cacheRepo: cacheRepo,
		log:       log.With().Str("client", "binance").Logger(),
	}
}

// tickerPrice is one row of /api/v3/ticker/price.
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// exchangeSymbol is one row of /api/v3/exchangeInfo.
type exchangeSymbol struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

type exchangeInfo struct {
	Symbols []exchangeSymbol `json:"symbols"`
}

// PriceFor implements domain.PriceSource. Pair symbols follow the exchange
// convention: base asset + quote asset, e.g. "BTCUSD".
func (c *Client) PriceFor(symbol, quote string) (decimal.Decimal, error) {
	prices, err := c.allPrices()
	if err != nil {
		return decimal.Zero, err
	}

	raw, ok := prices[symbol+quote]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for pair %s%s", symbol, quote)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable price %q for %s%s: %w", raw, symbol, quote, err)
	}
	return price, nil
}

// CanBuy implements domain.VenueInfo.
func (c *Client) CanBuy(symbol, quote string) bool {
	info, err := c.getExchangeInfo()
	if err != nil {
		c.log.Warn().Err(err).Msg("exchange info unavailable, treating symbol as unbuyable")
		return false
	}

	for _, pair := range info.Symbols {
		if pair.BaseAsset == symbol && pair.QuoteAsset == quote {
			return true
		}
	}
	return false
}

// IsTradingNow implements domain.VenueInfo. Listed pairs can still be
// halted; only status TRADING accepts orders.
func (c *Client) IsTradingNow(pair string) bool {
	info, err := c.getExchangeInfo()
	if err != nil {
		c.log.Warn().Err(err).Msg("exchange info unavailable, treating pair as halted")
		return false
	}

	for _, sym := range info.Symbols {
		if sym.Symbol == pair {
			return sym.Status == "TRADING"
		}
	}

	c.log.Warn().Str("pair", pair).Msg("pair not in exchange info")
	return false
}

// MinimumNotional implements domain.VenueInfo.
func (c *Client) MinimumNotional() decimal.Decimal {
	return minimumNotional
}

// allPrices returns the full ticker map (pair -> price string), cache-first.
func (c *Client) allPrices() (map[string]string, error) {
	const table = "binance_prices"
	const key = "us"

	if c.cacheRepo != nil {
		if blob, err := c.cacheRepo.GetIfFresh(table, key); err == nil && blob != nil {
			var cached map[string]string
			if err := clientdata.Unmarshal(blob, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var tickers []tickerPrice
	if err := c.getJSON("/api/v3/ticker/price", nil, &tickers); err != nil {
		// API failed - serve stale data if we have it
		if stale := c.staleMap(table, key); stale != nil {
			c.log.Warn().Err(err).Msg("ticker API failed, using stale cached prices")
			return stale, nil
		}
		return nil, fmt.Errorf("ticker request failed: %w", err)
	}

	prices := make(map[string]string, len(tickers))
	for _, t := range tickers {
		prices[t.Symbol] = t.Price
	}

	c.store(table, key, prices, clientdata.TTLPrices)
	return prices, nil
}

// getExchangeInfo returns pair metadata, cache-first.
func (c *Client) getExchangeInfo() (*exchangeInfo, error) {
	const table = "binance_exchange_info"
	const key = "us"

	if c.cacheRepo != nil {
		if blob, err := c.cacheRepo.GetIfFresh(table, key); err == nil && blob != nil {
			var cached exchangeInfo
			if err := clientdata.Unmarshal(blob, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	var info exchangeInfo
	if err := c.getJSON("/api/v3/exchangeInfo", nil, &info); err != nil {
		if c.cacheRepo != nil {
			if blob, cacheErr := c.cacheRepo.Get(table, key); cacheErr == nil && blob != nil {
				var stale exchangeInfo
				if err := clientdata.Unmarshal(blob, &stale); err == nil {
					c.log.Warn().Msg("exchange info API failed, using stale cache")
					return &stale, nil
				}
			}
		}
		return nil, fmt.Errorf("exchange info request failed: %w", err)
	}

	c.store(table, key, info, clientdata.TTLExchangeInfo)
	return &info, nil
}

// DailyCloses returns up to `days` most recent daily closing prices for a
// pair, oldest first. Used for momentum backfill.
func (c *Client) DailyCloses(pair string, days int) ([]float64, error) {
	table := "binance_klines"

	if c.cacheRepo != nil {
		if blob, err := c.cacheRepo.GetIfFresh(table, pair); err == nil && blob != nil {
			var cached []float64
			if err := clientdata.Unmarshal(blob, &cached); err == nil && len(cached) >= days {
				return cached[len(cached)-days:], nil
			}
		}
	}

	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("interval", "1d")
	params.Set("limit", strconv.Itoa(days))

	// Each kline is a mixed-type array; close price is index 4 as string.
	var rows [][]json.RawMessage
	if err := c.getJSON("/api/v3/klines", params, &rows); err != nil {
		return nil, fmt.Errorf("klines request failed for %s: %w", pair, err)
	}

	closes := make([]float64, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		var closeStr string
		if err := json.Unmarshal(row[4], &closeStr); err != nil {
			continue
		}
		closePrice, err := strconv.ParseFloat(closeStr, 64)
		if err != nil {
			continue
		}
		closes = append(closes, closePrice)
	}

	c.store(table, pair, closes, clientdata.TTLKlines)
	return closes, nil
}

// OpenOrders implements domain.VenueInfo. Requires API credentials; the
// caller treats an error as "no open-order exclusions this cycle".
func (c *Client) OpenOrders() ([]domain.OpenOrder, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, fmt.Errorf("open orders require API credentials")
	}

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/v3/openOrders?"+c.signedQuery(url.Values{}), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open orders request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open orders returned status %d", resp.StatusCode)
	}

	var raw []struct {
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		OrigQty  string `json:"origQty"`
		Price    string `json:"price"`
		Time     int64  `json:"time"` // milliseconds
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse open orders: %w", err)
	}

	orders := make([]domain.OpenOrder, 0, len(raw))
	for _, o := range raw {
		quantity, _ := decimal.NewFromString(o.OrigQty)
		price, _ := decimal.NewFromString(o.Price)
		orders = append(orders, domain.OpenOrder{
			TradingPair: o.Symbol,
			Side:        o.Side,
			Quantity:    quantity,
			Price:       price,
			CreatedAt:   time.UnixMilli(o.Time),
			Venue:       domain.VenueBinance,
		})
	}

	return orders, nil
}

// AccountBalances returns the account's free balances as unpriced asset
// balances. Requires API credentials. Locked amounts back open orders and
// are not spendable, so they are excluded.
func (c *Client) AccountBalances() ([]domain.AssetBalance, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, fmt.Errorf("account balances require API credentials")
	}

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/v3/account?"+c.signedQuery(url.Values{}), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("account request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("account returned status %d", resp.StatusCode)
	}

	var raw struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse account balances: %w", err)
	}

	balances := make([]domain.AssetBalance, 0, len(raw.Balances))
	for _, b := range raw.Balances {
		amount, err := decimal.NewFromString(b.Free)
		if err != nil || amount.Sign() <= 0 {
			continue
		}
		balances = append(balances, domain.AssetBalance{Symbol: b.Asset, Amount: amount})
	}

	return balances, nil
}

// signedQuery encodes params with a fresh timestamp and appends the HMAC
// signature as the final parameter. The exchange verifies the signature
// against everything preceding it in the query string, so the signature
// must come last and cannot go through url.Values (which sorts keys).
func (c *Client) signedQuery(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	return query + "&signature=" + c.sign(query)
}

// sign produces the HMAC-SHA256 signature Binance requires on account
// endpoints.
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) getJSON(path string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	resp, err := c.client.Get(endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned status %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) store(table, key string, data interface{}, ttl time.Duration) {
	if c.cacheRepo == nil {
		return
	}
	if err := c.cacheRepo.Store(table, key, data, ttl); err != nil {
		c.log.Warn().Err(err).Str("table", table).Msg("Failed to cache response")
	}
}

func (c *Client) staleMap(table, key string) map[string]string {
	if c.cacheRepo == nil {
		return nil
	}
	blob, err := c.cacheRepo.Get(table, key)
	if err != nil || blob == nil {
		return nil
	}
	var cached map[string]string
	if err := clientdata.Unmarshal(blob, &cached); err != nil {
		return nil
	}
	return cached
}
