package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finchlabs/portfolio-ledger/internal/models"
)

// digitalAssetIDs maps short exchange symbols to the canonical asset
// identifiers the digital-asset service understands. Only mapped symbols are
// queried; everything else is skipped silently.
var digitalAssetIDs = map[string]string{
	"ADA":   "cardano",
	"AVAX":  "avalanche-2",
	"BCH":   "bitcoin-cash",
	"BTC":   "bitcoin",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"ETH":   "ethereum",
	"LINK":  "chainlink",
	"LTC":   "litecoin",
	"MATIC": "matic-network",
	"SOL":   "solana",
	"UNI":   "uniswap",
	"XLM":   "stellar",
	"XRP":   "ripple",
}

// DigitalClient fetches batch quotes for digital assets. The service is
// keyed by canonical asset id and returns prices per quote currency.
type DigitalClient struct {
	baseURL  string
	currency string
	client   *http.Client
	log      zerolog.Logger
}

// NewDigitalClient creates a digital-asset quote client quoting in USD
func NewDigitalClient(baseURL string, timeout time.Duration, log zerolog.Logger) *DigitalClient {
	return &DigitalClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		currency: "usd",
		client:   &http.Client{Timeout: timeout},
		log:      log.With().Str("component", "quotes-digital").Logger(),
	}
}

// Name identifies the source in sync messages and cache keys
func (c *DigitalClient) Name() string { return "digital" }

// Filter keeps only the tickers present in the symbol mapping table
func (c *DigitalClient) Filter(tickers []string) []string {
	var mapped []string
	for _, t := range tickers {
		if _, ok := digitalAssetIDs[strings.ToUpper(t)]; ok {
			mapped = append(mapped, t)
		}
	}
	return mapped
}

// FetchQuotes requests one batched price lookup for all mapped tickers
func (c *DigitalClient) FetchQuotes(ctx context.Context, tickers []string) ([]models.PriceQuote, error) {
	ids := make([]string, 0, len(tickers))
	idToTicker := make(map[string]string, len(tickers))
	for _, t := range tickers {
		upper := strings.ToUpper(t)
		id, ok := digitalAssetIDs[upper]
		if !ok {
			continue
		}
		ids = append(ids, id)
		idToTicker[id] = upper
	}
	if len(ids) == 0 {
		return nil, nil
	}

	addr := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		c.baseURL, url.QueryEscape(strings.Join(ids, ",")), c.currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch digital quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("digital quote service returned %s", resp.Status)
	}

	var payload map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode digital quotes: %w", err)
	}

	now := time.Now()
	var result []models.PriceQuote
	for id, prices := range payload {
		ticker, ok := idToTicker[id]
		if !ok {
			continue
		}
		price, ok := prices[c.currency]
		if !ok {
			continue
		}
		result = append(result, models.PriceQuote{
			Ticker:     ticker,
			AssetClass: models.AssetClassCrypto,
			UnitPrice:  price,
			Source:     c.Name(),
			FetchedAt:  now,
		})
	}
	c.log.Debug().Int("requested", len(ids)).Int("returned", len(result)).Msg("fetched digital quotes")
	return result, nil
}
