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

// ListedClient fetches batch quotes for exchange-listed securities. The
// service accepts a comma-separated symbol list and returns one price per
// known symbol.
type ListedClient struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewListedClient creates a listed-security quote client. The timeout bounds
// every request; a stalled upstream fails fast instead of blocking the sync.
func NewListedClient(baseURL string, timeout time.Duration, log zerolog.Logger) *ListedClient {
	return &ListedClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "quotes-listed").Logger(),
	}
}

// Name identifies the source in sync messages and cache keys
func (c *ListedClient) Name() string { return "listed" }

// Filter returns the queryable subset of tickers. The listed service accepts
// arbitrary symbols, so everything is queryable.
func (c *ListedClient) Filter(tickers []string) []string { return tickers }

type listedQuote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// FetchQuotes requests one batched quote lookup for all tickers
func (c *ListedClient) FetchQuotes(ctx context.Context, tickers []string) ([]models.PriceQuote, error) {
	if len(tickers) == 0 {
		return nil, nil
	}

	addr := fmt.Sprintf("%s/v1/quotes?symbols=%s", c.baseURL, url.QueryEscape(strings.Join(tickers, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listed quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listed quote service returned %s", resp.Status)
	}

	var payload []listedQuote
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode listed quotes: %w", err)
	}

	now := time.Now()
	result := make([]models.PriceQuote, 0, len(payload))
	for _, q := range payload {
		if q.Symbol == "" {
			continue
		}
		result = append(result, models.PriceQuote{
			Ticker:     strings.ToUpper(q.Symbol),
			AssetClass: models.AssetClassStock,
			UnitPrice:  q.Price,
			Source:     c.Name(),
			FetchedAt:  now,
		})
	}
	c.log.Debug().Int("requested", len(tickers)).Int("returned", len(result)).Msg("fetched listed quotes")
	return result, nil
}
