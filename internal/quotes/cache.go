package quotes

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finchlabs/portfolio-ledger/internal/models"
)

// Cache is a short-TTL read-through quote cache in front of the external
// sources. A nil *Cache disables caching; every method is nil-safe so the
// sync engine never has to care. Cache failures degrade to a miss.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// NewCache creates a quote cache backed by Redis
func NewCache(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		rdb: rdb,
		ttl: ttl,
		log: log.With().Str("component", "quote-cache").Logger(),
	}
}

func quoteKey(source, ticker string) string {
	return "quote:" + source + ":" + strings.ToUpper(ticker)
}

// Get returns the cached quotes for the given tickers and the tickers that
// missed.
func (c *Cache) Get(ctx context.Context, source string, tickers []string) ([]models.PriceQuote, []string) {
	if c == nil || c.rdb == nil || len(tickers) == 0 {
		return nil, tickers
	}

	keys := make([]string, len(tickers))
	for i, t := range tickers {
		keys[i] = quoteKey(source, t)
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn().Err(err).Msg("quote cache read failed")
		return nil, tickers
	}

	var hits []models.PriceQuote
	var missing []string
	now := time.Now()
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, tickers[i])
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			missing = append(missing, tickers[i])
			continue
		}
		hits = append(hits, models.PriceQuote{
			Ticker:    strings.ToUpper(tickers[i]),
			UnitPrice: price,
			Source:    source,
			FetchedAt: now,
		})
	}
	return hits, missing
}

// Put stores fetched quotes with the configured TTL
func (c *Cache) Put(ctx context.Context, quotes []models.PriceQuote) {
	if c == nil || c.rdb == nil || len(quotes) == 0 {
		return
	}

	pipe := c.rdb.Pipeline()
	for _, q := range quotes {
		pipe.Set(ctx, quoteKey(q.Source, q.Ticker), q.UnitPrice.String(), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Msg("quote cache write failed")
	}
}
