package pricesync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finchlabs/portfolio-ledger/internal/models"
	"github.com/finchlabs/portfolio-ledger/internal/quotes"
)

// PositionRepository defines the position operations the engine needs.
// Implemented by database.DB; valuation updates go through the same
// transactional path as direct edits.
type PositionRepository interface {
	GetAllPositions(ownerID int64) ([]*models.Position, error)
	UpdatePositionTx(ownerID, id int64, apply func(*models.Position) error) (*models.Position, *models.Position, error)
}

// QuoteSource is one external price feed serving an asset-class group
type QuoteSource interface {
	Name() string
	Filter(tickers []string) []string
	FetchQuotes(ctx context.Context, tickers []string) ([]models.PriceQuote, error)
}

// OpRecorder receives the valuation-only audit entries for synced positions.
// Implemented by audit.Trail.
type OpRecorder interface {
	RecordFinancialOperation(actorID int64, opType models.FinancialOpType, entityID int64, valueBefore, valueAfter, qtyBefore, qtyAfter *decimal.Decimal, detail string) error
}

// Engine reconciles position valuations against the external quote sources.
// Each asset-class group is served by one source; source outages stay
// isolated to their group.
type Engine struct {
	repo    PositionRepository
	listed  QuoteSource
	digital QuoteSource
	cache   *quotes.Cache
	trail   OpRecorder
	timeout time.Duration
	log     zerolog.Logger
}

// NewEngine creates a sync engine. cache may be nil.
func NewEngine(repo PositionRepository, listed, digital QuoteSource, cache *quotes.Cache, trail OpRecorder, timeout time.Duration, log zerolog.Logger) *Engine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		repo:    repo,
		listed:  listed,
		digital: digital,
		cache:   cache,
		trail:   trail,
		timeout: timeout,
		log:     log.With().Str("component", "pricesync").Logger(),
	}
}

// syncState accumulates the outcome across concurrent group fetches
type syncState struct {
	mu     sync.Mutex
	result models.SyncResult
}

func (s *syncState) updated() {
	s.mu.Lock()
	s.result.UpdatedCount++
	s.mu.Unlock()
}

func (s *syncState) failed(format string, args ...interface{}) {
	s.mu.Lock()
	s.result.ErrorCount++
	s.result.Messages = append(s.result.Messages, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

// SyncAll revalues every ticketed position for the owner against the
// external sources. It never returns an error; every failure mode becomes a
// message in the result. Re-running against unchanged upstream prices is
// idempotent.
func (e *Engine) SyncAll(ctx context.Context, ownerID int64) *models.SyncResult {
	state := &syncState{result: models.SyncResult{Messages: []string{}}}

	positions, err := e.repo.GetAllPositions(ownerID)
	if err != nil {
		state.failed("failed to load positions: %v", err)
		return &state.result
	}

	groups := map[QuoteSource][]*models.Position{}
	for _, p := range positions {
		if strings.TrimSpace(p.Ticker) == "" {
			continue
		}
		if source := e.sourceFor(p.AssetClass); source != nil {
			groups[source] = append(groups[source], p)
		}
	}

	var wg sync.WaitGroup
	for source, group := range groups {
		wg.Add(1)
		go func(source QuoteSource, group []*models.Position) {
			defer wg.Done()
			e.syncGroup(ctx, ownerID, source, group, state)
		}(source, group)
	}
	wg.Wait()

	e.log.Info().
		Int64("owner_id", ownerID).
		Int("updated", state.result.UpdatedCount).
		Int("errors", state.result.ErrorCount).
		Msg("price sync completed")
	return &state.result
}

func (e *Engine) sourceFor(class models.AssetClass) QuoteSource {
	switch class {
	case models.AssetClassStock, models.AssetClassETF, models.AssetClassFund:
		return e.listed
	case models.AssetClassCrypto:
		return e.digital
	default:
		return nil
	}
}

// syncGroup fetches one batched quote request for the group and applies the
// results. A source failure is recorded as one message per position the
// fetch would have served; other groups are unaffected.
func (e *Engine) syncGroup(ctx context.Context, ownerID int64, source QuoteSource, group []*models.Position, state *syncState) {
	tickers := uniqueTickers(group)
	queryable := map[string]bool{}
	for _, t := range source.Filter(tickers) {
		queryable[strings.ToUpper(t)] = true
	}

	// Positions whose ticker the source cannot map are skipped silently.
	var targets []*models.Position
	for _, p := range group {
		if queryable[strings.ToUpper(p.Ticker)] {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return
	}

	wanted := make([]string, 0, len(queryable))
	for t := range queryable {
		wanted = append(wanted, t)
	}
	sort.Strings(wanted)

	priceByTicker := map[string]decimal.Decimal{}
	cached, missing := e.cache.Get(ctx, source.Name(), wanted)
	for _, q := range cached {
		priceByTicker[q.Ticker] = q.UnitPrice
	}

	if len(missing) > 0 {
		fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
		fetched, err := source.FetchQuotes(fetchCtx, missing)
		cancel()
		if err != nil {
			e.log.Warn().Err(err).Str("source", source.Name()).Msg("quote source failed")
			missed := map[string]bool{}
			for _, t := range missing {
				missed[t] = true
			}
			for _, p := range targets {
				if missed[strings.ToUpper(p.Ticker)] {
					state.failed("%s: quote source %s unavailable: %v", p.DisplayName, source.Name(), err)
				} else {
					e.applyQuote(ownerID, p, priceByTicker[strings.ToUpper(p.Ticker)], source.Name(), state)
				}
			}
			return
		}
		for _, q := range fetched {
			priceByTicker[q.Ticker] = q.UnitPrice
		}
		e.cache.Put(ctx, fetched)
	}

	for _, p := range targets {
		price, ok := priceByTicker[strings.ToUpper(p.Ticker)]
		if !ok {
			state.failed("%s: no quote returned for ticker %s", p.DisplayName, p.Ticker)
			continue
		}
		e.applyQuote(ownerID, p, price, source.Name(), state)
	}
}

// applyQuote recomputes the valuation from the unit price inside the same
// row-scoped transaction used by direct edits, then records the lightweight
// valuation-only audit entry carrying just the numeric delta.
func (e *Engine) applyQuote(ownerID int64, p *models.Position, unitPrice decimal.Decimal, sourceName string, state *syncState) {
	before, after, err := e.repo.UpdatePositionTx(ownerID, p.ID, func(current *models.Position) error {
		current.CurrentValue = current.Quantity.Mul(unitPrice).Round(2)
		current.Recompute()
		return nil
	})
	if err != nil {
		state.failed("%s: failed to apply quote: %v", p.DisplayName, err)
		return
	}

	detail := fmt.Sprintf("Revalued %q from %s source", after.DisplayName, sourceName)
	err = e.trail.RecordFinancialOperation(ownerID, models.OpPriceSync, after.ID,
		&before.CurrentValue, &after.CurrentValue, &before.Quantity, &after.Quantity, detail)
	if err != nil {
		e.log.Error().Err(err).Int64("position_id", after.ID).Msg("failed to record price sync")
	}
	state.updated()
}

func uniqueTickers(group []*models.Position) []string {
	seen := map[string]bool{}
	var tickers []string
	for _, p := range group {
		upper := strings.ToUpper(p.Ticker)
		if !seen[upper] {
			seen[upper] = true
			tickers = append(tickers, upper)
		}
	}
	return tickers
}
