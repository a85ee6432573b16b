package ohlc

import (
	"fmt"
	"sync"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

// Table owns one Generator per (market, timeframe) pair and routes every
// incoming sample for a market to all of its generators.
//
// Markets carry a baseline set of always-maintained timeframes; downstream
// subscribers can add ad hoc timeframes at runtime. A fresh generator
// starts empty, it cannot backfill: retroactive history comes from the
// tick log or a backend query.
type Table struct {
	baseline []models.Timeframe

	mu      sync.Mutex
	markets map[string]map[models.Timeframe]*tableEntry
}

type tableEntry struct {
	gen  *Generator
	refs int // subscriber count; baseline entries hold one permanent ref
}

// NewTable creates a fan-out table with the given baseline timeframes.
// Every baseline value must be a supported timeframe.
func NewTable(baseline []models.Timeframe) (*Table, error) {
	for _, tf := range baseline {
		if tf <= 0 || !models.IsValidTimeframe(tf) {
			return nil, fmt.Errorf("invalid baseline timeframe %s", tf)
		}
	}
	return &Table{
		baseline: append([]models.Timeframe(nil), baseline...),
		markets:  make(map[string]map[models.Timeframe]*tableEntry),
	}, nil
}

// Watch ensures the baseline generators exist for a market.
func (t *Table) Watch(marketID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tf := range t.baseline {
		if _, err := t.ensure(marketID, tf, true); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe adds interest in an ad hoc (market, timeframe) pair. Each call
// takes one reference; Unsubscribe releases it.
func (t *Table) Subscribe(marketID string, tf models.Timeframe) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.ensure(marketID, tf, false)
	if err != nil {
		return err
	}
	e.refs++
	return nil
}

// Unsubscribe drops one reference; the generator state is discarded once
// nothing references it anymore.
func (t *Table) Unsubscribe(marketID string, tf models.Timeframe) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tfs, ok := t.markets[marketID]
	if !ok {
		return
	}
	e, ok := tfs[tf]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(tfs, tf)
	}
}

// ensure must run under t.mu.
func (t *Table) ensure(marketID string, tf models.Timeframe, baseline bool) (*tableEntry, error) {
	tfs, ok := t.markets[marketID]
	if !ok {
		tfs = make(map[models.Timeframe]*tableEntry)
		t.markets[marketID] = tfs
	}
	if e, ok := tfs[tf]; ok {
		return e, nil
	}

	gen, err := NewGenerator(models.TfTick, tf)
	if err != nil {
		return nil, err
	}
	e := &tableEntry{gen: gen}
	if baseline {
		e.refs = 1
	}
	tfs[tf] = e
	return e, nil
}

// UpdateTick routes one tick to every generator of the market and returns
// the candles it closed, at most one per maintained timeframe. The table's
// lock serializes all generator access.
func (t *Table) UpdateTick(marketID string, tick models.Tick) []*models.Ohlc {
	t.mu.Lock()
	defer t.mu.Unlock()

	tfs, ok := t.markets[marketID]
	if !ok {
		return nil
	}

	var closed []*models.Ohlc
	for _, e := range tfs {
		if c := e.gen.UpdateFromTick(tick); c != nil {
			closed = append(closed, c)
		}
	}
	return closed
}

// Timeframes returns the timeframes currently maintained for a market.
func (t *Table) Timeframes(marketID string) []models.Timeframe {
	t.mu.Lock()
	defer t.mu.Unlock()

	tfs, ok := t.markets[marketID]
	if !ok {
		return nil
	}
	out := make([]models.Timeframe, 0, len(tfs))
	for tf := range tfs {
		out = append(out, tf)
	}
	return out
}
