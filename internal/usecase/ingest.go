package usecase

import (
	"context"

	"github.com/firebird631/siis-rev/internal/domain/models"
	domrepo "github.com/firebird631/siis-rev/internal/domain/repository"
	"github.com/firebird631/siis-rev/internal/ohlc"
	"github.com/firebird631/siis-rev/internal/store"
	"github.com/firebird631/siis-rev/pkg/logger"
)

// Ingestor drives the aggregation pipeline for one broker: each tick is
// appended to the tick log, fanned out to every aggregator of its
// market, and the candles that close on the way are handed to the
// write-behind store and the publisher.
type Ingestor struct {
	brokerID  string
	table     *ohlc.Table
	store     *store.Store
	publisher domrepo.Publisher
	metrics   domrepo.Metrics
	log       *logger.Logger

	lastTick map[string]float64
}

func NewIngestor(brokerID string, table *ohlc.Table, st *store.Store, publisher domrepo.Publisher, metrics domrepo.Metrics, log *logger.Logger) *Ingestor {
	return &Ingestor{
		brokerID:  brokerID,
		table:     table,
		store:     st,
		publisher: publisher,
		metrics:   metrics,
		log:       log,
		lastTick:  make(map[string]float64),
	}
}

// Watch registers a market so its baseline timeframes aggregate from the
// first tick on.
func (in *Ingestor) Watch(marketID string) error {
	return in.table.Watch(marketID)
}

// Subscribe adds an extra timeframe for a market.
func (in *Ingestor) Subscribe(marketID string, tf models.Timeframe) error {
	return in.table.Subscribe(marketID, tf)
}

// Unsubscribe drops one reference to a market timeframe.
func (in *Ingestor) Unsubscribe(marketID string, tf models.Timeframe) {
	in.table.Unsubscribe(marketID, tf)
}

// HandleTick runs one tick through the pipeline. Stale ticks are counted
// and dropped by the aggregators; they never produce an error because a
// feed replaying its backlog after a reconnect is normal operation.
//
// Not safe for concurrent use: one consumer goroutine feeds each
// ingestor.
func (in *Ingestor) HandleTick(ctx context.Context, marketID string, t models.Tick) {
	if in.metrics != nil {
		in.metrics.RecordTick(marketID)
	}
	if last, ok := in.lastTick[marketID]; ok && t.Timestamp <= last {
		if in.metrics != nil {
			in.metrics.RecordAnomaly("stale_tick")
		}
	} else {
		in.lastTick[marketID] = t.Timestamp
	}
	if t.Spread() < 0 && in.metrics != nil {
		// Crossed book samples still aggregate; they are only counted
		// so a misbehaving feed shows up on the ops surface.
		in.metrics.RecordAnomaly("crossed_quote")
	}

	in.store.StoreTick(in.brokerID, marketID, t)

	for _, closed := range in.table.UpdateTick(marketID, t) {
		in.store.StoreOhlc(in.brokerID, marketID, closed)
		if in.metrics != nil {
			in.metrics.RecordOhlcClosed(marketID, closed.Timeframe)
		}
		if in.publisher != nil {
			if err := in.publisher.PublishOhlc(ctx, in.brokerID, marketID, closed); err != nil {
				in.log.Warn("publish closed candle failed",
					logger.String("market", marketID),
					logger.String("timeframe", closed.Timeframe.String()),
					logger.Error(err))
			}
		}
	}
}
