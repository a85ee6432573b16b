package repository

import (
	"context"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

// Backend is the durable side of the write-behind store. Implementations
// must make every upsert idempotent on the row's natural key so retried
// or overlapping flush batches are harmless.
type Backend interface {
	Ping(ctx context.Context) error
	Close() error

	UpsertOhlcs(ctx context.Context, rows []models.OhlcRow) error
	UpsertMarketInfo(ctx context.Context, rows []models.MarketInfo) error
	UpsertAssets(ctx context.Context, rows []models.Asset) error
	InsertLiquidations(ctx context.Context, rows []models.Liquidation) error
	UpsertUserTrades(ctx context.Context, rows []models.UserTrade) error
	UpsertUserTraders(ctx context.Context, rows []models.UserTrader) error

	// QueryOhlcRange returns rows in [fromMS, toMS] ordered by ascending
	// timestamp. A zero bound means unbounded on that side.
	QueryOhlcRange(ctx context.Context, brokerID, marketID string, tf models.Timeframe, fromMS, toMS int64) ([]models.OhlcRow, error)

	// QueryOhlcLastN returns up to lastN most recent rows, ordered by
	// ascending timestamp.
	QueryOhlcLastN(ctx context.Context, brokerID, marketID string, tf models.Timeframe, lastN int) ([]models.OhlcRow, error)

	QueryMarketInfo(ctx context.Context, brokerID, marketID string) (*models.MarketInfo, error)

	// DeleteOhlcsBefore bulk deletes rows with timeframe <= tf and
	// timestamp strictly older than beforeMS.
	DeleteOhlcsBefore(ctx context.Context, tf models.Timeframe, beforeMS int64) error
}

// Publisher emits closed-candle events to downstream consumers. Delivery
// is at-most-once; replay is the tick log's job.
type Publisher interface {
	PublishOhlc(ctx context.Context, brokerID, marketID string, o *models.Ohlc) error
	Close() error
}

// Metrics records what the pipeline does, for the ops surface.
type Metrics interface {
	RecordTick(marketID string)
	RecordOhlcClosed(marketID string, tf models.Timeframe)
	RecordAnomaly(kind string)
	RecordFlush(kind string, rows int, seconds float64)
	RecordFlushError(kind string)
	SetPending(kind string, n int)
}
