package store

import (
	"time"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

// RetentionRule removes candles with timeframe <= Timeframe once they
// are older than MaxAge. Rules run from the coarsest threshold down;
// timeframes above the coarsest threshold are kept forever.
type RetentionRule struct {
	Timeframe models.Timeframe
	MaxAge    time.Duration
}

// DefaultRetention mirrors the storage policy: weekly, daily and 4h
// candles are kept forever, 1-2h for ~90 days, 10-30m for ~21 days,
// minute scale for ~8 days. Sub-minute candles are never persisted at
// all (see Store.StoreOhlc).
var DefaultRetention = []RetentionRule{
	{Timeframe: models.Tf2Hour, MaxAge: 90 * 24 * time.Hour},
	{Timeframe: models.Tf30Min, MaxAge: 21 * 24 * time.Hour},
	{Timeframe: models.Tf5Min, MaxAge: 8 * 24 * time.Hour},
}

// minPersistedTf is the smallest timeframe worth a database row.
const minPersistedTf = models.Tf1Min
