// Package ohlc implements the streaming candle generation core: the
// bucket basetime calculator, the per-timeframe generator state machine
// and the per-market fan-out table.
package ohlc

import (
	"math"
	"time"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

// Basetime maps a timestamp (float unix seconds) to the start of the
// containing bucket for the given timeframe.
//
// Sub-weekly timeframes align to the unix epoch by pure integer math.
// Weekly buckets start on Monday 00:00:00 UTC, monthly buckets on the
// first calendar day of the UTC month: the epoch is not a Monday and
// months have unequal length, so epoch alignment would drift there.
//
// tf must belong to the supported set (models.IsValidTimeframe); callers
// validate at construction. The tick unit is not bucketed.
func Basetime(timestamp float64, tf models.Timeframe) float64 {
	if tf <= 0 {
		return timestamp
	}

	if tf < models.Tf1Week {
		return math.Floor(timestamp/tf.Seconds()) * tf.Seconds()
	}

	dt := time.Unix(int64(timestamp), 0).UTC()

	if tf == models.Tf1Week {
		// back to Monday 00:00 UTC
		days := (int(dt.Weekday()) + 6) % 7
		dt = time.Date(dt.Year(), dt.Month(), dt.Day(), 0, 0, 0, 0, time.UTC)
		dt = dt.AddDate(0, 0, -days)
		return float64(dt.Unix())
	}

	// monthly, nominal 30 day width
	dt = time.Date(dt.Year(), dt.Month(), 1, 0, 0, 0, 0, time.UTC)
	return float64(dt.Unix())
}
