package models

import "fmt"

// Timeframe is a candle width in seconds. TfTick (0) means the raw tick
// unit and is never bucketed.
type Timeframe float64

const (
	TfTick   Timeframe = 0
	Tf1Sec   Timeframe = 1
	Tf10Sec  Timeframe = 10
	Tf30Sec  Timeframe = 30
	Tf1Min   Timeframe = 60
	Tf2Min   Timeframe = 2 * 60
	Tf3Min   Timeframe = 3 * 60
	Tf5Min   Timeframe = 5 * 60
	Tf10Min  Timeframe = 10 * 60
	Tf15Min  Timeframe = 15 * 60
	Tf30Min  Timeframe = 30 * 60
	Tf1Hour  Timeframe = 60 * 60
	Tf2Hour  Timeframe = 2 * 60 * 60
	Tf3Hour  Timeframe = 3 * 60 * 60
	Tf4Hour  Timeframe = 4 * 60 * 60
	Tf6Hour  Timeframe = 6 * 60 * 60
	Tf8Hour  Timeframe = 8 * 60 * 60
	Tf12Hour Timeframe = 12 * 60 * 60
	Tf1Day   Timeframe = 24 * 60 * 60
	Tf2Day   Timeframe = 2 * 24 * 60 * 60
	Tf3Day   Timeframe = 3 * 24 * 60 * 60
	Tf1Week  Timeframe = 7 * 24 * 60 * 60
	Tf1Month Timeframe = 30 * 24 * 60 * 60
)

var timeframeNames = map[Timeframe]string{
	TfTick:   "t",
	Tf1Sec:   "1s",
	Tf10Sec:  "10s",
	Tf30Sec:  "30s",
	Tf1Min:   "1m",
	Tf2Min:   "2m",
	Tf3Min:   "3m",
	Tf5Min:   "5m",
	Tf10Min:  "10m",
	Tf15Min:  "15m",
	Tf30Min:  "30m",
	Tf1Hour:  "1h",
	Tf2Hour:  "2h",
	Tf3Hour:  "3h",
	Tf4Hour:  "4h",
	Tf6Hour:  "6h",
	Tf8Hour:  "8h",
	Tf12Hour: "12h",
	Tf1Day:   "1d",
	Tf2Day:   "2d",
	Tf3Day:   "3d",
	Tf1Week:  "1w",
	Tf1Month: "1M",
}

// IsValidTimeframe returns true if tf belongs to the supported set.
func IsValidTimeframe(tf Timeframe) bool {
	_, ok := timeframeNames[tf]
	return ok
}

// ParseTimeframe converts a short name ("1m", "4h", "1w", ...) to a
// Timeframe. Returns an error on unknown names.
func ParseTimeframe(s string) (Timeframe, error) {
	for tf, name := range timeframeNames {
		if name == s {
			return tf, nil
		}
	}
	return 0, fmt.Errorf("unknown timeframe %q", s)
}

func (tf Timeframe) String() string {
	if name, ok := timeframeNames[tf]; ok {
		return name
	}
	return fmt.Sprintf("%gs", float64(tf))
}

// Seconds returns the width as a float, the unit used by tick timestamps.
func (tf Timeframe) Seconds() float64 { return float64(tf) }

// MultipleOf returns true if tf is an exact positive integer multiple of
// from. The tick unit counts as 1 second for divisibility.
func (tf Timeframe) MultipleOf(from Timeframe) bool {
	if tf <= 0 {
		return false
	}
	if from == TfTick {
		return true
	}
	return int64(tf)%int64(from) == 0
}
