package models

import "strconv"

// OhlcRow is the persisted form of a consolidated candle, keyed by
// (BrokerID, MarketID, Timestamp, Timeframe). Prices and volume are
// decimal strings; the timestamp is in ms, matching the storage schema.
type OhlcRow struct {
	BrokerID  string
	MarketID  string
	Timestamp int64 // bucket basetime in ms
	Timeframe Timeframe

	BidOpen  string
	BidHigh  string
	BidLow   string
	BidClose string

	AskOpen  string
	AskHigh  string
	AskLow   string
	AskClose string

	Volume string

	// Consolidated is not persisted: stored rows are closed candles by
	// definition. Query paths clear it when the row's bucket is still
	// the current one.
	Consolidated bool
}

// NewOhlcRow converts a consolidated candle into its storage row.
func NewOhlcRow(brokerID, marketID string, o *Ohlc) OhlcRow {
	return OhlcRow{
		BrokerID:     brokerID,
		MarketID:     marketID,
		Timestamp:    int64(o.Timestamp * 1000),
		Timeframe:    o.Timeframe,
		BidOpen:      FormatPrice(o.BidOpen),
		BidHigh:      FormatPrice(o.BidHigh),
		BidLow:       FormatPrice(o.BidLow),
		BidClose:     FormatPrice(o.BidClose),
		AskOpen:      FormatPrice(o.AskOpen),
		AskHigh:      FormatPrice(o.AskHigh),
		AskLow:       FormatPrice(o.AskLow),
		AskClose:     FormatPrice(o.AskClose),
		Volume:       FormatPrice(o.Volume),
		Consolidated: o.Consolidated,
	}
}

// FormatPrice renders a price or volume as the shortest decimal string
// that round-trips exactly.
func FormatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
