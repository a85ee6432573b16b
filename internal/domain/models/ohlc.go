package models

// Ohlc is one open/high/low/close candle for a single bucket. Bid and ask
// sides are tracked independently (the spread can widen inside a bucket).
// Timestamp is the bucket basetime in float unix seconds and never changes
// after creation. The candle stays mutable until Consolidated is set, at
// which point it is immutable and eligible for persistence.
type Ohlc struct {
	Timestamp float64
	Timeframe Timeframe

	BidOpen  float64
	BidHigh  float64
	BidLow   float64
	BidClose float64

	AskOpen  float64
	AskHigh  float64
	AskLow   float64
	AskClose float64

	Volume       float64
	Consolidated bool
}

// NewOhlc creates an open candle for the bucket starting at timestamp.
func NewOhlc(timestamp float64, tf Timeframe) *Ohlc {
	return &Ohlc{Timestamp: timestamp, Timeframe: tf}
}

// SetBid seeds all four bid fields with a single price.
func (o *Ohlc) SetBid(price float64) {
	o.BidOpen = price
	o.BidHigh = price
	o.BidLow = price
	o.BidClose = price
}

// SetAsk seeds all four ask fields with a single price.
func (o *Ohlc) SetAsk(price float64) {
	o.AskOpen = price
	o.AskHigh = price
	o.AskLow = price
	o.AskClose = price
}

// CopyBid copies the bid side of another candle, used to seed a coarser
// candle from the first finer one of its bucket.
func (o *Ohlc) CopyBid(from *Ohlc) {
	o.BidOpen = from.BidOpen
	o.BidHigh = from.BidHigh
	o.BidLow = from.BidLow
	o.BidClose = from.BidClose
}

// CopyAsk copies the ask side of another candle.
func (o *Ohlc) CopyAsk(from *Ohlc) {
	o.AskOpen = from.AskOpen
	o.AskHigh = from.AskHigh
	o.AskLow = from.AskLow
	o.AskClose = from.AskClose
}

// SetConsolidated closes the candle. Done exactly once, when a later
// sample proves the bucket has ended.
func (o *Ohlc) SetConsolidated() {
	o.Consolidated = true
}

// Ended reports whether the candle is closed.
func (o *Ohlc) Ended() bool { return o.Consolidated }
