package ohlc

import (
	"fmt"
	"math"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

// Generator folds ticks, or consolidated candles of a finer timeframe,
// into one candle per bucket of its target timeframe and emits the candle
// the instant a later sample proves the bucket has ended.
//
// A Generator is not synchronized. A single logical owner must serialize
// all calls; the fan-out Table does that for the live pipeline.
type Generator struct {
	fromTf models.Timeframe
	toTf   models.Timeframe

	cur           *models.Ohlc
	lastTimestamp float64
	lastConsumed  int
}

// NewGenerator creates a generator producing toTf candles from samples of
// fromTf width (models.TfTick for raw ticks). toTf must be a supported
// timeframe and an exact multiple of fromTf; anything else is a wiring
// error and fails construction.
func NewGenerator(fromTf, toTf models.Timeframe) (*Generator, error) {
	if !models.IsValidTimeframe(toTf) || toTf <= 0 {
		return nil, fmt.Errorf("unsupported target timeframe %s", toTf)
	}
	if fromTf != models.TfTick && !models.IsValidTimeframe(fromTf) {
		return nil, fmt.Errorf("unsupported source timeframe %s", fromTf)
	}
	if !toTf.MultipleOf(fromTf) {
		return nil, fmt.Errorf("timeframe %s is not a multiple of %s", toTf, fromTf)
	}
	return &Generator{fromTf: fromTf, toTf: toTf}, nil
}

// FromTf returns the source time unit.
func (g *Generator) FromTf() models.Timeframe { return g.fromTf }

// ToTf returns the generated time unit.
func (g *Generator) ToTf() models.Timeframe { return g.toTf }

// Current returns the open candle, or nil when between buckets.
func (g *Generator) Current() *models.Ohlc { return g.cur }

// LastTimestamp returns the timestamp of the newest accepted sample.
func (g *Generator) LastTimestamp() float64 { return g.lastTimestamp }

// LastConsumed returns how many inputs the last batch call consumed.
func (g *Generator) LastConsumed() int { return g.lastConsumed }

// UpdateFromTick folds one tick and returns the closed candle if this
// tick ended a bucket, else nil.
//
// A tick at or before the last accepted timestamp is dropped: repeated
// delivery of the same sample is a no-op by construction, without any
// deduplication bookkeeping.
func (g *Generator) UpdateFromTick(t models.Tick) *models.Ohlc {
	if t.Timestamp <= g.lastTimestamp {
		return nil
	}

	var closed *models.Ohlc

	if g.cur != nil && t.Timestamp >= g.cur.Timestamp+g.toTf.Seconds() {
		// A tick exactly on the next basetime belongs to the new
		// bucket; the finished candle closes with what it holds.
		g.cur.SetConsolidated()
		closed = g.cur
		g.cur = nil
	}

	if g.cur == nil {
		g.cur = models.NewOhlc(Basetime(t.Timestamp, g.toTf), g.toTf)
		g.cur.SetBid(t.Bid)
		g.cur.SetAsk(t.Ask)
	}

	g.foldTick(t)
	g.lastTimestamp = t.Timestamp

	return closed
}

func (g *Generator) foldTick(t models.Tick) {
	c := g.cur
	c.Volume += t.Volume

	c.BidHigh = math.Max(c.BidHigh, t.Bid)
	c.BidLow = math.Min(c.BidLow, t.Bid)
	c.BidClose = t.Bid

	c.AskHigh = math.Max(c.AskHigh, t.Ask)
	c.AskLow = math.Min(c.AskLow, t.Ask)
	c.AskClose = t.Ask
}

// UpdateFromOhlc folds one finer-grained candle and returns the closed
// coarser candle if this input ended a bucket, else nil.
//
// A still-open input is ignored: folding it would double count volume as
// it keeps mutating. An input of the wrong timeframe means the pipeline
// is miswired and returns an error.
func (g *Generator) UpdateFromOhlc(from *models.Ohlc) (*models.Ohlc, error) {
	if from == nil || !from.Ended() {
		return nil, nil
	}
	if from.Timeframe != g.fromTf {
		return nil, fmt.Errorf("source candle has timeframe %s, generator expects %s", from.Timeframe, g.fromTf)
	}
	if from.Timestamp <= g.lastTimestamp {
		return nil, nil
	}

	var closed *models.Ohlc

	if g.cur != nil && from.Timestamp >= g.cur.Timestamp+g.toTf.Seconds() {
		// Same boundary rule as ticks: the input opens the new bucket.
		g.cur.SetConsolidated()
		closed = g.cur
		g.cur = nil
	}

	if g.cur == nil {
		g.cur = models.NewOhlc(Basetime(from.Timestamp, g.toTf), g.toTf)
		g.cur.CopyBid(from)
		g.cur.CopyAsk(from)
		g.cur.Volume = from.Volume
		g.lastTimestamp = from.Timestamp
		return closed, nil
	}

	g.foldOhlc(from)
	g.lastTimestamp = from.Timestamp

	return closed, nil
}

func (g *Generator) foldOhlc(from *models.Ohlc) {
	c := g.cur
	c.Volume += from.Volume

	c.BidHigh = math.Max(c.BidHigh, from.BidHigh)
	c.BidLow = math.Min(c.BidLow, from.BidLow)
	c.BidClose = from.BidClose

	c.AskHigh = math.Max(c.AskHigh, from.AskHigh)
	c.AskLow = math.Min(c.AskLow, from.AskLow)
	c.AskClose = from.AskClose
}

// GenerateFromTicks folds an ordered batch of ticks and returns every
// candle closed along the way, in order. LastConsumed reports how many
// inputs were processed so callers can track resumption offsets.
func (g *Generator) GenerateFromTicks(ticks []models.Tick) []*models.Ohlc {
	var out []*models.Ohlc
	g.lastConsumed = 0

	for _, t := range ticks {
		if closed := g.UpdateFromTick(t); closed != nil {
			out = append(out, closed)
		}
		g.lastConsumed++
	}
	return out
}

// GenerateFromOhlcs folds an ordered batch of finer candles. It stops at
// the first miswired input and reports how many were consumed before it.
func (g *Generator) GenerateFromOhlcs(in []*models.Ohlc) ([]*models.Ohlc, error) {
	var out []*models.Ohlc
	g.lastConsumed = 0

	for _, from := range in {
		closed, err := g.UpdateFromOhlc(from)
		if err != nil {
			return out, err
		}
		if closed != nil {
			out = append(out, closed)
		}
		g.lastConsumed++
	}
	return out, nil
}
