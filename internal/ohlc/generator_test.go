package ohlc

import (
	"math"
	"testing"
	"time"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

func tick(ts, bid, ask, vol float64) models.Tick {
	return models.Tick{Timestamp: ts, Bid: bid, Ask: ask, Volume: vol}
}

func TestNewGeneratorValidation(t *testing.T) {
	if _, err := NewGenerator(models.TfTick, models.Tf1Min); err != nil {
		t.Fatalf("tick to 1m must be valid: %v", err)
	}
	if _, err := NewGenerator(models.Tf1Min, models.Tf1Hour); err != nil {
		t.Fatalf("1m to 1h must be valid: %v", err)
	}
	if _, err := NewGenerator(models.Tf10Min, models.Tf15Min); err == nil {
		t.Fatalf("15m is not a multiple of 10m, expected error")
	}
	if _, err := NewGenerator(models.TfTick, 42); err == nil {
		t.Fatalf("42s is not a supported timeframe, expected error")
	}
	if _, err := NewGenerator(models.TfTick, models.TfTick); err == nil {
		t.Fatalf("cannot generate the tick unit, expected error")
	}
}

func TestGeneratorTickScenario(t *testing.T) {
	// ticks at 0, 10, 20 into a 30s bucket, then one at 35 closing it
	g, err := NewGenerator(models.TfTick, models.Tf30Sec)
	if err != nil {
		t.Fatal(err)
	}

	bids := []float64{1.0, 1.2, 0.9}
	for i, ts := range []float64{0, 10, 20} {
		if closed := g.UpdateFromTick(tick(ts, bids[i], bids[i]+0.01, 1)); closed != nil {
			t.Fatalf("no candle should close before the boundary")
		}
	}

	closed := g.UpdateFromTick(tick(35, 1.1, 1.11, 1))
	if closed == nil {
		t.Fatalf("tick at 35 must close the first bucket")
	}
	if closed.Timestamp != 0 {
		t.Fatalf("closed bucket start = %f, want 0", closed.Timestamp)
	}
	if !closed.Consolidated {
		t.Fatalf("closed candle must be consolidated")
	}
	if closed.BidOpen != 1.0 || closed.BidHigh != 1.2 || closed.BidLow != 0.9 || closed.BidClose != 0.9 {
		t.Fatalf("bid ohlc = %f %f %f %f", closed.BidOpen, closed.BidHigh, closed.BidLow, closed.BidClose)
	}

	cur := g.Current()
	if cur == nil || cur.Timestamp != 30 {
		t.Fatalf("new bucket must open at 30")
	}
	if cur.Consolidated {
		t.Fatalf("open candle must not be consolidated")
	}
}

func TestGeneratorDuplicateIsNoOp(t *testing.T) {
	g, _ := NewGenerator(models.TfTick, models.Tf1Min)

	g.UpdateFromTick(tick(10, 2.0, 2.1, 1))
	before := *g.Current()

	if closed := g.UpdateFromTick(tick(10, 99.0, 99.0, 50)); closed != nil {
		t.Fatalf("duplicate must not close anything")
	}
	if *g.Current() != before {
		t.Fatalf("duplicate must not mutate state: %+v vs %+v", *g.Current(), before)
	}

	// strictly earlier sample is dropped too
	if closed := g.UpdateFromTick(tick(5, 0.1, 0.2, 1)); closed != nil || *g.Current() != before {
		t.Fatalf("out of order sample must be dropped")
	}
}

func TestGeneratorConservation(t *testing.T) {
	g, _ := NewGenerator(models.TfTick, models.Tf1Min)

	bids := []float64{5.0, 5.4, 4.8, 5.1, 5.2}
	var volume float64
	for i, bid := range bids {
		g.UpdateFromTick(tick(float64(i+1), bid, bid+0.02, 2))
		volume += 2
	}

	closed := g.UpdateFromTick(tick(61, 5.0, 5.02, 1))
	if closed == nil {
		t.Fatalf("expected bucket close")
	}
	if closed.Volume != volume {
		t.Fatalf("volume = %f, want %f", closed.Volume, volume)
	}
	if closed.BidOpen != bids[0] || closed.BidClose != bids[len(bids)-1] {
		t.Fatalf("open/close = %f/%f", closed.BidOpen, closed.BidClose)
	}
	if closed.BidHigh != 5.4 || closed.BidLow != 4.8 {
		t.Fatalf("high/low = %f/%f", closed.BidHigh, closed.BidLow)
	}
	if math.Abs(closed.AskHigh-5.42) > 1e-9 || math.Abs(closed.AskLow-4.82) > 1e-9 {
		t.Fatalf("ask high/low = %f/%f", closed.AskHigh, closed.AskLow)
	}
	if closed.BidLow > closed.BidOpen || closed.BidOpen > closed.BidHigh {
		t.Fatalf("ohlc invariant broken")
	}
}

func TestGeneratorHourFromMinutes(t *testing.T) {
	// 60 consolidated one-minute candles 10:00 .. 10:59 aggregate into
	// exactly one hourly candle once the 11:00 input arrives
	g, err := NewGenerator(models.Tf1Min, models.Tf1Hour)
	if err != nil {
		t.Fatal(err)
	}

	base := float64(time.Date(2023, 6, 14, 10, 0, 0, 0, time.UTC).Unix())

	in := make([]*models.Ohlc, 0, 61)
	for i := 0; i < 60; i++ {
		price := 100.0 + float64(i)*0.01
		c := models.NewOhlc(base+float64(i*60), models.Tf1Min)
		c.SetBid(price)
		c.SetAsk(price + 0.001)
		c.Volume = 1
		c.SetConsolidated()
		in = append(in, c)
	}
	next := models.NewOhlc(base+3600, models.Tf1Min)
	next.SetBid(101.0)
	next.SetAsk(101.001)
	next.Volume = 1
	next.SetConsolidated()
	in = append(in, next)

	out, err := g.GenerateFromOhlcs(in)
	if err != nil {
		t.Fatal(err)
	}
	if g.LastConsumed() != 61 {
		t.Fatalf("consumed %d inputs, want 61", g.LastConsumed())
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one closed candle, got %d", len(out))
	}

	h := out[0]
	if h.Timestamp != base {
		t.Fatalf("bucket start %f, want %f", h.Timestamp, base)
	}
	if h.BidOpen != 100.00 {
		t.Fatalf("open = %f, want 100.00", h.BidOpen)
	}
	if math.Abs(h.BidClose-100.59) > 1e-9 || math.Abs(h.BidHigh-100.59) > 1e-9 {
		t.Fatalf("close/high = %f/%f, want 100.59", h.BidClose, h.BidHigh)
	}
	if h.BidLow != 100.00 {
		t.Fatalf("low = %f, want 100.00", h.BidLow)
	}
	if h.Volume != 60 {
		t.Fatalf("volume = %f, want 60", h.Volume)
	}
}

func TestGeneratorIgnoresOpenInput(t *testing.T) {
	g, _ := NewGenerator(models.Tf1Min, models.Tf5Min)

	open := models.NewOhlc(60, models.Tf1Min)
	open.SetBid(1.0)
	open.SetAsk(1.0)
	open.Volume = 3

	closed, err := g.UpdateFromOhlc(open)
	if err != nil {
		t.Fatal(err)
	}
	if closed != nil || g.Current() != nil {
		t.Fatalf("a non consolidated input must be ignored")
	}
}

func TestGeneratorRejectsWrongSourceTimeframe(t *testing.T) {
	g, _ := NewGenerator(models.Tf1Min, models.Tf1Hour)

	c := models.NewOhlc(0, models.Tf5Min)
	c.SetBid(1.0)
	c.SetAsk(1.0)
	c.SetConsolidated()

	if _, err := g.UpdateFromOhlc(c); err == nil {
		t.Fatalf("mismatched source timeframe must error")
	}
}

func TestGeneratorLagBoundaryExact(t *testing.T) {
	// a sample exactly on the new bucket's basetime belongs to the new
	// bucket, never to the closing one
	g, _ := NewGenerator(models.TfTick, models.Tf30Sec)

	g.UpdateFromTick(tick(5, 1.0, 1.0, 1))
	closed := g.UpdateFromTick(tick(30, 2.0, 2.0, 1))

	if closed == nil {
		t.Fatalf("boundary tick must close the first bucket")
	}
	if closed.BidClose != 1.0 || closed.Volume != 1 {
		t.Fatalf("boundary tick leaked into the closing candle: close=%f volume=%f", closed.BidClose, closed.Volume)
	}
	cur := g.Current()
	if cur == nil || cur.Timestamp != 30 || cur.BidOpen != 2.0 || cur.Volume != 1 {
		t.Fatalf("boundary tick must open the new bucket: %+v", cur)
	}
}

func TestGeneratorBatchConsumedCount(t *testing.T) {
	g, _ := NewGenerator(models.TfTick, models.Tf10Sec)

	ticks := []models.Tick{
		tick(1, 1, 1, 1), tick(2, 1, 1, 1), tick(11, 1, 1, 1), tick(25, 1, 1, 1),
	}
	out := g.GenerateFromTicks(ticks)
	if g.LastConsumed() != len(ticks) {
		t.Fatalf("consumed %d, want %d", g.LastConsumed(), len(ticks))
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 closed buckets, got %d", len(out))
	}
}
