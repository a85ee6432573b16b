package ohlc

import (
	"testing"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

func TestTableFanOutIndependence(t *testing.T) {
	tbl, err := NewTable([]models.Timeframe{models.Tf30Sec, models.Tf1Min})
	if err != nil {
		t.Fatal(err)
	}
	if err := tbl.Watch("EURUSD"); err != nil {
		t.Fatal(err)
	}

	// 35s of ticks: closes the first 30s bucket, the 1m one stays open
	var closed []*models.Ohlc
	for _, ts := range []float64{1, 10, 20, 35} {
		closed = append(closed, tbl.UpdateTick("EURUSD", tick(ts, 1.0, 1.01, 1))...)
	}

	if len(closed) != 1 {
		t.Fatalf("expected one closed candle, got %d", len(closed))
	}
	if closed[0].Timeframe != models.Tf30Sec {
		t.Fatalf("closed timeframe = %s, want 30s", closed[0].Timeframe)
	}

	// crossing the minute closes both
	closed = tbl.UpdateTick("EURUSD", tick(61, 1.0, 1.01, 1))
	if len(closed) != 2 {
		t.Fatalf("expected two closed candles at the minute, got %d", len(closed))
	}
}

func TestTableSubscribeUnsubscribe(t *testing.T) {
	tbl, _ := NewTable([]models.Timeframe{models.Tf1Min})
	if err := tbl.Watch("BTCUSDT"); err != nil {
		t.Fatal(err)
	}

	if err := tbl.Subscribe("BTCUSDT", models.Tf5Min); err != nil {
		t.Fatal(err)
	}
	if got := len(tbl.Timeframes("BTCUSDT")); got != 2 {
		t.Fatalf("expected 2 timeframes, got %d", got)
	}

	tbl.Unsubscribe("BTCUSDT", models.Tf5Min)
	if got := len(tbl.Timeframes("BTCUSDT")); got != 1 {
		t.Fatalf("expected baseline only after unsubscribe, got %d", got)
	}

	// baseline interest survives a stray unsubscribe only while refs remain
	if err := tbl.Subscribe("BTCUSDT", models.Tf1Min); err != nil {
		t.Fatal(err)
	}
	tbl.Unsubscribe("BTCUSDT", models.Tf1Min)
	if got := len(tbl.Timeframes("BTCUSDT")); got != 1 {
		t.Fatalf("baseline timeframe must keep its permanent ref, got %d", got)
	}
}

func TestTableRejectsInvalidBaseline(t *testing.T) {
	if _, err := NewTable([]models.Timeframe{42}); err == nil {
		t.Fatalf("unsupported baseline timeframe must fail")
	}
}

func TestTableUnknownMarket(t *testing.T) {
	tbl, _ := NewTable([]models.Timeframe{models.Tf1Min})
	if closed := tbl.UpdateTick("UNKNOWN", tick(1, 1, 1, 1)); closed != nil {
		t.Fatalf("unwatched market must be a no-op")
	}
}
