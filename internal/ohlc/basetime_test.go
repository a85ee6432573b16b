package ohlc

import (
	"testing"
	"time"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

func TestBasetimeSubWeeklyBounds(t *testing.T) {
	tfs := []models.Timeframe{
		models.Tf1Sec, models.Tf10Sec, models.Tf1Min, models.Tf5Min,
		models.Tf1Hour, models.Tf4Hour, models.Tf1Day,
	}
	ts := float64(time.Date(2023, 6, 14, 15, 42, 37, 0, time.UTC).Unix())

	for _, tf := range tfs {
		bt := Basetime(ts, tf)
		if bt > ts || ts >= bt+tf.Seconds() {
			t.Fatalf("tf %s: basetime %f does not contain %f", tf, bt, ts)
		}
		if int64(bt)%int64(tf) != 0 {
			t.Fatalf("tf %s: basetime %f not aligned to epoch", tf, bt)
		}
	}
}

func TestBasetimeWeeklyIsMonday(t *testing.T) {
	// a year of Wednesdays
	start := time.Date(2023, 1, 4, 11, 30, 0, 0, time.UTC)
	for i := 0; i < 52; i++ {
		ts := float64(start.AddDate(0, 0, 7*i).Unix())
		bt := time.Unix(int64(Basetime(ts, models.Tf1Week)), 0).UTC()
		if bt.Weekday() != time.Monday {
			t.Fatalf("week basetime %v is a %v", bt, bt.Weekday())
		}
		if bt.Hour() != 0 || bt.Minute() != 0 || bt.Second() != 0 {
			t.Fatalf("week basetime %v not at midnight", bt)
		}
	}
}

func TestBasetimeWeeklyOnMonday(t *testing.T) {
	monday := time.Date(2023, 6, 12, 0, 0, 0, 0, time.UTC)
	bt := Basetime(float64(monday.Unix())+3600, models.Tf1Week)
	if int64(bt) != monday.Unix() {
		t.Fatalf("expected %v, got %v", monday.Unix(), int64(bt))
	}
}

func TestBasetimeMonthlyFirstDay(t *testing.T) {
	ts := float64(time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC).Unix())
	bt := time.Unix(int64(Basetime(ts, models.Tf1Month)), 0).UTC()
	want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if !bt.Equal(want) {
		t.Fatalf("expected %v, got %v", want, bt)
	}
}

func TestBasetimeTickUnit(t *testing.T) {
	if bt := Basetime(1234.5678, models.TfTick); bt != 1234.5678 {
		t.Fatalf("tick unit must not bucket, got %f", bt)
	}
}
