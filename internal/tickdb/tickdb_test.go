package tickdb

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

func utcTs(y int, m time.Month, d, h int) float64 {
	return float64(time.Date(y, m, d, h, 0, 0, 0, time.UTC).Unix())
}

func TestStorageMonthlyPartitions(t *testing.T) {
	base := t.TempDir()
	s := NewStorage(base, "binance", "BTCUSDT")

	s.Store(models.Tick{Timestamp: utcTs(2023, 6, 10, 12), Bid: 1.5, Ask: 1.6, Volume: 2})
	s.Store(models.Tick{Timestamp: utcTs(2023, 6, 30, 23), Bid: 1.7, Ask: 1.8, Volume: 1})
	s.Store(models.Tick{Timestamp: utcTs(2023, 7, 1, 0), Bid: 1.9, Ask: 2.0, Volume: 3})

	if !s.HasData() {
		t.Fatalf("expected buffered ticks")
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(base, "binance", "BTCUSDT", "T")
	for _, name := range []string{"202306.tsv", "202307.tsv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing partition %s: %v", name, err)
		}
	}
}

func TestStorageFlushIsIdempotentWhenEmpty(t *testing.T) {
	s := NewStorage(t.TempDir(), "b", "m")
	if err := s.Flush(); err != nil {
		t.Fatalf("empty flush must succeed: %v", err)
	}
}

func TestStreamerRoundTrip(t *testing.T) {
	base := t.TempDir()
	s := NewStorage(base, "binance", "ETHUSDT")

	ticks := []models.Tick{
		{Timestamp: utcTs(2023, 5, 20, 1), Bid: 1800.5, Ask: 1800.7, Volume: 0.25},
		{Timestamp: utcTs(2023, 6, 1, 2), Bid: 1810.1, Ask: 1810.3, Volume: 1},
		{Timestamp: utcTs(2023, 6, 15, 3), Bid: 1790.9, Ask: 1791.2, Volume: 0.5},
		{Timestamp: utcTs(2023, 7, 2, 4), Bid: 1900, Ask: 1900.4, Volume: 2},
	}
	for _, tk := range ticks {
		s.Store(tk)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// restrict the range to the two June samples
	st := NewStreamer(base, "binance", "ETHUSDT",
		time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC))
	defer st.Close()

	var got []models.Tick
	for {
		tk, err := st.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, tk)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 ticks in range, got %d", len(got))
	}
	if got[0].Bid != 1810.1 || got[1].Bid != 1790.9 {
		t.Fatalf("unexpected ticks %+v", got)
	}
	if got[0].Timestamp != ticks[1].Timestamp {
		t.Fatalf("timestamp drifted through the round trip: %f vs %f", got[0].Timestamp, ticks[1].Timestamp)
	}
}

func TestStreamerSkipsMissingMonths(t *testing.T) {
	base := t.TempDir()
	s := NewStorage(base, "b", "m")
	s.Store(models.Tick{Timestamp: utcTs(2023, 3, 5, 0), Bid: 1, Ask: 1, Volume: 1})
	s.Store(models.Tick{Timestamp: utcTs(2023, 8, 5, 0), Bid: 2, Ask: 2, Volume: 1})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	st := NewStreamer(base, "b", "m",
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC))
	defer st.Close()

	batch, err := st.NextBatch(10)
	if err != io.EOF {
		t.Fatalf("expected EOF after draining, got %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(batch))
	}
}

func TestOptimizePartition(t *testing.T) {
	base := t.TempDir()
	s := NewStorage(base, "b", "m")

	// one interleaved month with a duplicate, as two writers would leave it
	s.Store(models.Tick{Timestamp: utcTs(2023, 6, 3, 0), Bid: 2, Ask: 2, Volume: 1})
	s.Store(models.Tick{Timestamp: utcTs(2023, 6, 1, 0), Bid: 1, Ask: 1, Volume: 1})
	s.Store(models.Tick{Timestamp: utcTs(2023, 6, 3, 0), Bid: 2, Ask: 2, Volume: 1})
	s.Store(models.Tick{Timestamp: utcTs(2023, 6, 2, 0), Bid: 3, Ask: 3, Volume: 1})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(base, "b", "m", "T", "202306.tsv")
	if err := OptimizePartition(path); err != nil {
		t.Fatal(err)
	}

	st := NewStreamer(base, "b", "m",
		time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC))
	defer st.Close()

	batch, err := st.NextBatch(10)
	if err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 distinct ticks after optimize, got %d", len(batch))
	}
	for i := 1; i < len(batch); i++ {
		if batch[i].Timestamp < batch[i-1].Timestamp {
			t.Fatalf("ticks not sorted after optimize")
		}
	}
}
