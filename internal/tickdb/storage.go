// Package tickdb is the append-only tick log: one stream per
// (broker, market), partitioned by calendar month so a single file never
// grows unbounded. It exists for backtesting and as the source of truth
// from which candles can be rebuilt; the aggregation pipeline never
// depends on it.
package tickdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

// One record per line: timestamp in ms then bid, ask and volume as
// decimal strings, tab separated. Decimal strings round-trip exactly
// across writer and reader implementations.
const recordFormat = "%d\t%s\t%s\t%s\n"

// partitionName returns the file name of the month containing ts.
func partitionName(ts float64) string {
	return time.Unix(int64(ts), 0).UTC().Format("200601") + ".tsv"
}

// Storage appends ticks for one market. Store never blocks on a durable
// write: ticks accumulate in memory until Flush, which the write-behind
// loop calls on its own schedule.
type Storage struct {
	dir string

	mu  sync.Mutex
	buf []models.Tick

	curName string
	file    *os.File
}

// NewStorage creates the tick log writer for one (broker, market) pair
// under basePath/<broker>/<market>/T/.
func NewStorage(basePath, brokerID, marketID string) *Storage {
	return &Storage{dir: filepath.Join(basePath, brokerID, marketID, "T")}
}

// Store buffers one tick. Safe to call from the hot ingestion path.
func (s *Storage) Store(t models.Tick) {
	s.mu.Lock()
	s.buf = append(s.buf, t)
	s.mu.Unlock()
}

// HasData reports whether a flush would write anything.
func (s *Storage) HasData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf) > 0
}

// Pending returns the buffered tick count.
func (s *Storage) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Flush appends every buffered tick to its month partition. Ticks are
// written in buffer order; a batch crossing a month boundary rolls over
// to the next partition mid-flush. On failure the batch stays buffered
// for the next attempt.
func (s *Storage) Flush() error {
	s.mu.Lock()
	batch := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := s.write(batch); err != nil {
		s.mu.Lock()
		s.buf = append(batch, s.buf...)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Storage) write(batch []models.Tick) error {
	for _, t := range batch {
		name := partitionName(t.Timestamp)
		if s.file == nil || name != s.curName {
			if err := s.open(name); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(s.file, recordFormat,
			int64(t.Timestamp*1000),
			models.FormatPrice(t.Bid),
			models.FormatPrice(t.Ask),
			models.FormatPrice(t.Volume))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) open(name string) error {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("tick log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("tick log partition: %w", err)
	}
	s.file = f
	s.curName = name
	return nil
}

// Close flushes what remains and releases the open partition.
func (s *Storage) Close() error {
	err := s.Flush()
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.file = nil
		s.curName = ""
	}
	return err
}
