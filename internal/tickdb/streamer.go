package tickdb

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

// Streamer reads ticks for one market, forward only, across the monthly
// partitions covering [from, to]. It is lazy: a partition is opened when
// the previous one is exhausted. Restart by constructing a new Streamer
// with an explicit range.
type Streamer struct {
	dir  string
	from float64
	to   float64

	cur      time.Time // first day of the partition month being read
	last     time.Time
	file     *os.File
	scanner  *bufio.Scanner
	finished bool
}

// NewStreamer creates a tick reader over [from, to] for one
// (broker, market) pair under basePath.
func NewStreamer(basePath, brokerID, marketID string, from, to time.Time) *Streamer {
	fromUTC := from.UTC()
	toUTC := to.UTC()
	return &Streamer{
		dir:  filepath.Join(basePath, brokerID, marketID, "T"),
		from: float64(fromUTC.Unix()),
		to:   float64(toUTC.Unix()),
		cur:  time.Date(fromUTC.Year(), fromUTC.Month(), 1, 0, 0, 0, 0, time.UTC),
		last: time.Date(toUTC.Year(), toUTC.Month(), 1, 0, 0, 0, 0, time.UTC),
	}
}

// Next returns the next tick in range, or io.EOF once the range is
// exhausted. Malformed lines are skipped.
func (st *Streamer) Next() (models.Tick, error) {
	for {
		if st.finished {
			return models.Tick{}, io.EOF
		}

		if st.scanner == nil {
			if !st.advance() {
				return models.Tick{}, io.EOF
			}
			continue
		}

		if !st.scanner.Scan() {
			if err := st.scanner.Err(); err != nil {
				return models.Tick{}, err
			}
			st.closeFile()
			st.cur = st.cur.AddDate(0, 1, 0)
			continue
		}

		t, ok := parseRecord(st.scanner.Text())
		if !ok {
			continue
		}
		if t.Timestamp < st.from {
			continue
		}
		if t.Timestamp > st.to {
			st.finished = true
			st.closeFile()
			return models.Tick{}, io.EOF
		}
		return t, nil
	}
}

// NextBatch returns up to n ticks, or io.EOF along with whatever was
// read when the range ends.
func (st *Streamer) NextBatch(n int) ([]models.Tick, error) {
	out := make([]models.Tick, 0, n)
	for len(out) < n {
		t, err := st.Next()
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

// advance opens the next existing partition, skipping missing months.
// Returns false once past the end of the range.
func (st *Streamer) advance() bool {
	for !st.cur.After(st.last) {
		f, err := os.Open(filepath.Join(st.dir, st.cur.Format("200601")+".tsv"))
		if err == nil {
			st.file = f
			st.scanner = bufio.NewScanner(f)
			return true
		}
		st.cur = st.cur.AddDate(0, 1, 0)
	}
	st.finished = true
	return false
}

func (st *Streamer) closeFile() {
	if st.file != nil {
		_ = st.file.Close()
		st.file = nil
	}
	st.scanner = nil
}

// Close releases the open partition, if any.
func (st *Streamer) Close() error {
	st.finished = true
	st.closeFile()
	return nil
}

func parseRecord(line string) (models.Tick, bool) {
	fields := strings.Split(strings.TrimSpace(line), "\t")
	if len(fields) != 4 {
		return models.Tick{}, false
	}
	ms, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return models.Tick{}, false
	}
	bid, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return models.Tick{}, false
	}
	ask, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return models.Tick{}, false
	}
	vol, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return models.Tick{}, false
	}
	return models.Tick{
		Timestamp: float64(ms) / 1000,
		Bid:       bid,
		Ask:       ask,
		Volume:    vol,
	}, true
}
