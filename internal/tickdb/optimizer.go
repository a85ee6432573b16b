package tickdb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// OptimizePartition rewrites one monthly partition with its records
// sorted by timestamp and exact duplicates removed. Concurrent writers
// (two feeds, or a live process plus a manual fetch) can interleave
// entries out of order; this offline pass repairs the file without
// losing any distinct sample.
//
// The rewrite goes through a temp file and a rename, so a crash leaves
// the original partition untouched.
func OptimizePartition(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open partition: %w", err)
	}

	type record struct {
		ts   int64
		line string
	}
	var records []record

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		ts, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		records = append(records, record{ts: ts, line: line})
	}
	if err := scanner.Err(); err != nil {
		_ = f.Close()
		return fmt.Errorf("read partition: %w", err)
	}
	_ = f.Close()

	// stable sort keeps the arrival order of distinct same-timestamp samples
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ts < records[j].ts
	})

	tmp, err := os.CreateTemp(filepath.Dir(path), ".optimize-*")
	if err != nil {
		return fmt.Errorf("temp partition: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	w := bufio.NewWriter(tmp)
	var curTs int64
	seen := make(map[string]struct{})
	for i, r := range records {
		if i == 0 || r.ts != curTs {
			curTs = r.ts
			clear(seen)
		}
		if _, dup := seen[r.line]; dup {
			continue
		}
		seen[r.line] = struct{}{}
		if _, err := w.WriteString(r.line + "\n"); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write partition: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush partition: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close partition: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}
