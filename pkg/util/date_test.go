package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestParseTimeMilliseconds(t *testing.T) {
	at := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got, ok := ParseTime(strconv.FormatInt(at.UnixMilli(), 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if !got.Equal(at) {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestAlignRange(t *testing.T) {
	from := time.Date(2024, 10, 10, 10, 10, 42, 0, time.UTC)
	to := time.Date(2024, 10, 10, 11, 59, 59, 0, time.UTC)

	af, at := AlignRange(from, to, 5*time.Minute)
	if af.Minute() != 10 || af.Second() != 0 {
		t.Fatalf("unexpected aligned from %v", af)
	}
	if at.Minute() != 55 || at.Second() != 0 {
		t.Fatalf("unexpected aligned to %v", at)
	}

	af, at = AlignRange(time.Time{}, to, time.Minute)
	if !af.IsZero() {
		t.Fatalf("zero from must stay zero")
	}
	if at.Second() != 0 {
		t.Fatalf("unexpected aligned to %v", at)
	}
}
