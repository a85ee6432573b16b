package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/firebird631/siis-rev/internal/domain/models"
	"github.com/firebird631/siis-rev/internal/ohlc"
	"github.com/firebird631/siis-rev/internal/store"
	"github.com/firebird631/siis-rev/pkg/cache"
	"github.com/firebird631/siis-rev/pkg/logger"
)

type fakeBackend struct {
	mu    sync.Mutex
	ohlcs []models.OhlcRow
}

func (b *fakeBackend) Ping(ctx context.Context) error { return nil }
func (b *fakeBackend) Close() error                   { return nil }

func (b *fakeBackend) UpsertOhlcs(ctx context.Context, rows []models.OhlcRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ohlcs = append(b.ohlcs, rows...)
	return nil
}

func (b *fakeBackend) UpsertMarketInfo(ctx context.Context, rows []models.MarketInfo) error {
	return nil
}
func (b *fakeBackend) UpsertAssets(ctx context.Context, rows []models.Asset) error { return nil }
func (b *fakeBackend) InsertLiquidations(ctx context.Context, rows []models.Liquidation) error {
	return nil
}
func (b *fakeBackend) UpsertUserTrades(ctx context.Context, rows []models.UserTrade) error {
	return nil
}
func (b *fakeBackend) UpsertUserTraders(ctx context.Context, rows []models.UserTrader) error {
	return nil
}

func (b *fakeBackend) QueryOhlcRange(ctx context.Context, brokerID, marketID string, tf models.Timeframe, fromMS, toMS int64) ([]models.OhlcRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.OhlcRow
	for _, r := range b.ohlcs {
		if r.BrokerID != brokerID || r.MarketID != marketID || r.Timeframe != tf {
			continue
		}
		if fromMS > 0 && r.Timestamp < fromMS {
			continue
		}
		if toMS > 0 && r.Timestamp > toMS {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (b *fakeBackend) QueryOhlcLastN(ctx context.Context, brokerID, marketID string, tf models.Timeframe, lastN int) ([]models.OhlcRow, error) {
	rows, _ := b.QueryOhlcRange(ctx, brokerID, marketID, tf, 0, 0)
	if len(rows) > lastN {
		rows = rows[len(rows)-lastN:]
	}
	return rows, nil
}

func (b *fakeBackend) QueryMarketInfo(ctx context.Context, brokerID, marketID string) (*models.MarketInfo, error) {
	return nil, nil
}

func (b *fakeBackend) DeleteOhlcsBefore(ctx context.Context, tf models.Timeframe, beforeMS int64) error {
	return nil
}

type fakeMetrics struct {
	mu        sync.Mutex
	anomalies map[string]int
}

func (m *fakeMetrics) RecordTick(marketID string)                            {}
func (m *fakeMetrics) RecordOhlcClosed(marketID string, tf models.Timeframe) {}
func (m *fakeMetrics) RecordFlush(kind string, rows int, seconds float64)    {}
func (m *fakeMetrics) RecordFlushError(kind string)                          {}
func (m *fakeMetrics) SetPending(kind string, n int)                         {}

func (m *fakeMetrics) RecordAnomaly(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.anomalies == nil {
		m.anomalies = make(map[string]int)
	}
	m.anomalies[kind]++
}

func (m *fakeMetrics) anomaly(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anomalies[kind]
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestTicksHandlerEndToEnd(t *testing.T) {
	backend := &fakeBackend{}
	st := store.New(backend, store.WithFlushInterval(time.Hour))
	st.Start()

	table, err := ohlc.NewTable([]models.Timeframe{models.Tf1Min})
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	ing := NewIngestor("binance", table, st, nil, nil, testLogger(t))
	if err := ing.Watch("BTCUSDT"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	h := NewKafkaTicksHandler("md.ticks", ing, nil)

	ctx := context.Background()
	msgs := []string{
		`{"market":"BTCUSDT","t":0,"bid":100.0,"ask":100.1,"v":1}`,
		`{"market":"BTCUSDT","t":30000,"bid":101.0,"ask":101.1,"v":1}`,
		`{"market":"BTCUSDT","t":60000,"bid":99.0,"ask":99.1,"v":1}`,
	}
	for _, m := range msgs {
		if err := h.Handle(ctx, []byte(m)); err != nil {
			t.Fatalf("handle %s: %v", m, err)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.Close(cctx); err != nil {
		t.Fatalf("close store: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.ohlcs) != 1 {
		t.Fatalf("expected 1 closed candle persisted, got %d", len(backend.ohlcs))
	}
	row := backend.ohlcs[0]
	if row.BrokerID != "binance" || row.MarketID != "BTCUSDT" {
		t.Fatalf("unexpected row identity: %+v", row)
	}
	if row.Timestamp != 0 || row.Timeframe != models.Tf1Min {
		t.Fatalf("unexpected bucket: ts=%d tf=%v", row.Timestamp, row.Timeframe)
	}
	if row.BidOpen != "100" || row.BidHigh != "101" || row.BidLow != "100" || row.BidClose != "101" {
		t.Fatalf("unexpected bid side: %+v", row)
	}
	if row.Volume != "2" {
		t.Fatalf("expected volume 2, got %s", row.Volume)
	}
}

func TestTicksHandlerRejectsBadPayload(t *testing.T) {
	backend := &fakeBackend{}
	st := store.New(backend, store.WithFlushInterval(time.Hour))
	table, _ := ohlc.NewTable([]models.Timeframe{models.Tf1Min})
	ing := NewIngestor("binance", table, st, nil, nil, testLogger(t))
	h := NewKafkaTicksHandler("md.ticks", ing, nil)

	if err := h.Handle(context.Background(), []byte("not json")); err == nil {
		t.Fatal("expected error for invalid json")
	}
	if err := h.Handle(context.Background(), []byte(`{"t":1000,"bid":1,"ask":1}`)); err == nil {
		t.Fatal("expected error for missing market")
	}
}

func TestIngestorCountsCrossedQuotes(t *testing.T) {
	backend := &fakeBackend{}
	st := store.New(backend, store.WithFlushInterval(time.Hour))
	table, _ := ohlc.NewTable([]models.Timeframe{models.Tf1Min})
	metrics := &fakeMetrics{}
	ing := NewIngestor("binance", table, st, nil, metrics, testLogger(t))
	if err := ing.Watch("BTCUSDT"); err != nil {
		t.Fatalf("watch: %v", err)
	}

	ctx := context.Background()
	ing.HandleTick(ctx, "BTCUSDT", models.Tick{Timestamp: 1, Bid: 100.0, Ask: 100.1, Volume: 1})
	ing.HandleTick(ctx, "BTCUSDT", models.Tick{Timestamp: 2, Bid: 100.2, Ask: 100.1, Volume: 1})

	if got := metrics.anomaly("crossed_quote"); got != 1 {
		t.Fatalf("expected 1 crossed quote counted, got %d", got)
	}

	// The crossed sample still aggregates, it is never dropped.
	ing.HandleTick(ctx, "BTCUSDT", models.Tick{Timestamp: 60, Bid: 100.0, Ask: 100.1, Volume: 1})
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.Close(cctx); err != nil {
		t.Fatalf("close store: %v", err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.ohlcs) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(backend.ohlcs))
	}
	row := backend.ohlcs[0]
	if row.Volume != "2" || row.BidHigh != "100.2" {
		t.Fatalf("crossed sample was not folded in: %+v", row)
	}
}

func TestGetCandlesValidation(t *testing.T) {
	uc := NewCandlesUseCase(&fakeBackend{}, nil, testLogger(t))

	cases := []GetCandlesParams{
		{MarketID: "BTCUSDT", Timeframe: models.Tf1Min},
		{BrokerID: "binance", Timeframe: models.Tf1Min},
		{BrokerID: "binance", MarketID: "BTCUSDT", Timeframe: models.Timeframe(42)},
		{BrokerID: "binance", MarketID: "BTCUSDT", Timeframe: models.Tf1Min,
			From: time.Unix(100, 0), To: time.Unix(50, 0)},
	}
	for i, p := range cases {
		if _, err := uc.GetCandles(context.Background(), p); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestGetCandlesRangeAndCache(t *testing.T) {
	backend := &fakeBackend{}
	row := models.OhlcRow{
		BrokerID: "binance", MarketID: "BTCUSDT",
		Timestamp: 60_000, Timeframe: models.Tf1Min,
		BidOpen: "1", BidHigh: "1", BidLow: "1", BidClose: "1",
		AskOpen: "1", AskHigh: "1", AskLow: "1", AskClose: "1",
		Volume: "1", Consolidated: true,
	}
	backend.ohlcs = append(backend.ohlcs, row)

	uc := NewCandlesUseCase(backend, cache.NewMemoryCache(), testLogger(t))
	p := GetCandlesParams{BrokerID: "binance", MarketID: "BTCUSDT", Timeframe: models.Tf1Min}

	res, err := uc.GetCandles(context.Background(), p)
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if res.Count != 1 || res.Candles[0].Timestamp != 60_000 {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Second call is served from cache even if the backend forgets the row.
	backend.mu.Lock()
	backend.ohlcs = nil
	backend.mu.Unlock()

	res, err = uc.GetCandles(context.Background(), p)
	if err != nil {
		t.Fatalf("cached get candles: %v", err)
	}
	if res.Count != 1 {
		t.Fatalf("expected cache hit with 1 candle, got %d", res.Count)
	}
}
