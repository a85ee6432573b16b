package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/firebird631/siis-rev/internal/domain/models"
)

type deleteCall struct {
	tf       models.Timeframe
	beforeMS int64
}

// fakeBackend records everything it accepts and can be told to fail the
// next N write calls.
type fakeBackend struct {
	mu          sync.Mutex
	failures    int
	pingErr     error
	ohlcBatches [][]models.OhlcRow
	markets     []models.MarketInfo
	assets      []models.Asset
	prevMarket  *models.MarketInfo
	deletes     []deleteCall
}

func (b *fakeBackend) maybeFail() error {
	if b.failures > 0 {
		b.failures--
		return errors.New("backend unavailable")
	}
	return nil
}

func (b *fakeBackend) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pingErr
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) UpsertOhlcs(ctx context.Context, rows []models.OhlcRow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.maybeFail(); err != nil {
		return err
	}
	batch := make([]models.OhlcRow, len(rows))
	copy(batch, rows)
	b.ohlcBatches = append(b.ohlcBatches, batch)
	return nil
}

func (b *fakeBackend) UpsertMarketInfo(ctx context.Context, rows []models.MarketInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.maybeFail(); err != nil {
		return err
	}
	b.markets = append(b.markets, rows...)
	return nil
}

func (b *fakeBackend) UpsertAssets(ctx context.Context, rows []models.Asset) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.maybeFail(); err != nil {
		return err
	}
	b.assets = append(b.assets, rows...)
	return nil
}

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
	return nil, nil
}

func (b *fakeBackend) QueryOhlcLastN(ctx context.Context, brokerID, marketID string, tf models.Timeframe, lastN int) ([]models.OhlcRow, error) {
	return nil, nil
}

func (b *fakeBackend) QueryMarketInfo(ctx context.Context, brokerID, marketID string) (*models.MarketInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prevMarket, nil
}

func (b *fakeBackend) DeleteOhlcsBefore(ctx context.Context, tf models.Timeframe, beforeMS int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, deleteCall{tf: tf, beforeMS: beforeMS})
	return nil
}

func (b *fakeBackend) totalOhlcs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, batch := range b.ohlcBatches {
		n += len(batch)
	}
	return n
}

func minuteCandle(basetime float64, price float64) *models.Ohlc {
	o := models.NewOhlc(basetime, models.Tf1Min)
	o.SetBid(price)
	o.SetAsk(price + 0.01)
	o.Volume = 1
	o.SetConsolidated()
	return o
}

func TestStoreOhlcFlushBySize(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, WithBackoff(time.Millisecond, time.Millisecond))

	for i := 0; i < 500; i++ {
		s.StoreOhlc("binance", "BTCUSDT", minuteCandle(float64(i*60), 100))
	}
	s.flushAll(context.Background(), false)
	if got := backend.totalOhlcs(); got != 0 {
		t.Fatalf("expected no flush at 500 pending rows, backend got %d", got)
	}

	s.StoreOhlc("binance", "BTCUSDT", minuteCandle(500*60, 100))
	s.flushAll(context.Background(), false)

	if len(backend.ohlcBatches) != 1 {
		t.Fatalf("expected one flush batch, got %d", len(backend.ohlcBatches))
	}
	if got := len(backend.ohlcBatches[0]); got != 501 {
		t.Fatalf("expected 501 rows in batch, got %d", got)
	}
	if s.PendingRows() != 0 {
		t.Fatalf("expected empty pending after flush, got %d", s.PendingRows())
	}
}

func TestStoreOhlcFlushByAge(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, WithOhlcBatching(500, 10*time.Millisecond))

	s.StoreOhlc("binance", "BTCUSDT", minuteCandle(0, 100))
	s.flushAll(context.Background(), false)
	if backend.totalOhlcs() != 0 {
		t.Fatal("flushed a small batch before the max delay")
	}

	time.Sleep(20 * time.Millisecond)
	s.flushAll(context.Background(), false)
	if backend.totalOhlcs() != 1 {
		t.Fatalf("expected age-triggered flush of 1 row, backend got %d", backend.totalOhlcs())
	}
}

func TestStoreSubMinuteDropped(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend)

	o := models.NewOhlc(0, models.Tf1Sec)
	o.SetBid(1)
	o.SetAsk(1)
	o.SetConsolidated()
	s.StoreOhlc("binance", "BTCUSDT", o)

	if n := s.PendingCounts()[KindOhlc]; n != 0 {
		t.Fatalf("sub-minute candle must not be queued, pending=%d", n)
	}
}

func TestStoreRequeueKeepsOrderAcrossFailures(t *testing.T) {
	backend := &fakeBackend{failures: 3}
	s := New(backend, WithBackoff(time.Millisecond, time.Millisecond))

	for i := 0; i < 10; i++ {
		s.StoreOhlc("binance", "BTCUSDT", minuteCandle(float64(i*60), 100+float64(i)))
	}

	// Three forced flushes fail and requeue, the fourth succeeds.
	for i := 0; i < 4; i++ {
		s.flushAll(context.Background(), true)
	}

	if len(backend.ohlcBatches) != 1 {
		t.Fatalf("expected exactly one accepted batch, got %d", len(backend.ohlcBatches))
	}
	batch := backend.ohlcBatches[0]
	if len(batch) != 10 {
		t.Fatalf("expected all 10 rows delivered, got %d", len(batch))
	}
	for i, row := range batch {
		if row.Timestamp != int64(i*60*1000) {
			t.Fatalf("row %d out of order: timestamp=%d", i, row.Timestamp)
		}
	}
	if s.PendingRows() != 0 {
		t.Fatalf("expected empty pending after success, got %d", s.PendingRows())
	}
}

func TestStoreMarketInfoFlushesEveryPass(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend)

	s.StoreMarketInfo(models.MarketInfo{BrokerID: "ig", MarketID: "EURUSD", MarginFactor: "33.3"})
	s.flushAll(context.Background(), false)

	if len(backend.markets) != 1 {
		t.Fatalf("expected market info flushed on first pass, got %d rows", len(backend.markets))
	}
}

func TestStoreMarginFactorFallback(t *testing.T) {
	backend := &fakeBackend{
		prevMarket: &models.MarketInfo{BrokerID: "ig", MarketID: "EURUSD", MarginFactor: "33.3"},
	}
	s := New(backend)

	s.StoreMarketInfo(models.MarketInfo{BrokerID: "ig", MarketID: "EURUSD"})
	s.flushAll(context.Background(), false)

	if len(backend.markets) != 1 {
		t.Fatalf("expected one market row, got %d", len(backend.markets))
	}
	if got := backend.markets[0].MarginFactor; got != "33.3" {
		t.Fatalf("expected previously stored margin factor, got %q", got)
	}
}

func TestStoreMarginFactorDefault(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend)

	s.StoreMarketInfo(models.MarketInfo{BrokerID: "ig", MarketID: "EURUSD"})
	s.flushAll(context.Background(), false)

	if got := backend.markets[0].MarginFactor; got != "1.0" {
		t.Fatalf("expected default margin factor 1.0, got %q", got)
	}
}

func TestStoreCloseDrains(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, WithFlushInterval(time.Hour)) // loop never fires on its own
	s.Start()

	for i := 0; i < 7; i++ {
		s.StoreOhlc("binance", "BTCUSDT", minuteCandle(float64(i*60), 100))
	}
	s.StoreAsset(models.Asset{BrokerID: "binance", AccountID: "a1", AssetID: "BTC", Quantity: "0.5"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if backend.totalOhlcs() != 7 {
		t.Fatalf("expected 7 candles drained, backend got %d", backend.totalOhlcs())
	}
	if len(backend.assets) != 1 {
		t.Fatalf("expected 1 asset drained, backend got %d", len(backend.assets))
	}
	if s.PendingRows() != 0 {
		t.Fatalf("expected empty pending after close, got %d", s.PendingRows())
	}
}

func TestStoreCloseHonorsDeadlineWhileBackendDown(t *testing.T) {
	backend := &fakeBackend{failures: 1 << 30, pingErr: errors.New("backend down")}
	s := New(backend, WithBackoff(50*time.Millisecond, time.Second))
	s.Start()

	s.StoreOhlc("binance", "BTCUSDT", minuteCandle(0, 100))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Close(ctx) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error from draining against a dead backend")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the context deadline")
	}

	if s.PendingRows() == 0 {
		t.Fatal("rows the backend never accepted must stay pending")
	}
}

func TestStoreTickLog(t *testing.T) {
	base := t.TempDir()
	backend := &fakeBackend{}
	s := New(backend, WithTickLog(base))

	at := time.Date(2023, time.June, 5, 12, 0, 0, 0, time.UTC)
	s.StoreTick("binance", "BTCUSDT", models.Tick{
		Timestamp: float64(at.UnixMilli()) / 1000,
		Bid:       25000.5, Ask: 25001.0, Volume: 0.25,
	})

	if n := s.PendingCounts()[KindTick]; n != 1 {
		t.Fatalf("expected 1 pending tick, got %d", n)
	}

	s.flushTicks()

	path := filepath.Join(base, "binance", "BTCUSDT", "T", "202306.tsv")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected tick partition at %s: %v", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStoreRetentionCleanup(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, WithCleanupInterval(time.Millisecond))

	s.mu.Lock()
	s.lastCleanup = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	s.cleanup(context.Background())

	if len(backend.deletes) != len(DefaultRetention) {
		t.Fatalf("expected %d delete calls, got %d", len(DefaultRetention), len(backend.deletes))
	}
	for i, rule := range DefaultRetention {
		call := backend.deletes[i]
		if call.tf != rule.Timeframe {
			t.Fatalf("delete %d: expected timeframe %v, got %v", i, rule.Timeframe, call.tf)
		}
		wantBefore := time.Now().Add(-rule.MaxAge).UnixMilli()
		if call.beforeMS > wantBefore || call.beforeMS < wantBefore-10_000 {
			t.Fatalf("delete %d: cutoff %d too far from %d", i, call.beforeMS, wantBefore)
		}
	}

	// A second pass inside the interval is a no-op.
	backend.deletes = nil
	s.mu.Lock()
	s.lastCleanup = time.Now()
	s.cleanupEvery = time.Hour
	s.mu.Unlock()
	s.cleanup(context.Background())
	if len(backend.deletes) != 0 {
		t.Fatalf("expected no cleanup inside interval, got %d calls", len(backend.deletes))
	}
}
