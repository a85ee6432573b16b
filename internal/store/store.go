// Package store implements the write-behind persistence layer: rows are
// enqueued in memory and a background loop flushes them to the backend
// in batches, with retry-at-head on failure and periodic retention
// cleanup. It decouples durable-write latency from the aggregation hot
// path.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/firebird631/siis-rev/internal/domain/models"
	"github.com/firebird631/siis-rev/internal/domain/repository"
	"github.com/firebird631/siis-rev/internal/tickdb"
	"github.com/firebird631/siis-rev/pkg/logger"
	"github.com/firebird631/siis-rev/pkg/queue"
)

// Row kind names, used for pending counts and metrics labels.
const (
	KindOhlc        = "ohlc"
	KindMarket      = "market"
	KindAsset       = "asset"
	KindLiquidation = "liquidation"
	KindUserTrade   = "user_trade"
	KindUserTrader  = "user_trader"
	KindTick        = "tick"
)

// Option configures a Store.
type Option func(*Store)

// WithFlushInterval sets the idle period of the background loop.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Store) { s.flushInterval = d }
}

// WithOhlcBatching sets the candle flush thresholds: pending count above
// which a flush triggers, and the maximum time between flushes.
func WithOhlcBatching(size int, maxDelay time.Duration) Option {
	return func(s *Store) {
		s.ohlcBatchSize = size
		s.ohlcFlushMax = maxDelay
	}
}

// WithCleanupInterval sets the retention cleanup period.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) { s.cleanupEvery = d }
}

// WithRetention replaces the retention rule table.
func WithRetention(rules []RetentionRule) Option {
	return func(s *Store) { s.retention = rules }
}

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(s *Store) {
		s.backoffMin = min
		s.backoffMax = max
	}
}

// WithTickLog enables the tick log under basePath.
func WithTickLog(basePath string) Option {
	return func(s *Store) { s.ticksPath = basePath }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m repository.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store buffers rows by kind and flushes them in the background.
//
// Enqueue operations take one short lock (a list append) and never block
// on I/O; the flusher drains under the lock, releases it, then writes.
// During a backend outage pending lists grow unbounded on purpose:
// availability over memory, with PendingCounts as the operator signal.
type Store struct {
	backend repository.Backend
	log     *logger.Logger
	metrics repository.Metrics

	flushInterval time.Duration
	ohlcBatchSize int
	ohlcFlushMax  time.Duration
	cleanupEvery  time.Duration
	backoffMin    time.Duration
	backoffMax    time.Duration
	retention     []RetentionRule
	ticksPath     string

	mu           sync.Mutex
	ohlcs        queue.Pending[models.OhlcRow]
	markets      queue.Pending[models.MarketInfo]
	assets       queue.Pending[models.Asset]
	liquidations queue.Pending[models.Liquidation]
	userTrades   queue.Pending[models.UserTrade]
	userTraders  queue.Pending[models.UserTrader]
	tickStores   map[string]*tickdb.Storage

	lastOhlcFlush time.Time
	lastCleanup   time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a write-behind store over the given backend.
func New(backend repository.Backend, opts ...Option) *Store {
	s := &Store{
		backend:       backend,
		flushInterval: time.Millisecond,
		ohlcBatchSize: 500,
		ohlcFlushMax:  60 * time.Second,
		cleanupEvery:  4 * time.Hour,
		backoffMin:    time.Second,
		backoffMax:    30 * time.Second,
		retention:     DefaultRetention,
		tickStores:    make(map[string]*tickdb.Storage),
		done:          make(chan struct{}),
		lastOhlcFlush: time.Now(),
		lastCleanup:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log, _ = logger.New(&logger.Config{Level: "info", Format: "console", Output: "stderr"})
	}
	return s
}

// Start launches the background flusher.
func (s *Store) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
}

// StoreOhlc enqueues one consolidated candle. Sub-minute candles are
// never persisted and are dropped here.
func (s *Store) StoreOhlc(brokerID, marketID string, o *models.Ohlc) {
	if o.Timeframe < minPersistedTf {
		return
	}
	s.StoreOhlcRows(models.NewOhlcRow(brokerID, marketID, o))
}

// StoreOhlcRows enqueues candle rows directly.
func (s *Store) StoreOhlcRows(rows ...models.OhlcRow) {
	s.mu.Lock()
	s.ohlcs.Push(rows...)
	n := s.ohlcs.Len()
	s.mu.Unlock()
	s.setPending(KindOhlc, n)
}

// StoreMarketInfo enqueues market metadata rows.
func (s *Store) StoreMarketInfo(rows ...models.MarketInfo) {
	s.mu.Lock()
	s.markets.Push(rows...)
	n := s.markets.Len()
	s.mu.Unlock()
	s.setPending(KindMarket, n)
}

// StoreAsset enqueues user asset rows.
func (s *Store) StoreAsset(rows ...models.Asset) {
	s.mu.Lock()
	s.assets.Push(rows...)
	n := s.assets.Len()
	s.mu.Unlock()
	s.setPending(KindAsset, n)
}

// StoreLiquidation enqueues liquidation rows.
func (s *Store) StoreLiquidation(rows ...models.Liquidation) {
	s.mu.Lock()
	s.liquidations.Push(rows...)
	n := s.liquidations.Len()
	s.mu.Unlock()
	s.setPending(KindLiquidation, n)
}

// StoreUserTrade enqueues strategy trade rows.
func (s *Store) StoreUserTrade(rows ...models.UserTrade) {
	s.mu.Lock()
	s.userTrades.Push(rows...)
	n := s.userTrades.Len()
	s.mu.Unlock()
	s.setPending(KindUserTrade, n)
}

// StoreUserTrader enqueues strategy state rows.
func (s *Store) StoreUserTrader(rows ...models.UserTrader) {
	s.mu.Lock()
	s.userTraders.Push(rows...)
	n := s.userTraders.Len()
	s.mu.Unlock()
	s.setPending(KindUserTrader, n)
}

// StoreTick appends one raw tick to the market's tick log. No-op when
// the tick log is disabled.
func (s *Store) StoreTick(brokerID, marketID string, t models.Tick) {
	if s.ticksPath == "" {
		return
	}
	key := brokerID + "/" + marketID

	s.mu.Lock()
	ts, ok := s.tickStores[key]
	if !ok {
		ts = tickdb.NewStorage(s.ticksPath, brokerID, marketID)
		s.tickStores[key] = ts
	}
	s.mu.Unlock()

	ts.Store(t)
}

// PendingCounts returns the number of buffered rows per kind. Operators
// poll this to catch unbounded growth during a backend outage.
func (s *Store) PendingCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticks := 0
	for _, ts := range s.tickStores {
		ticks += ts.Pending()
	}
	return map[string]int{
		KindOhlc:        s.ohlcs.Len(),
		KindMarket:      s.markets.Len(),
		KindAsset:       s.assets.Len(),
		KindLiquidation: s.liquidations.Len(),
		KindUserTrade:   s.userTrades.Len(),
		KindUserTrader:  s.userTraders.Len(),
		KindTick:        ticks,
	}
}

// PendingRows returns the total backend-bound pending row count.
func (s *Store) PendingRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ohlcs.Len() + s.markets.Len() + s.assets.Len() +
		s.liquidations.Len() + s.userTrades.Len() + s.userTraders.Len()
}

// Close drains every pending list, forcing out-of-schedule flushes, then
// stops the background loop and closes the tick log. Draining blocks,
// bounded by ctx, until the backend accepts what is buffered: no
// enqueued row is silently lost on normal termination.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		for s.PendingRows() > 0 {
			s.flushAll(ctx, true)
			if s.PendingRows() == 0 {
				break
			}
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(s.backoffMin):
				continue
			}
			break
		}

		close(s.done)
		s.wg.Wait()

		s.mu.Lock()
		stores := s.tickStores
		s.tickStores = make(map[string]*tickdb.Storage)
		s.mu.Unlock()
		for _, ts := range stores {
			if cerr := ts.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

func (s *Store) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.flushAll(ctx, false)
			s.flushTicks()
			s.cleanup(ctx)
		}
	}
}

// flushAll drains each kind and writes it. Candle rows batch by size or
// age; every other kind flushes whenever non-empty so metadata surfaces
// quickly. force overrides the candle thresholds.
func (s *Store) flushAll(ctx context.Context, force bool) {
	flushKind(ctx, s, KindMarket, &s.markets, s.upsertMarketInfo)
	flushKind(ctx, s, KindAsset, &s.assets, s.backend.UpsertAssets)
	flushKind(ctx, s, KindLiquidation, &s.liquidations, s.backend.InsertLiquidations)
	flushKind(ctx, s, KindUserTrade, &s.userTrades, s.backend.UpsertUserTrades)
	flushKind(ctx, s, KindUserTrader, &s.userTraders, s.backend.UpsertUserTraders)

	s.mu.Lock()
	due := force || s.ohlcs.Len() > s.ohlcBatchSize || time.Since(s.lastOhlcFlush) >= s.ohlcFlushMax
	s.mu.Unlock()
	if due {
		flushKind(ctx, s, KindOhlc, &s.ohlcs, s.backend.UpsertOhlcs)
		s.mu.Lock()
		s.lastOhlcFlush = time.Now()
		s.mu.Unlock()
	}
}

// upsertMarketInfo applies the margin-factor fallback before the write:
// a market reported while down has no margin factor, so the previously
// stored value must survive instead of being overwritten.
func (s *Store) upsertMarketInfo(ctx context.Context, rows []models.MarketInfo) error {
	for i := range rows {
		if rows[i].MarginFactor != "" {
			continue
		}
		prev, err := s.backend.QueryMarketInfo(ctx, rows[i].BrokerID, rows[i].MarketID)
		if err == nil && prev != nil && prev.MarginFactor != "" {
			rows[i].MarginFactor = prev.MarginFactor
		} else {
			rows[i].MarginFactor = "1.0"
		}
	}
	return s.backend.UpsertMarketInfo(ctx, rows)
}

// flushKind drains one pending list under the lock, releases it, then
// attempts the durable write. A failed batch goes back at the head and
// is retried on a later pass; the producer never sees the error.
func flushKind[T any](ctx context.Context, s *Store, kind string, q *queue.Pending[T], write func(context.Context, []T) error) {
	s.mu.Lock()
	batch := q.DrainAll()
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	start := time.Now()
	if err := write(ctx, batch); err != nil {
		s.mu.Lock()
		q.RequeueHead(batch)
		n := q.Len()
		s.mu.Unlock()
		s.setPending(kind, n)

		if s.metrics != nil {
			s.metrics.RecordFlushError(kind)
		}
		s.log.Error("flush failed, batch requeued",
			logger.String("kind", kind),
			logger.Int("rows", len(batch)),
			logger.Error(err))
		s.reconnect(ctx)
		return
	}

	elapsed := time.Since(start).Seconds()
	if s.metrics != nil {
		s.metrics.RecordFlush(kind, len(batch), elapsed)
	}
	s.log.Debug("batch flushed",
		logger.String("kind", kind),
		logger.Int("rows", len(batch)),
		logger.Float64("seconds", elapsed))
	s.mu.Lock()
	n := q.Len()
	s.mu.Unlock()
	s.setPending(kind, n)
}

// reconnect pings the backend and, while it stays unreachable, waits
// with bounded exponential backoff. Enqueue keeps succeeding meanwhile;
// only the flusher waits. The wait ends when the backend answers, the
// store stops, or ctx ends, so a draining Close with a deadline is
// never wedged here.
func (s *Store) reconnect(ctx context.Context) {
	if s.backend.Ping(ctx) == nil {
		return
	}

	delay := s.backoffMin
	for {
		s.log.Warn("backend unreachable, retrying", logger.Duration("delay", delay))
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if s.backend.Ping(ctx) == nil {
			s.log.Info("backend connection restored")
			return
		}
		delay *= 2
		if delay > s.backoffMax {
			delay = s.backoffMax
		}
	}
}

func (s *Store) flushTicks() {
	s.mu.Lock()
	stores := make([]*tickdb.Storage, 0, len(s.tickStores))
	for _, ts := range s.tickStores {
		stores = append(stores, ts)
	}
	s.mu.Unlock()

	for _, ts := range stores {
		if !ts.HasData() {
			continue
		}
		if err := ts.Flush(); err != nil {
			s.log.Error("tick log flush failed", logger.Error(err))
		}
	}
}

// cleanup deletes candles past their retention age, coarsest rule first.
// Failure is logged and retried on the next period, never fatal.
func (s *Store) cleanup(ctx context.Context) {
	s.mu.Lock()
	due := time.Since(s.lastCleanup) >= s.cleanupEvery
	if due {
		s.lastCleanup = time.Now()
	}
	s.mu.Unlock()
	if !due {
		return
	}

	now := time.Now()
	for _, rule := range s.retention {
		before := now.Add(-rule.MaxAge).UnixMilli()
		if err := s.backend.DeleteOhlcsBefore(ctx, rule.Timeframe, before); err != nil {
			s.log.Error("retention cleanup failed",
				logger.String("timeframe", rule.Timeframe.String()),
				logger.Error(err))
		}
	}
}

func (s *Store) setPending(kind string, n int) {
	if s.metrics != nil {
		s.metrics.SetPending(kind, n)
	}
}
