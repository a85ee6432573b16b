package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/firebird631/siis-rev/internal/domain/models"
	domrepo "github.com/firebird631/siis-rev/internal/domain/repository"
	"github.com/firebird631/siis-rev/pkg/cache"
	"github.com/firebird631/siis-rev/pkg/logger"
)

// CandlesUseCase serves historical candle queries from the backend, with
// a cache in front so chart polling does not hammer ClickHouse.
type CandlesUseCase struct {
	backend  domrepo.Backend
	cache    cache.Service
	cacheTTL time.Duration
	log      *logger.Logger
}

func NewCandlesUseCase(backend domrepo.Backend, c cache.Service, log *logger.Logger) *CandlesUseCase {
	return &CandlesUseCase{backend: backend, cache: c, cacheTTL: 10 * time.Second, log: log}
}

type GetCandlesParams struct {
	BrokerID  string
	MarketID  string
	Timeframe models.Timeframe
	From      time.Time // zero means unbounded
	To        time.Time // zero means unbounded
	LastN     int       // when > 0, From/To are ignored
}

type GetCandlesResult struct {
	BrokerID  string
	MarketID  string
	Timeframe string
	Count     int
	Candles   []models.OhlcRow
}

func (uc *CandlesUseCase) GetCandles(ctx context.Context, p GetCandlesParams) (*GetCandlesResult, error) {
	if p.BrokerID == "" || p.MarketID == "" {
		return nil, fmt.Errorf("broker and market required")
	}
	if !models.IsValidTimeframe(p.Timeframe) || p.Timeframe == models.TfTick {
		return nil, fmt.Errorf("invalid timeframe")
	}
	if p.LastN == 0 && !p.From.IsZero() && !p.To.IsZero() && p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if p.LastN > 50000 {
		p.LastN = 50000
	}

	key := uc.cacheKey(p)
	if uc.cache != nil {
		// Values are cached as JSON strings, the one form every cache
		// implementation round-trips.
		var raw string
		if err := uc.cache.Get(ctx, key, &raw); err == nil {
			var cached []models.OhlcRow
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return uc.result(p, cached), nil
			}
		}
	}

	var rows []models.OhlcRow
	var err error
	if p.LastN > 0 {
		rows, err = uc.backend.QueryOhlcLastN(ctx, p.BrokerID, p.MarketID, p.Timeframe, p.LastN)
	} else {
		rows, err = uc.backend.QueryOhlcRange(ctx, p.BrokerID, p.MarketID, p.Timeframe,
			msBound(p.From), msBound(p.To))
	}
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}

	if uc.cache != nil {
		if raw, merr := json.Marshal(rows); merr == nil {
			if err := uc.cache.Set(ctx, key, string(raw), uc.cacheTTL); err != nil {
				uc.log.Debug("candles cache set failed", logger.Error(err))
			}
		}
	}
	return uc.result(p, rows), nil
}

func (uc *CandlesUseCase) cacheKey(p GetCandlesParams) string {
	return cache.GenerateKeyWithParams("candles",
		p.BrokerID, p.MarketID, p.Timeframe.String(),
		msBound(p.From), msBound(p.To), p.LastN)
}

func (uc *CandlesUseCase) result(p GetCandlesParams, rows []models.OhlcRow) *GetCandlesResult {
	// A row whose bucket has not elapsed yet is still forming.
	if n := len(rows); n > 0 {
		last := &rows[n-1]
		if last.Timestamp+int64(p.Timeframe.Seconds()*1000) > time.Now().UnixMilli() {
			last.Consolidated = false
		}
	}
	return &GetCandlesResult{
		BrokerID:  p.BrokerID,
		MarketID:  p.MarketID,
		Timeframe: p.Timeframe.String(),
		Count:     len(rows),
		Candles:   rows,
	}
}

func msBound(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
