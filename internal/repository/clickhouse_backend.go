package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/firebird631/siis-rev/internal/domain/models"
	"github.com/firebird631/siis-rev/internal/domain/repository"
)

// Batch insert chunk size, tuned to keep single statements reasonable.
const chunkSize = 2000

// ClickHouseBackend implements repository.Backend on ClickHouse.
//
// Every mutable table is a ReplacingMergeTree keyed on the row's natural
// key, so re-inserting a row (a retried flush batch, or a candle closed
// twice across restarts) converges to a single version instead of
// erroring. Liquidations are append-only events and use a plain
// MergeTree.
type ClickHouseBackend struct {
	db *sql.DB
}

// NewClickHouseBackend creates the backend over an open connection pool.
func NewClickHouseBackend(db *sql.DB) repository.Backend {
	return &ClickHouseBackend{db: db}
}

// Schema returns the idempotent DDL for every table, to be run through
// the client's InitSchema at startup.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ohlc (
			broker_id LowCardinality(String),
			market_id LowCardinality(String),
			timestamp Int64,
			timeframe Float64,
			bid_open String, bid_high String, bid_low String, bid_close String,
			ask_open String, ask_high String, ask_low String, ask_close String,
			volume String
		) ENGINE = ReplacingMergeTree
		PARTITION BY toYYYYMM(fromUnixTimestamp64Milli(timestamp))
		ORDER BY (broker_id, market_id, timeframe, timestamp)`,

		`CREATE TABLE IF NOT EXISTS market (
			broker_id LowCardinality(String),
			market_id LowCardinality(String),
			symbol String,
			market_type Int32, unit_type Int32, contract_type Int32,
			trade_type Int32, orders Int32,
			base String, base_display String, base_precision Int32,
			quote String, quote_display String, quote_precision Int32,
			expiry String,
			timestamp Int64,
			lot_size String, contract_size String, base_exchange_rate String,
			value_per_pip String, one_pip_means String, margin_factor String,
			min_size String, max_size String, step_size String,
			min_notional String, max_notional String, step_notional String,
			min_price String, max_price String, step_price String,
			maker_fee String, taker_fee String,
			maker_commission String, taker_commission String
		) ENGINE = ReplacingMergeTree(timestamp)
		ORDER BY (broker_id, market_id)`,

		`CREATE TABLE IF NOT EXISTS asset (
			broker_id LowCardinality(String),
			account_id String,
			asset_id String,
			last_trade_id String,
			timestamp Int64,
			quantity String,
			price String,
			quote_symbol String
		) ENGINE = ReplacingMergeTree(timestamp)
		ORDER BY (broker_id, account_id, asset_id)`,

		`CREATE TABLE IF NOT EXISTS liquidation (
			broker_id LowCardinality(String),
			market_id LowCardinality(String),
			timestamp Int64,
			direction Int8,
			price String,
			quantity String
		) ENGINE = MergeTree
		PARTITION BY toYYYYMM(fromUnixTimestamp64Milli(timestamp))
		ORDER BY (broker_id, market_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS user_trade (
			broker_id LowCardinality(String),
			account_id String,
			market_id LowCardinality(String),
			strategy_id String,
			trade_id Int32,
			trade_type Int32,
			data String,
			operations String
		) ENGINE = ReplacingMergeTree
		ORDER BY (broker_id, account_id, market_id, strategy_id, trade_id)`,

		`CREATE TABLE IF NOT EXISTS user_trader (
			broker_id LowCardinality(String),
			account_id String,
			market_id LowCardinality(String),
			strategy_id String,
			activity Int32,
			data String,
			regions String
		) ENGINE = ReplacingMergeTree
		ORDER BY (broker_id, account_id, market_id, strategy_id)`,
	}
}

func (b *ClickHouseBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *ClickHouseBackend) Close() error {
	return nil // pool is owned by pkg/clickhouse
}

func (b *ClickHouseBackend) UpsertOhlcs(ctx context.Context, rows []models.OhlcRow) error {
	const cols = 13
	return insertChunked(ctx, b.db, len(rows), cols,
		"INSERT INTO ohlc (broker_id, market_id, timestamp, timeframe, bid_open, bid_high, bid_low, bid_close, ask_open, ask_high, ask_low, ask_close, volume) VALUES %s",
		func(i int, args []interface{}) []interface{} {
			r := rows[i]
			return append(args,
				r.BrokerID, r.MarketID, r.Timestamp, float64(r.Timeframe),
				r.BidOpen, r.BidHigh, r.BidLow, r.BidClose,
				r.AskOpen, r.AskHigh, r.AskLow, r.AskClose,
				r.Volume)
		})
}

func (b *ClickHouseBackend) UpsertMarketInfo(ctx context.Context, rows []models.MarketInfo) error {
	const cols = 35
	return insertChunked(ctx, b.db, len(rows), cols,
		"INSERT INTO market (broker_id, market_id, symbol, market_type, unit_type, contract_type, trade_type, orders, base, base_display, base_precision, quote, quote_display, quote_precision, expiry, timestamp, lot_size, contract_size, base_exchange_rate, value_per_pip, one_pip_means, margin_factor, min_size, max_size, step_size, min_notional, max_notional, step_notional, min_price, max_price, step_price, maker_fee, taker_fee, maker_commission, taker_commission) VALUES %s",
		func(i int, args []interface{}) []interface{} {
			m := rows[i]
			return append(args,
				m.BrokerID, m.MarketID, m.Symbol,
				int32(m.MarketType), int32(m.UnitType), int32(m.ContractType),
				int32(m.TradeType), int32(m.Orders),
				m.Base, m.BaseDisplay, int32(m.BasePrecision),
				m.Quote, m.QuoteDisplay, int32(m.QuotePrecision),
				m.Expiry, m.Timestamp,
				m.LotSize, m.ContractSize, m.BaseExchangeRate,
				m.ValuePerPip, m.OnePipMeans, m.MarginFactor,
				m.MinSize, m.MaxSize, m.StepSize,
				m.MinNotional, m.MaxNotional, m.StepNotional,
				m.MinPrice, m.MaxPrice, m.StepPrice,
				m.MakerFee, m.TakerFee,
				m.MakerCommission, m.TakerCommission)
		})
}

func (b *ClickHouseBackend) UpsertAssets(ctx context.Context, rows []models.Asset) error {
	const cols = 8
	return insertChunked(ctx, b.db, len(rows), cols,
		"INSERT INTO asset (broker_id, account_id, asset_id, last_trade_id, timestamp, quantity, price, quote_symbol) VALUES %s",
		func(i int, args []interface{}) []interface{} {
			a := rows[i]
			return append(args,
				a.BrokerID, a.AccountID, a.AssetID, a.LastTradeID,
				a.Timestamp, a.Quantity, a.Price, a.QuoteSymbol)
		})
}

func (b *ClickHouseBackend) InsertLiquidations(ctx context.Context, rows []models.Liquidation) error {
	const cols = 6
	return insertChunked(ctx, b.db, len(rows), cols,
		"INSERT INTO liquidation (broker_id, market_id, timestamp, direction, price, quantity) VALUES %s",
		func(i int, args []interface{}) []interface{} {
			l := rows[i]
			return append(args,
				l.BrokerID, l.MarketID, l.Timestamp,
				int8(l.Direction), l.Price, l.Quantity)
		})
}

func (b *ClickHouseBackend) UpsertUserTrades(ctx context.Context, rows []models.UserTrade) error {
	const cols = 8
	return insertChunked(ctx, b.db, len(rows), cols,
		"INSERT INTO user_trade (broker_id, account_id, market_id, strategy_id, trade_id, trade_type, data, operations) VALUES %s",
		func(i int, args []interface{}) []interface{} {
			t := rows[i]
			return append(args,
				t.BrokerID, t.AccountID, t.MarketID, t.StrategyID,
				int32(t.TradeID), int32(t.TradeType),
				string(t.Data), string(t.Operations))
		})
}

func (b *ClickHouseBackend) UpsertUserTraders(ctx context.Context, rows []models.UserTrader) error {
	const cols = 7
	return insertChunked(ctx, b.db, len(rows), cols,
		"INSERT INTO user_trader (broker_id, account_id, market_id, strategy_id, activity, data, regions) VALUES %s",
		func(i int, args []interface{}) []interface{} {
			t := rows[i]
			return append(args,
				t.BrokerID, t.AccountID, t.MarketID, t.StrategyID,
				int32(t.Activity), string(t.Data), string(t.Regions))
		})
}

func (b *ClickHouseBackend) QueryOhlcRange(ctx context.Context, brokerID, marketID string, tf models.Timeframe, fromMS, toMS int64) ([]models.OhlcRow, error) {
	q := "SELECT broker_id, market_id, timestamp, timeframe, bid_open, bid_high, bid_low, bid_close, ask_open, ask_high, ask_low, ask_close, volume FROM ohlc FINAL WHERE broker_id = ? AND market_id = ? AND timeframe = ?"
	args := []interface{}{brokerID, marketID, float64(tf)}
	if fromMS > 0 {
		q += " AND timestamp >= ?"
		args = append(args, fromMS)
	}
	if toMS > 0 {
		q += " AND timestamp <= ?"
		args = append(args, toMS)
	}
	q += " ORDER BY timestamp ASC"

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOhlcRows(rows)
}

func (b *ClickHouseBackend) QueryOhlcLastN(ctx context.Context, brokerID, marketID string, tf models.Timeframe, lastN int) ([]models.OhlcRow, error) {
	q := "SELECT broker_id, market_id, timestamp, timeframe, bid_open, bid_high, bid_low, bid_close, ask_open, ask_high, ask_low, ask_close, volume FROM ohlc FINAL WHERE broker_id = ? AND market_id = ? AND timeframe = ? ORDER BY timestamp DESC LIMIT ?"
	rows, err := b.db.QueryContext(ctx, q, brokerID, marketID, float64(tf), lastN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := scanOhlcRows(rows)
	if err != nil {
		return nil, err
	}
	// Scanned newest first, callers expect ascending.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (b *ClickHouseBackend) QueryMarketInfo(ctx context.Context, brokerID, marketID string) (*models.MarketInfo, error) {
	q := "SELECT broker_id, market_id, symbol, market_type, unit_type, contract_type, trade_type, orders, base, base_display, base_precision, quote, quote_display, quote_precision, expiry, timestamp, lot_size, contract_size, base_exchange_rate, value_per_pip, one_pip_means, margin_factor, min_size, max_size, step_size, min_notional, max_notional, step_notional, min_price, max_price, step_price, maker_fee, taker_fee, maker_commission, taker_commission FROM market FINAL WHERE broker_id = ? AND market_id = ? LIMIT 1"

	var m models.MarketInfo
	var marketType, unitType, contractType, tradeType, orders int32
	var basePrecision, quotePrecision int32
	err := b.db.QueryRowContext(ctx, q, brokerID, marketID).Scan(
		&m.BrokerID, &m.MarketID, &m.Symbol,
		&marketType, &unitType, &contractType, &tradeType, &orders,
		&m.Base, &m.BaseDisplay, &basePrecision,
		&m.Quote, &m.QuoteDisplay, &quotePrecision,
		&m.Expiry, &m.Timestamp,
		&m.LotSize, &m.ContractSize, &m.BaseExchangeRate,
		&m.ValuePerPip, &m.OnePipMeans, &m.MarginFactor,
		&m.MinSize, &m.MaxSize, &m.StepSize,
		&m.MinNotional, &m.MaxNotional, &m.StepNotional,
		&m.MinPrice, &m.MaxPrice, &m.StepPrice,
		&m.MakerFee, &m.TakerFee,
		&m.MakerCommission, &m.TakerCommission)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.MarketType = int(marketType)
	m.UnitType = int(unitType)
	m.ContractType = int(contractType)
	m.TradeType = int(tradeType)
	m.Orders = int(orders)
	m.BasePrecision = int(basePrecision)
	m.QuotePrecision = int(quotePrecision)
	return &m, nil
}

func (b *ClickHouseBackend) DeleteOhlcsBefore(ctx context.Context, tf models.Timeframe, beforeMS int64) error {
	_, err := b.db.ExecContext(ctx,
		"ALTER TABLE ohlc DELETE WHERE timeframe <= ? AND timestamp < ?",
		float64(tf), beforeMS)
	return err
}

func scanOhlcRows(rows *sql.Rows) ([]models.OhlcRow, error) {
	var out []models.OhlcRow
	for rows.Next() {
		var r models.OhlcRow
		var tf float64
		if err := rows.Scan(
			&r.BrokerID, &r.MarketID, &r.Timestamp, &tf,
			&r.BidOpen, &r.BidHigh, &r.BidLow, &r.BidClose,
			&r.AskOpen, &r.AskHigh, &r.AskLow, &r.AskClose,
			&r.Volume); err != nil {
			return nil, err
		}
		r.Timeframe = models.Timeframe(tf)
		// Stored rows are closed candles; query layers clear the flag
		// for a bucket that is still the current one.
		r.Consolidated = true
		out = append(out, r)
	}
	return out, rows.Err()
}

// insertChunked builds multi-row VALUES inserts to cut round-trips,
// chunked so a huge backlog flush does not become one giant statement.
func insertChunked(ctx context.Context, db *sql.DB, n, cols int, format string, bind func(i int, args []interface{}) []interface{}) error {
	if n == 0 {
		return nil
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"

	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*cols)
		for i := start; i < end; i++ {
			values = append(values, placeholder)
			args = bind(i, args)
		}
		q := fmt.Sprintf(format, strings.Join(values, ","))
		if _, err := db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}
