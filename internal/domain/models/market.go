package models

// MarketInfo is the metadata row for one market of one broker, keyed by
// (BrokerID, MarketID). Decimal fields are carried as strings end to end
// so precision survives the round trip through storage.
//
// MarginFactor is empty when the market is down and the feed could not
// report it; the backend must then fall back to the previously stored
// value instead of overwriting it.
type MarketInfo struct {
	BrokerID string
	MarketID string
	Symbol   string

	MarketType   int
	UnitType     int
	ContractType int
	TradeType    int
	Orders       int

	Base           string
	BaseDisplay    string
	BasePrecision  int
	Quote          string
	QuoteDisplay   string
	QuotePrecision int

	Expiry    string
	Timestamp int64 // ms since epoch, 0 if unknown

	LotSize          string
	ContractSize     string
	BaseExchangeRate string
	ValuePerPip      string
	OnePipMeans      string
	MarginFactor     string

	MinSize      string
	MaxSize      string
	StepSize     string
	MinNotional  string
	MaxNotional  string
	StepNotional string
	MinPrice     string
	MaxPrice     string
	StepPrice    string

	MakerFee        string
	TakerFee        string
	MakerCommission string
	TakerCommission string
}

// Asset is a user asset quantity row, keyed by (BrokerID, AccountID, AssetID).
type Asset struct {
	BrokerID    string
	AccountID   string
	AssetID     string
	LastTradeID string
	Timestamp   int64 // ms of the last price update
	Quantity    string
	Price       string
	QuoteSymbol string
}

// Liquidation is a market liquidation event row.
type Liquidation struct {
	BrokerID  string
	MarketID  string
	Timestamp int64 // ms since epoch
	Direction int   // -1 short, 1 long
	Price     string
	Quantity  string
}

// UserTrade is a persisted strategy trade, keyed by
// (BrokerID, AccountID, MarketID, StrategyID, TradeID).
type UserTrade struct {
	BrokerID   string
	AccountID  string
	MarketID   string
	StrategyID string
	TradeID    int
	TradeType  int
	Data       []byte // json encoded
	Operations []byte // json encoded
}

// UserTrader is the persisted per-market strategy state, keyed by
// (BrokerID, AccountID, MarketID, StrategyID).
type UserTrader struct {
	BrokerID   string
	AccountID  string
	MarketID   string
	StrategyID string
	Activity   int
	Data       []byte // json encoded
	Regions    []byte // json encoded
}
