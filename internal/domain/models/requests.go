package models

// CandlesRequest is the query for historical candles. LastN, when set,
// wins over the From/To range.
type CandlesRequest struct {
	Broker string `query:"broker" validate:"required"`
	Market string `query:"market" validate:"required"`
	TF     string `query:"tf" default:"1m" validate:"required"`
	From   string `query:"from"` // RFC3339 or unix seconds/ms
	To     string `query:"to"`
	LastN  int    `query:"last_n" validate:"gte=0,lte=50000"`
}

// SubscribeRequest adds or removes one aggregated timeframe for a market.
type SubscribeRequest struct {
	Market string `json:"market" validate:"required"`
	TF     string `json:"tf" validate:"required"`
}

// MarketInfoRequest identifies one market of one broker.
type MarketInfoRequest struct {
	Broker string `param:"broker" validate:"required"`
	Market string `param:"market" validate:"required"`
}
