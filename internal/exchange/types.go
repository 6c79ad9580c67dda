package exchange

import "context"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Fill is the exchange's post-trade report for one order, fetched by
// id after placement. Submit-time echoes are never trusted.
type Fill struct {
	OrderID     string
	Symbol      string
	Side        Side
	ExecutedQty float64
	AvgPrice    float64
	Status      string
}

func (f Fill) Filled() bool {
	return f.ExecutedQty > 0 && f.AvgPrice > 0
}

// PositionRisk is the exchange's view of one open futures position.
// PositionAmt is signed: negative for shorts.
type PositionRisk struct {
	Symbol      string
	PositionAmt float64
	EntryPrice  float64
	MarkPrice   float64
	Leverage    int
}

// SymbolRule carries the trading constraints consulted before every
// order and every value-sufficiency check.
type SymbolRule struct {
	Symbol            string
	QuantityPrecision int
	PricePrecision    int
	MinQty            float64
	MinNotional       float64
}

// Client is the uniform futures-exchange surface the hedge engine
// trades through. The signed REST client and the in-memory simulator
// both implement it.
type Client interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity float64) (string, error)
	GetOrder(ctx context.Context, symbol, orderID string) (Fill, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PositionRisk(ctx context.Context, symbol string) (PositionRisk, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	Balance(ctx context.Context, asset string) (float64, error)
}
