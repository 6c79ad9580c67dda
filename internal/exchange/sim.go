package exchange

import (
	"context"
	"fmt"
	"sync"
)

// Pricer supplies mark prices to the simulator so simulated fills
// track the real market.
type Pricer interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

type simPosition struct {
	amount   float64 // short size, positive
	avgPrice float64
}

// Simulator is the in-memory stand-in for the exchange. Orders fill
// instantly at mark price and land in a synthetic ledger; position
// sizes follow the same short-side weighted-average bookkeeping as
// real legs, so the adjustment algorithm cannot tell the difference.
type Simulator struct {
	pricer Pricer

	mu        sync.Mutex
	nextID    int64
	orders    map[string]Fill
	positions map[string]*simPosition
	leverage  map[string]int
	balance   float64
}

func NewSimulator(pricer Pricer, balance float64) *Simulator {
	return &Simulator{
		pricer:    pricer,
		orders:    make(map[string]Fill),
		positions: make(map[string]*simPosition),
		leverage:  make(map[string]int),
		balance:   balance,
	}
}

func (s *Simulator) PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity float64) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("simulated order quantity must be positive, got %v", quantity)
	}
	price, err := s.pricer.MarkPrice(ctx, symbol)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	orderID := fmt.Sprintf("sim-%d", s.nextID)
	s.orders[orderID] = Fill{
		OrderID:     orderID,
		Symbol:      symbol,
		Side:        side,
		ExecutedQty: quantity,
		AvgPrice:    price,
		Status:      "FILLED",
	}
	pos := s.positions[symbol]
	if pos == nil {
		pos = &simPosition{}
		s.positions[symbol] = pos
	}
	switch side {
	case SideSell:
		total := pos.amount + quantity
		pos.avgPrice = (pos.avgPrice*pos.amount + price*quantity) / total
		pos.amount = total
	case SideBuy:
		pos.amount -= quantity
		if pos.amount < 0 {
			pos.amount = 0
		}
	}
	return orderID, nil
}

func (s *Simulator) GetOrder(ctx context.Context, symbol, orderID string) (Fill, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	fill, ok := s.orders[orderID]
	if !ok {
		return Fill{}, fmt.Errorf("simulated order %s not found", orderID)
	}
	if fill.Symbol != symbol {
		return Fill{}, fmt.Errorf("simulated order %s is for %s, not %s", orderID, fill.Symbol, symbol)
	}
	return fill, nil
}

func (s *Simulator) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverage[symbol] = leverage
	return nil
}

func (s *Simulator) PositionRisk(ctx context.Context, symbol string) (PositionRisk, error) {
	price, err := s.pricer.MarkPrice(ctx, symbol)
	if err != nil {
		return PositionRisk{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	risk := PositionRisk{Symbol: symbol, MarkPrice: price, Leverage: s.leverage[symbol]}
	if pos := s.positions[symbol]; pos != nil {
		risk.PositionAmt = -pos.amount
		risk.EntryPrice = pos.avgPrice
	}
	return risk, nil
}

func (s *Simulator) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	return s.pricer.MarkPrice(ctx, symbol)
}

func (s *Simulator) Balance(ctx context.Context, asset string) (float64, error) {
	_ = ctx
	_ = asset
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}
