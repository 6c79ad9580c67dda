package hedge

import (
	"context"
	"fmt"
)

type LegStatus struct {
	TradingPair   string  `json:"tradingPair"`
	Leverage      int     `json:"leverage"`
	HedgeAmount   float64 `json:"hedgeAmount"`
	EntryPrice    float64 `json:"entryPrice"`
	MarkPrice     float64 `json:"markPrice"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	RealizedPnl   float64 `json:"realizedPnl"`
	FeesPaid      float64 `json:"feesPaid"`
}

type StatusView struct {
	PositionID string       `json:"positionId"`
	PairName   string       `json:"pairName"`
	Strategy   StrategyKind `json:"strategy"`
	Active     bool         `json:"active"`
	Simulation bool         `json:"simulation"`
	TotalValue float64      `json:"totalValue"`
	HedgePnl   float64      `json:"hedgePnl"`
	Legs       []LegStatus  `json:"legs"`
}

// Status reports live per-leg detail and the aggregated hedge PnL:
// sum of unrealized and realized PnL minus fees across legs. A
// position missing from memory gets one reload attempt from the
// durable store before not-found.
func (e *Engine) Status(ctx context.Context, positionID string) (StatusView, error) {
	lk := e.lockFor(positionID)
	lk.Lock()
	pos, ok := e.table.Get(positionID)
	if !ok {
		pos, ok = e.reload(ctx, positionID)
		if !ok {
			lk.Unlock()
			return StatusView{}, ErrNotFound
		}
	}
	view := StatusView{
		PositionID: pos.PositionID,
		PairName:   pos.PairName,
		Strategy:   pos.Strategy,
		Active:     pos.Active,
		Simulation: pos.Simulation,
		TotalValue: pos.TotalValue,
	}
	// Leg state is copied out so the exchange round trips below run
	// without blocking adjustment cycles.
	legs := make([]Leg, len(pos.Legs))
	for i, leg := range pos.Legs {
		legs[i] = *leg
	}
	cli := e.clientFor(pos)
	lk.Unlock()
	for i := range legs {
		leg := &legs[i]
		risk, err := cli.PositionRisk(ctx, leg.TradingPair)
		if err != nil {
			return StatusView{}, fmt.Errorf("position risk %s: %w", leg.TradingPair, err)
		}
		mark := risk.MarkPrice
		if mark <= 0 {
			mark, err = e.markPrice(ctx, pos, leg.TradingPair)
			if err != nil {
				return StatusView{}, fmt.Errorf("mark price %s: %w", leg.TradingPair, err)
			}
		}
		size := -risk.PositionAmt
		unrealized := (risk.EntryPrice - mark) * size
		view.Legs = append(view.Legs, LegStatus{
			TradingPair:   leg.TradingPair,
			Leverage:      leg.Leverage,
			HedgeAmount:   leg.CurrentHedgeAmount,
			EntryPrice:    risk.EntryPrice,
			MarkPrice:     mark,
			UnrealizedPnl: unrealized,
			RealizedPnl:   leg.TotalRealizedPnl,
			FeesPaid:      leg.TotalFeesPaid,
		})
		view.HedgePnl += unrealized + leg.TotalRealizedPnl - leg.TotalFeesPaid
	}
	return view, nil
}

func (e *Engine) reload(ctx context.Context, positionID string) (*Position, bool) {
	if e.sink == nil {
		return nil, false
	}
	snap, found, err := e.sink.FetchSnapshot(ctx, positionID)
	if err != nil || !found || len(snap.Legs) == 0 {
		return nil, false
	}
	pos := snap.Restore()
	if err := e.table.SetIfAbsent(pos); err != nil {
		// Lost a race with a concurrent reload; use the winner.
		return e.table.Get(positionID)
	}
	return pos, true
}
