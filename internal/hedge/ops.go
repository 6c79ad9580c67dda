package hedge

import (
	"context"
	"errors"
	"fmt"

	"lp-hedge-bot/internal/exchange"

	"go.uber.org/zap"
)

var ErrInvalid = errors.New("invalid request")

// LegSpec describes one requested hedge leg. Order matters: leg 0
// hedges the pool's base asset, leg 1 the quote asset.
type LegSpec struct {
	TradingPair string `json:"tradingPair"`
	Leverage    int    `json:"leverage"`
}

// StartDeltaNeutral opens a 1–2 leg delta-neutral hedge. All-or-
// nothing: a leverage-set failure on any leg leaves no position
// behind.
func (e *Engine) StartDeltaNeutral(ctx context.Context, positionID, pairName string, totalValue float64, legs []LegSpec, simulation bool) error {
	if positionID == "" || pairName == "" {
		return fmt.Errorf("%w: positionId and pairName are required", ErrInvalid)
	}
	if _, exists := e.table.Get(positionID); exists {
		return ErrDuplicate
	}
	if err := e.ValidateValue(totalValue, legs); err != nil {
		return err
	}
	pos := &Position{
		PositionID: positionID,
		PairName:   pairName,
		TotalValue: totalValue,
		Active:     true,
		Simulation: simulation,
		Strategy:   StrategyDeltaNeutral,
	}
	cli := e.clientFor(pos)
	for _, spec := range legs {
		if err := cli.SetLeverage(ctx, spec.TradingPair, spec.Leverage); err != nil {
			return fmt.Errorf("set leverage %s: %w", spec.TradingPair, err)
		}
		pos.Legs = append(pos.Legs, &Leg{TradingPair: spec.TradingPair, Leverage: spec.Leverage})
	}
	pos.AppendHistory("hedge started: %s, %d leg(s), value %.2f USD", pairName, len(legs), totalValue)
	lk := e.lockFor(positionID)
	lk.Lock()
	if err := e.table.SetIfAbsent(pos); err != nil {
		lk.Unlock()
		return err
	}
	e.subscribeLegs(ctx, pos)
	e.pushSnapshot(ctx, pos)
	lk.Unlock()
	// First cycle runs right away so a fresh position is not left
	// unhedged until the next tick.
	e.AdjustPosition(ctx, positionID)
	return nil
}

// StartGrid records a legacy GRID-style hedge. Grid positions are
// kept for bookkeeping and stop/status/remap, but the adjustment
// loop never touches them.
func (e *Engine) StartGrid(ctx context.Context, positionID, pairName, tradingPair string, totalValue float64, leverage int, plan GridPlan, simulation bool) error {
	if positionID == "" || tradingPair == "" {
		return fmt.Errorf("%w: positionId and tradingPair are required", ErrInvalid)
	}
	if totalValue <= 0 {
		return fmt.Errorf("%w: totalValue must be positive", ErrInvalid)
	}
	if _, exists := e.table.Get(positionID); exists {
		return ErrDuplicate
	}
	pos := &Position{
		PositionID: positionID,
		PairName:   pairName,
		TotalValue: totalValue,
		Active:     true,
		Simulation: simulation,
		Strategy:   StrategyGrid,
		Grid:       &plan,
		Legs:       []*Leg{{TradingPair: tradingPair, Leverage: leverage}},
	}
	if err := e.clientFor(pos).SetLeverage(ctx, tradingPair, leverage); err != nil {
		return fmt.Errorf("set leverage %s: %w", tradingPair, err)
	}
	pos.AppendHistory("grid hedge started: %s, value %.2f USD", pairName, totalValue)
	lk := e.lockFor(positionID)
	lk.Lock()
	defer lk.Unlock()
	if err := e.table.SetIfAbsent(pos); err != nil {
		return err
	}
	e.subscribeLegs(ctx, pos)
	e.pushSnapshot(ctx, pos)
	return nil
}

// Stop flattens every leg on the exchange and removes the position.
// A failed closing order on one leg does not block closing the rest.
// Waits for any adjustment cycle in flight before touching the legs.
func (e *Engine) Stop(ctx context.Context, positionID string) error {
	lk := e.lockFor(positionID)
	lk.Lock()
	defer lk.Unlock()
	pos, ok := e.table.Get(positionID)
	if !ok {
		return ErrNotFound
	}
	pos.Active = false
	e.unsubscribeLegs(ctx, pos)
	if !pos.Simulation {
		for _, leg := range pos.Legs {
			if err := e.flattenLeg(ctx, leg); err != nil {
				e.log.Warn("closing order failed, continuing",
					zap.String("position_id", positionID),
					zap.String("trading_pair", leg.TradingPair),
					zap.Error(err))
			}
		}
	}
	pos.AppendHistory("hedge stopped")
	e.table.Delete(positionID)
	e.dropLock(positionID)
	if e.cache != nil {
		_ = e.cache.Delete(ctx, snapshotCacheKey(positionID))
	}
	// Persist a stopped placeholder: same record, no legs.
	snap := pos.Snapshot()
	snap.Legs = nil
	if e.sink != nil {
		if err := e.sink.PushSnapshot(ctx, snap); err != nil {
			e.log.Warn("stopped snapshot push failed", zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) flattenLeg(ctx context.Context, leg *Leg) error {
	risk, err := e.real.PositionRisk(ctx, leg.TradingPair)
	if err != nil {
		return fmt.Errorf("position risk: %w", err)
	}
	size := -risk.PositionAmt
	if size <= 0 {
		return nil
	}
	qty := e.rules.RoundQty(leg.TradingPair, size)
	if qty <= 0 {
		return nil
	}
	if _, err := e.real.PlaceMarketOrder(ctx, leg.TradingPair, exchange.SideBuy, qty); err != nil {
		e.metrics.OrdersFailed.Inc()
		return err
	}
	e.metrics.OrdersPlaced.Inc()
	return nil
}

// PrepareForRebalance pauses hedging for a position id. Idempotent
// and always a success: a missing position, or one already paused,
// changes nothing. The legs stay open and valued; they are just no
// longer auto-adjusted until the remap resumes them.
func (e *Engine) PrepareForRebalance(ctx context.Context, positionID string) {
	lk := e.lockFor(positionID)
	lk.Lock()
	defer lk.Unlock()
	pos, ok := e.table.Get(positionID)
	if !ok {
		e.log.Info("prepare-for-rebalance: no hedge found", zap.String("position_id", positionID))
		return
	}
	if !pos.Active {
		return
	}
	pos.Active = false
	pos.AppendHistory("hedging paused for rebalance")
	e.pushSnapshot(ctx, pos)
}

// Remap moves hedge state from the old position id to the new one
// after a rebalance, resumes adjusting, and runs one cycle at once
// since the LP composition just changed. Leg economics are untouched.
func (e *Engine) Remap(ctx context.Context, oldID, newID string) error {
	if oldID == "" || newID == "" || oldID == newID {
		return fmt.Errorf("%w: distinct old and new position ids are required", ErrInvalid)
	}
	// The old id's lock is held across the rename and then rekeyed,
	// so a cycle in flight under the old id finishes first and no
	// cycle can start under the new id until the remap is done.
	lk := e.lockFor(oldID)
	lk.Lock()
	pos, err := e.table.Rename(oldID, newID)
	if err != nil {
		lk.Unlock()
		return err
	}
	pos.Active = true
	pos.AppendHistory("remapped from %s", oldID)
	if e.cache != nil {
		_ = e.cache.Delete(ctx, snapshotCacheKey(oldID))
	}
	e.pushSnapshot(ctx, pos)
	e.moveLock(oldID, newID, lk)
	lk.Unlock()
	e.AdjustPosition(ctx, newID)
	return nil
}

// ValidateValue is the pre-flight notional check: the per-leg share
// of totalValue must clear the practical minimum before a hedge may
// be opened.
func (e *Engine) ValidateValue(totalValue float64, legs []LegSpec) error {
	if len(legs) < 1 || len(legs) > 2 {
		return fmt.Errorf("%w: 1 or 2 legs required, got %d", ErrInvalid, len(legs))
	}
	if totalValue <= 0 {
		return fmt.Errorf("%w: totalValue must be positive", ErrInvalid)
	}
	share := totalValue / float64(len(legs))
	for _, spec := range legs {
		if spec.TradingPair == "" {
			return fmt.Errorf("%w: tradingPair is required for every leg", ErrInvalid)
		}
		min := e.cfg.MinLegNotionalUSD
		if exchangeMin := e.rules.MinNotional(spec.TradingPair); exchangeMin > min {
			min = exchangeMin
		}
		if share < min {
			return fmt.Errorf("%w: per-leg value %.2f USD below minimum %.2f USD for %s",
				ErrInvalid, share, min, spec.TradingPair)
		}
	}
	return nil
}

func (e *Engine) subscribeLegs(ctx context.Context, pos *Position) {
	if e.stream == nil {
		return
	}
	for _, leg := range pos.Legs {
		if err := e.stream.Subscribe(ctx, leg.TradingPair); err != nil {
			e.log.Warn("mark price subscribe failed",
				zap.String("trading_pair", leg.TradingPair), zap.Error(err))
		}
	}
}

func (e *Engine) unsubscribeLegs(ctx context.Context, pos *Position) {
	if e.stream == nil {
		return
	}
	for _, leg := range pos.Legs {
		if err := e.stream.Unsubscribe(ctx, leg.TradingPair); err != nil {
			e.log.Warn("mark price unsubscribe failed",
				zap.String("trading_pair", leg.TradingPair), zap.Error(err))
		}
	}
}
