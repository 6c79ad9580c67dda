package hedge

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/exchange"
	"lp-hedge-bot/internal/history"
	"lp-hedge-bot/internal/metrics"
	"lp-hedge-bot/internal/state"

	"go.uber.org/zap"
)

// Engine keeps each active delta-neutral leg's short size equal to
// the LP's actual holding of that asset, within a tolerance band,
// using the fewest possible trades.
type Engine struct {
	cfg     config.HedgeConfig
	log     *zap.Logger
	real    exchange.Client
	sim     exchange.Client
	rules   *exchange.Rules
	stream  *exchange.PriceStream
	assets  AssetSource
	sink    SnapshotSink
	cache   state.Store
	history *history.Writer
	metrics *metrics.Metrics
	feeRate float64

	// sleep is the fill-confirmation delay, injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error

	table *Table

	// mu guards the lock map only. Position state is guarded by the
	// per-position mutex in locks; every read or write of a published
	// *Position happens under it.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Options struct {
	Real    exchange.Client
	Sim     exchange.Client
	Rules   *exchange.Rules
	Stream  *exchange.PriceStream
	Assets  AssetSource
	Sink    SnapshotSink
	Cache   state.Store
	History *history.Writer
	Metrics *metrics.Metrics
	FeeRate float64
}

func NewEngine(cfg config.HedgeConfig, opts Options, log *zap.Logger) *Engine {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Engine{
		cfg:     cfg,
		log:     log,
		real:    opts.Real,
		sim:     opts.Sim,
		rules:   opts.Rules,
		stream:  opts.Stream,
		assets:  opts.Assets,
		sink:    opts.Sink,
		cache:   opts.Cache,
		history: opts.History,
		metrics: m,
		feeRate: opts.FeeRate,
		sleep:   sleepCtx,
		table:   NewTable(),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Table exposes the position map for the HTTP layer and tests.
func (e *Engine) Table() *Table {
	return e.table
}

// Run drives the fixed-interval adjustment scan until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.AdjustInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.adjustAll(ctx)
		}
	}
}

func (e *Engine) adjustAll(ctx context.Context) {
	var ids []string
	// Active is only read under the per-position lock; the cycle
	// itself drops paused and stopped positions after acquiring it.
	e.table.ForEach(func(pos *Position) {
		if pos.Strategy == StrategyDeltaNeutral {
			ids = append(ids, pos.PositionID)
		}
	})
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(positionID string) {
			defer wg.Done()
			e.AdjustPosition(ctx, positionID)
		}(id)
	}
	wg.Wait()
}

// AdjustPosition runs one adjustment cycle for one position. A cycle
// that finds another cycle in flight for the same id is skipped, not
// queued; the next tick retries.
func (e *Engine) AdjustPosition(ctx context.Context, positionID string) {
	lk := e.lockFor(positionID)
	if !lk.TryLock() {
		e.metrics.CyclesSkipped.Inc()
		e.log.Debug("adjustment already running", zap.String("position_id", positionID))
		return
	}
	defer lk.Unlock()

	pos, ok := e.table.Get(positionID)
	if !ok || !pos.Active || pos.Strategy != StrategyDeltaNeutral {
		return
	}
	base, quote, err := e.assets.PositionAssets(ctx, positionID)
	if err != nil {
		e.log.Warn("asset lookup failed, cycle aborted",
			zap.String("position_id", positionID), zap.Error(err))
		return
	}
	targets := []float64{base, quote}
	mutated := false
	// Legs are hedged sequentially: both mutate the shared history.
	for i, leg := range pos.Legs {
		if i >= len(targets) {
			break
		}
		changed, err := e.adjustLeg(ctx, pos, leg, targets[i])
		if err != nil {
			e.log.Warn("leg adjustment failed",
				zap.String("position_id", positionID),
				zap.String("trading_pair", leg.TradingPair),
				zap.Error(err))
			continue
		}
		mutated = mutated || changed
	}
	if mutated {
		e.pushSnapshot(ctx, pos)
	}
}

func (e *Engine) adjustLeg(ctx context.Context, pos *Position, leg *Leg, target float64) (bool, error) {
	cli := e.clientFor(pos)
	risk, err := cli.PositionRisk(ctx, leg.TradingPair)
	if err != nil {
		return false, fmt.Errorf("position risk: %w", err)
	}
	current := -risk.PositionAmt // short size as a positive quantity
	delta := target - current
	if math.Abs(delta) < target*e.cfg.DeltaThresholdPct {
		return false, nil
	}
	price := risk.MarkPrice
	if price <= 0 {
		price, err = e.markPrice(ctx, pos, leg.TradingPair)
		if err != nil {
			return false, fmt.Errorf("mark price: %w", err)
		}
	}
	qty := e.rules.RoundQty(leg.TradingPair, math.Abs(delta))
	if !e.rules.Tradable(leg.TradingPair, qty, price) {
		return false, nil
	}
	side := exchange.SideSell
	if delta < 0 {
		side = exchange.SideBuy
	}
	orderID, err := cli.PlaceMarketOrder(ctx, leg.TradingPair, side, qty)
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return false, fmt.Errorf("place order: %w", err)
	}
	e.metrics.OrdersPlaced.Inc()
	if err := e.sleep(ctx, e.cfg.FillConfirmDelay); err != nil {
		return false, err
	}
	// Re-query by id for the actual fill; the submit-time echo is
	// never trusted.
	fill, err := cli.GetOrder(ctx, leg.TradingPair, orderID)
	if err != nil {
		return false, fmt.Errorf("order %s unconfirmed, leg state untouched: %w", orderID, err)
	}
	if !fill.Filled() {
		return false, fmt.Errorf("order %s reported no fill (status %s), leg state untouched", orderID, fill.Status)
	}
	if side == exchange.SideSell {
		leg.ApplySell(fill.ExecutedQty, fill.AvgPrice, e.feeRate)
	} else {
		leg.ApplyBuy(fill.ExecutedQty, fill.AvgPrice, e.feeRate)
	}
	pos.AppendHistory("%s %s %.8f @ %.8f (target %.8f, was %.8f)",
		side, leg.TradingPair, fill.ExecutedQty, fill.AvgPrice, target, current)
	e.recordHistory(pos, leg, fill.AvgPrice)
	return true, nil
}

func (e *Engine) markPrice(ctx context.Context, pos *Position, symbol string) (float64, error) {
	if e.stream != nil {
		if price, ok := e.stream.Last(symbol); ok {
			return price, nil
		}
	}
	return e.clientFor(pos).MarkPrice(ctx, symbol)
}

func (e *Engine) clientFor(pos *Position) exchange.Client {
	if pos.Simulation {
		return e.sim
	}
	return e.real
}

// pushSnapshot persists the full position state, best effort. The
// in-memory table stays authoritative; a failed push is only logged.
func (e *Engine) pushSnapshot(ctx context.Context, pos *Position) {
	snap := pos.Snapshot()
	if e.cache != nil {
		if data, err := EncodeSnapshot(snap); err == nil {
			if err := e.cache.Set(ctx, snapshotCacheKey(snap.PositionID), data); err != nil {
				e.log.Warn("local snapshot cache write failed", zap.Error(err))
			}
		}
	}
	if e.sink == nil {
		return
	}
	if err := e.sink.PushSnapshot(ctx, snap); err != nil {
		e.metrics.SnapshotsFailed.Inc()
		e.log.Warn("snapshot push failed",
			zap.String("position_id", pos.PositionID), zap.Error(err))
		return
	}
	e.metrics.SnapshotsPushed.Inc()
}

func (e *Engine) recordHistory(pos *Position, leg *Leg, markPrice float64) {
	if e.history == nil {
		return
	}
	e.history.Enqueue(history.HedgeRow{
		Time:        time.Now().UTC(),
		PositionID:  pos.PositionID,
		TradingPair: leg.TradingPair,
		HedgeAmount: leg.CurrentHedgeAmount,
		AvgPrice:    leg.LastAveragePrice,
		RealizedPnl: leg.TotalRealizedPnl,
		FeesPaid:    leg.TotalFeesPaid,
		MarkPrice:   markPrice,
	})
}

// Rebuild repopulates the table after a restart: the durable store's
// active-for-hedging export first, the local cache as fallback.
func (e *Engine) Rebuild(ctx context.Context) error {
	var snaps []Snapshot
	var err error
	if e.sink != nil {
		snaps, err = e.sink.ActiveForHedging(ctx)
	}
	if (err != nil || e.sink == nil) && e.cache != nil {
		if err != nil {
			e.log.Warn("active-for-hedging export failed, using local cache", zap.Error(err))
		}
		snaps, err = e.cachedSnapshots(ctx)
	}
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if len(snap.Legs) == 0 {
			continue // stopped placeholder
		}
		pos := snap.Restore()
		e.table.Set(pos)
		e.subscribeLegs(ctx, pos)
	}
	e.log.Info("hedge table rebuilt", zap.Int("positions", e.table.Len()))
	return nil
}

func (e *Engine) cachedSnapshots(ctx context.Context) ([]Snapshot, error) {
	keys, err := e.cache.Keys(ctx, snapshotCachePrefix)
	if err != nil {
		return nil, err
	}
	var snaps []Snapshot
	for _, key := range keys {
		data, ok, err := e.cache.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		snap, err := DecodeSnapshot(data)
		if err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// lockFor returns the position's mutex, creating it on first use.
// Adjustment cycles TryLock it (skip, not queue); request handlers
// Lock it so a mutation never interleaves with a cycle in flight.
func (e *Engine) lockFor(positionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lk, ok := e.locks[positionID]
	if !ok {
		lk = new(sync.Mutex)
		e.locks[positionID] = lk
	}
	return lk
}

// moveLock rekeys a held position mutex so exclusivity carries
// across a remap rename.
func (e *Engine) moveLock(oldID, newID string, lk *sync.Mutex) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, oldID)
	e.locks[newID] = lk
}

func (e *Engine) dropLock(positionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, positionID)
}

const snapshotCachePrefix = "hedge:snapshot:"

func snapshotCacheKey(positionID string) string {
	return snapshotCachePrefix + positionID
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
