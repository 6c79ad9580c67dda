package rebalance

import (
	"context"
	"fmt"
	"time"

	"lp-hedge-bot/internal/chain"
	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/metrics"

	"go.uber.org/zap"
)

// HedgePauser pauses hedging for a position before its LP is closed.
type HedgePauser interface {
	PrepareForRebalance(ctx context.Context, positionID string) error
}

// CompletionNotifier delivers the end-of-cycle callback.
type CompletionNotifier interface {
	NotifyComplete(ctx context.Context, report CompletionReport) error
}

// TaskStore is the durable row boundary, served by the orchestrator.
type TaskStore interface {
	LoadTask(ctx context.Context, positionID string) (Task, bool, error)
	SaveTask(ctx context.Context, task Task) error
	ActiveTasks(ctx context.Context) ([]Task, error)
}

// Machine runs one LP position's close/reopen sequence. Handlers are
// written so each step is safe to retry on the next tick: queries are
// idempotent and mutations are committed only after their chain call
// is confirmed.
type Machine struct {
	cfg     config.RebalanceConfig
	pool    chain.PoolAPI
	wallet  chain.WalletReader
	hedge   HedgePauser
	notify  CompletionNotifier
	store   TaskStore
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewMachine(cfg config.RebalanceConfig, pool chain.PoolAPI, wallet chain.WalletReader,
	hedge HedgePauser, notify CompletionNotifier, store TaskStore,
	m *metrics.Metrics, log *zap.Logger) *Machine {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Machine{
		cfg:     cfg,
		pool:    pool,
		wallet:  wallet,
		hedge:   hedge,
		notify:  notify,
		store:   store,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Step advances one task by at most one state transition.
func (m *Machine) Step(ctx context.Context, task *Task) error {
	switch task.Status {
	case StatusIdle, "":
		return m.stepIdle(ctx, task)
	case StatusAwaitingConfirmation:
		return m.stepAwaitingConfirmation(ctx, task)
	case StatusClosing:
		return m.stepClosing(ctx, task)
	case StatusOpening:
		return m.stepOpening(ctx, task)
	default:
		return fmt.Errorf("unknown rebalance status %q for %s", task.Status, task.PositionID)
	}
}

func (m *Machine) stepIdle(ctx context.Context, task *Task) error {
	price, rng, err := m.priceAndRange(ctx, task)
	if err != nil {
		return err
	}
	if rng.Contains(price) {
		if task.OutOfRangeSince != nil {
			task.OutOfRangeSince = nil
			m.log.Info("price back in range, pending rebalance cancelled",
				zap.String("position_id", task.PositionID))
			return m.store.SaveTask(ctx, *task)
		}
		return nil
	}
	if task.OutOfRangeSince == nil {
		since := m.now()
		task.OutOfRangeSince = &since
		task.Status = StatusAwaitingConfirmation
		m.log.Info("price left range, waiting for confirmation",
			zap.String("position_id", task.PositionID),
			zap.Float64("price", price),
			zap.Float64("lower", rng.Lower),
			zap.Float64("upper", rng.Upper))
		return m.store.SaveTask(ctx, *task)
	}
	return nil
}

// stepAwaitingConfirmation is the debounce: a price that re-enters
// the range within the waiting period cancels the rebalance; one
// still outside after the period starts the close.
func (m *Machine) stepAwaitingConfirmation(ctx context.Context, task *Task) error {
	price, rng, err := m.priceAndRange(ctx, task)
	if err != nil {
		return err
	}
	if rng.Contains(price) {
		task.OutOfRangeSince = nil
		task.Status = StatusIdle
		m.log.Info("price returned within waiting period, rebalance cancelled",
			zap.String("position_id", task.PositionID))
		return m.store.SaveTask(ctx, *task)
	}
	if task.OutOfRangeSince == nil || m.now().Sub(*task.OutOfRangeSince) < m.cfg.ConfirmDelay {
		return nil
	}
	task.Status = StatusClosing
	m.log.Info("out of range past waiting period, closing position",
		zap.String("position_id", task.PositionID), zap.Float64("price", price))
	return m.store.SaveTask(ctx, *task)
}

func (m *Machine) stepClosing(ctx context.Context, task *Task) error {
	// Pause the hedge first so it stops chasing a position that is
	// about to be emptied. Idempotent on the engine side.
	if err := m.hedge.PrepareForRebalance(ctx, task.PositionID); err != nil {
		return fmt.Errorf("prepare-for-rebalance: %w", err)
	}
	tokens, err := m.pool.PoolTokens(ctx, task.PoolID)
	if err != nil {
		return fmt.Errorf("pool tokens: %w", err)
	}
	before, err := m.wallet.Balances(ctx, tokens)
	if err != nil {
		return fmt.Errorf("balance snapshot: %w", err)
	}
	var closeFees float64
	// Zero remaining liquidity still needs the account closed, so a
	// failed withdraw does not stop the sequence.
	if result, err := m.pool.DecreaseLiquidity(ctx, task.PositionID); err != nil {
		m.log.Warn("decrease liquidity failed, closing account anyway",
			zap.String("position_id", task.PositionID), zap.Error(err))
	} else {
		closeFees += result.FeeUSD
	}
	result, err := m.pool.ClosePositionAccount(ctx, task.PositionID)
	if err != nil {
		return fmt.Errorf("close position account: %w", err)
	}
	closeFees += result.FeeUSD
	after, err := m.wallet.Balances(ctx, tokens)
	if err != nil {
		return fmt.Errorf("balance snapshot: %w", err)
	}
	price, err := m.pool.PoolPrice(ctx, task.PoolID)
	if err != nil {
		return fmt.Errorf("pool price: %w", err)
	}
	// The freed amounts are the observed wallet delta, not a
	// theoretical withdrawal amount.
	freedBase := after[tokens[0].Symbol] - before[tokens[0].Symbol]
	freedQuote := after[tokens[1].Symbol] - before[tokens[1].Symbol]
	freedValue := freedBase*price + freedQuote
	task.Context = Context{
		FreedBase:    freedBase,
		FreedQuote:   freedQuote,
		GrossPnlUSD:  freedValue - task.InitialValue,
		CloseFeesUSD: closeFees,
	}
	task.Status = StatusOpening
	m.log.Info("position closed",
		zap.String("position_id", task.PositionID),
		zap.Float64("freed_base", freedBase),
		zap.Float64("freed_quote", freedQuote),
		zap.Float64("gross_pnl_usd", task.Context.GrossPnlUSD))
	return m.store.SaveTask(ctx, *task)
}

func (m *Machine) stepOpening(ctx context.Context, task *Task) error {
	if task.Context.Opened == nil {
		if err := m.openNewPosition(ctx, task); err != nil {
			return err
		}
	}
	report := CompletionReport{
		OldPositionID: task.PositionID,
		PoolID:        task.PoolID,
		NewPosition:   *task.Context.Opened,
		Fees: FeeBreakdown{
			CloseUSD: task.Context.CloseFeesUSD,
			SwapUSD:  task.Context.SwapFeesUSD,
			OpenUSD:  task.Context.OpenFeesUSD,
		},
		GrossPnlUSD: task.Context.GrossPnlUSD,
	}
	if err := m.notify.NotifyComplete(ctx, report); err != nil {
		return fmt.Errorf("completion callback: %w", err)
	}
	// The new position's task, created by the orchestrator, takes
	// over from here.
	task.AutoRebalancing = false
	task.Context = Context{}
	task.OutOfRangeSince = nil
	task.Status = StatusIdle
	m.metrics.RebalancesDone.Inc()
	m.log.Info("rebalance cycle complete",
		zap.String("old_position_id", report.OldPositionID),
		zap.String("new_position_id", report.NewPosition.PositionID))
	if err := m.store.SaveTask(ctx, *task); err != nil {
		m.log.Warn("final task save failed, row is replaced by the orchestrator anyway", zap.Error(err))
	}
	return nil
}

func (m *Machine) openNewPosition(ctx context.Context, task *Task) error {
	tokens, err := m.pool.PoolTokens(ctx, task.PoolID)
	if err != nil {
		return fmt.Errorf("pool tokens: %w", err)
	}
	price, err := m.pool.PoolPrice(ctx, task.PoolID)
	if err != nil {
		return fmt.Errorf("pool price: %w", err)
	}
	balances, err := m.wallet.Balances(ctx, tokens)
	if err != nil {
		return fmt.Errorf("balance snapshot: %w", err)
	}
	baseAmount := balances[tokens[0].Symbol]
	quoteAmount := balances[tokens[1].Symbol]
	baseValue := baseAmount * price
	// Target a 50/50 split of the cycle's capital. At most one swap,
	// never both directions.
	targetHalf := (task.InitialValue + task.Context.GrossPnlUSD) / 2
	switch {
	case baseValue < targetHalf:
		shortfall := targetHalf - baseValue
		if shortfall > quoteAmount {
			shortfall = quoteAmount
		}
		if shortfall > 0 {
			swap, err := m.pool.ExecuteSwap(ctx, task.PoolID, tokens[1].Symbol, shortfall)
			if err != nil {
				return fmt.Errorf("swap %s: %w", tokens[1].Symbol, err)
			}
			task.Context.SwapFeesUSD = swap.FeeUSD
			baseAmount += swap.AmountOut
			quoteAmount -= swap.AmountIn
		}
	case quoteAmount < targetHalf:
		shortfall := (targetHalf - quoteAmount) / price
		if shortfall > baseAmount {
			shortfall = baseAmount
		}
		if shortfall > 0 {
			swap, err := m.pool.ExecuteSwap(ctx, task.PoolID, tokens[0].Symbol, shortfall)
			if err != nil {
				return fmt.Errorf("swap %s: %w", tokens[0].Symbol, err)
			}
			task.Context.SwapFeesUSD = swap.FeeUSD
			baseAmount -= swap.AmountIn
			quoteAmount += swap.AmountOut
		}
	}
	capital := baseAmount*price + quoteAmount
	rng, err := m.pool.SuggestRange(ctx, task.PoolID, capital)
	if err != nil {
		return fmt.Errorf("suggest range: %w", err)
	}
	opened, err := m.pool.OpenPosition(ctx, task.PoolID, baseAmount, rng)
	if err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	task.Context.OpenFeesUSD = opened.FeeUSD
	task.Context.Opened = &opened
	m.log.Info("new position opened",
		zap.String("old_position_id", task.PositionID),
		zap.String("new_position_id", opened.PositionID),
		zap.Float64("lower", rng.Lower),
		zap.Float64("upper", rng.Upper))
	// Commit before the callback so a callback failure retries
	// without opening a second position.
	return m.store.SaveTask(ctx, *task)
}

func (m *Machine) priceAndRange(ctx context.Context, task *Task) (float64, chain.Range, error) {
	price, err := m.pool.PoolPrice(ctx, task.PoolID)
	if err != nil {
		return 0, chain.Range{}, fmt.Errorf("pool price: %w", err)
	}
	rng, err := m.pool.PositionRange(ctx, task.PositionID)
	if err != nil {
		return 0, chain.Range{}, fmt.Errorf("position range: %w", err)
	}
	task.StartPrice = rng.Lower
	task.EndPrice = rng.Upper
	return price, rng, nil
}
