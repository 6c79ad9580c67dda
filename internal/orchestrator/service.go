package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"lp-hedge-bot/internal/alerts"
	"lp-hedge-bot/internal/chain"
	"lp-hedge-bot/internal/hedge"
	"lp-hedge-bot/internal/metrics"
	"lp-hedge-bot/internal/rebalance"

	"go.uber.org/zap"
)

// ErrInvalidReport rejects completion callbacks that cannot produce a
// workable new task row.
var ErrInvalidReport = errors.New("invalid completion report")

// HedgeControl is the slice of the hedge engine API the orchestrator
// drives.
type HedgeControl interface {
	Remap(ctx context.Context, oldID, newID string) error
}

// RebalanceControl enrolls positions in the state machine.
type RebalanceControl interface {
	StartTracking(ctx context.Context, positionID string) error
}

// Service is the rendezvous point between the hedge engine and the
// rebalance state machine: it owns the durable rows and performs the
// rebalance handoff.
type Service struct {
	store    *Store
	pool     chain.PoolAPI
	hedgeCtl HedgeControl
	rebalCtl RebalanceControl
	alerts   *alerts.Telegram
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewService(store *Store, pool chain.PoolAPI, hedgeCtl HedgeControl, rebalCtl RebalanceControl,
	tg *alerts.Telegram, m *metrics.Metrics, log *zap.Logger) *Service {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Service{
		store:    store,
		pool:     pool,
		hedgeCtl: hedgeCtl,
		rebalCtl: rebalCtl,
		alerts:   tg,
		metrics:  m,
		log:      log,
	}
}

// HandleCompletion performs the end-of-cycle handoff: remap the
// hedge, swap the durable rows, and hand the new id to the state
// machine. A failed remap orphans the old hedge but never blocks
// persisting the new LP position; a failed row swap after a
// successful remap is a reconciliation hazard and is surfaced, not
// swallowed.
func (s *Service) HandleCompletion(ctx context.Context, report rebalance.CompletionReport) error {
	oldID := report.OldPositionID
	newID := report.NewPosition.PositionID
	if oldID == "" || newID == "" {
		return fmt.Errorf("%w: old and new position ids are required", ErrInvalidReport)
	}
	oldRow, found, err := s.store.GetPosition(ctx, oldID)
	if err != nil {
		return fmt.Errorf("load old row: %w", err)
	}
	if !found {
		s.log.Warn("completion for unknown position, carrying zero history",
			zap.String("old_position_id", oldID))
	}
	// Without a pool id the new task can never tick; refuse to write a
	// row that is dead on arrival.
	poolID := oldRow.PoolID
	if poolID == "" {
		poolID = report.PoolID
	}
	if poolID == "" {
		return fmt.Errorf("%w: no pool id for new position %s", ErrInvalidReport, newID)
	}

	remapped := true
	if err := s.hedgeCtl.Remap(ctx, oldID, newID); err != nil {
		remapped = false
		s.metrics.RemapsFailed.Inc()
		s.log.Error("hedge remap failed, old hedge is orphaned",
			zap.String("old_position_id", oldID),
			zap.String("new_position_id", newID),
			zap.Error(err))
		s.alert(ctx, fmt.Sprintf("CRITICAL: hedge remap %s -> %s failed; hedge paused under dead id", oldID, newID))
	}

	newRow := PositionRow{
		Task: rebalance.Task{
			PositionID:       newID,
			PoolID:           poolID,
			AutoRebalancing:  true,
			Status:           rebalance.StatusIdle,
			InitialValue:     report.NewPosition.ValueUSD,
			CumulativePnlUSD: oldRow.CumulativePnlUSD + report.GrossPnlUSD - report.Fees.Total(),
			TransactionCosts: oldRow.TransactionCosts + report.Fees.Total(),
			StartPrice:       report.NewPosition.StartPrice,
			EndPrice:         report.NewPosition.EndPrice,
		},
		PairName:     report.NewPosition.PairName,
		HedgePlanRef: oldRow.HedgePlanRef,
	}
	if newRow.PairName == "" {
		newRow.PairName = oldRow.PairName
	}
	if err := s.swapRows(ctx, oldID, newRow); err != nil {
		if remapped {
			s.alert(ctx, fmt.Sprintf("RECONCILE: hedge live under %s but row swap failed: %v", newID, err))
			s.log.Error("row swap failed after successful remap, hedge has no durable LP record",
				zap.String("new_position_id", newID), zap.Error(err))
		}
		return fmt.Errorf("row swap: %w", err)
	}

	if err := s.rebalCtl.StartTracking(ctx, newID); err != nil {
		// Not fatal: the worker's next reload of active rows picks
		// the new task up anyway.
		s.log.Warn("rebalancer start notification failed",
			zap.String("new_position_id", newID), zap.Error(err))
	}
	s.log.Info("rebalance handoff complete",
		zap.String("old_position_id", oldID),
		zap.String("new_position_id", newID),
		zap.Float64("cumulative_pnl_usd", newRow.CumulativePnlUSD))
	return nil
}

func (s *Service) swapRows(ctx context.Context, oldID string, newRow PositionRow) error {
	if err := s.store.PutPosition(ctx, newRow); err != nil {
		return fmt.Errorf("write new row: %w", err)
	}
	if err := s.store.DeletePosition(ctx, oldID); err != nil {
		return fmt.Errorf("delete old row: %w", err)
	}
	return nil
}

// ListPositions returns all durable rows with ghosts excluded: a row
// whose position no longer exists on-chain is alerted and filtered
// out rather than guessed at.
func (s *Service) ListPositions(ctx context.Context) ([]PositionRow, error) {
	rows, err := s.store.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	listed := rows[:0]
	for _, row := range rows {
		exists, err := s.pool.PositionExists(ctx, row.PositionID)
		if err != nil {
			// Can't tell; keep the row rather than hiding it.
			listed = append(listed, row)
			continue
		}
		if !exists {
			s.log.Warn("ghost position excluded from listing",
				zap.String("position_id", row.PositionID))
			s.alert(ctx, fmt.Sprintf("RECONCILE: ghost position %s has a durable row but no on-chain account", row.PositionID))
			continue
		}
		listed = append(listed, row)
	}
	return listed, nil
}

// ActiveForHedging exports the snapshots the hedge engine rebuilds
// its map from: every stored snapshot that still has legs.
func (s *Service) ActiveForHedging(ctx context.Context) ([]hedge.Snapshot, error) {
	blobs, err := s.store.AllSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	var snaps []hedge.Snapshot
	for _, blob := range blobs {
		snap, err := hedge.DecodeSnapshot(blob)
		if err != nil {
			s.log.Warn("undecodable hedge snapshot skipped", zap.Error(err))
			continue
		}
		if len(snap.Legs) == 0 {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (s *Service) alert(ctx context.Context, message string) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Send(ctx, message); err != nil {
		s.log.Warn("alert send failed", zap.Error(err))
	}
}
