package orchestrator

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"lp-hedge-bot/internal/chain"
	"lp-hedge-bot/internal/hedge"
	"lp-hedge-bot/internal/metrics"
	"lp-hedge-bot/internal/rebalance"

	"go.uber.org/zap"
)

type fakeHedgeCtl struct {
	calls [][2]string
	err   error
}

func (f *fakeHedgeCtl) Remap(ctx context.Context, oldID, newID string) error {
	f.calls = append(f.calls, [2]string{oldID, newID})
	return f.err
}

type fakeRebalCtl struct {
	started []string
	err     error
}

func (f *fakeRebalCtl) StartTracking(ctx context.Context, positionID string) error {
	f.started = append(f.started, positionID)
	return f.err
}

// fakePool only answers existence checks; everything else is unused
// by the orchestrator.
type fakePool struct {
	exists map[string]bool
	err    error
}

func (f *fakePool) PositionExists(ctx context.Context, positionID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.exists[positionID], nil
}

func (f *fakePool) PoolPrice(ctx context.Context, poolID string) (float64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakePool) PoolTokens(ctx context.Context, poolID string) ([]chain.Token, error) {
	return nil, errors.New("not implemented")
}

func (f *fakePool) PositionRange(ctx context.Context, positionID string) (chain.Range, error) {
	return chain.Range{}, errors.New("not implemented")
}

func (f *fakePool) PositionAmounts(ctx context.Context, positionID string) (chain.Amounts, error) {
	return chain.Amounts{}, errors.New("not implemented")
}

func (f *fakePool) DecreaseLiquidity(ctx context.Context, positionID string) (chain.TxResult, error) {
	return chain.TxResult{}, errors.New("not implemented")
}

func (f *fakePool) ClosePositionAccount(ctx context.Context, positionID string) (chain.TxResult, error) {
	return chain.TxResult{}, errors.New("not implemented")
}

func (f *fakePool) OpenPosition(ctx context.Context, poolID string, baseAmount float64, rng chain.Range) (chain.NewPosition, error) {
	return chain.NewPosition{}, errors.New("not implemented")
}

func (f *fakePool) ExecuteSwap(ctx context.Context, poolID, fromSymbol string, amount float64) (chain.SwapResult, error) {
	return chain.SwapResult{}, errors.New("not implemented")
}

func (f *fakePool) SuggestRange(ctx context.Context, poolID string, capitalUSD float64) (chain.Range, error) {
	return chain.Range{}, errors.New("not implemented")
}

type countingCounter struct{ n int }

func (c *countingCounter) Inc() { c.n++ }

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "positions.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testReport() rebalance.CompletionReport {
	return rebalance.CompletionReport{
		OldPositionID: "pos-old",
		PoolID:        "pool-1",
		NewPosition: chain.NewPosition{
			PositionID: "pos-new",
			PairName:   "SOL/USDC",
			StartPrice: 95,
			EndPrice:   105,
			ValueUSD:   1100,
		},
		Fees:        rebalance.FeeBreakdown{CloseUSD: 2, SwapUSD: 1, OpenUSD: 1},
		GrossPnlUSD: 50,
	}
}

func seedOldRow(t *testing.T, store *Store) {
	t.Helper()
	err := store.PutPosition(context.Background(), PositionRow{
		Task: rebalance.Task{
			PositionID:       "pos-old",
			PoolID:           "pool-1",
			AutoRebalancing:  true,
			Status:           rebalance.StatusOpening,
			InitialValue:     1000,
			CumulativePnlUSD: 10,
			TransactionCosts: 3,
		},
		PairName: "SOL/USDC",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestHandleCompletionSwapsRowsAndThreadsPnl(t *testing.T) {
	store := testStore(t)
	seedOldRow(t, store)
	hedgeCtl := &fakeHedgeCtl{}
	rebalCtl := &fakeRebalCtl{}
	svc := NewService(store, &fakePool{}, hedgeCtl, rebalCtl, nil, nil, zap.NewNop())

	if err := svc.HandleCompletion(context.Background(), testReport()); err != nil {
		t.Fatalf("HandleCompletion: %v", err)
	}
	if len(hedgeCtl.calls) != 1 || hedgeCtl.calls[0] != [2]string{"pos-old", "pos-new"} {
		t.Fatalf("remap calls = %v", hedgeCtl.calls)
	}
	if _, found, _ := store.GetPosition(context.Background(), "pos-old"); found {
		t.Fatalf("old row still present")
	}
	row, found, err := store.GetPosition(context.Background(), "pos-new")
	if err != nil || !found {
		t.Fatalf("new row missing: %v", err)
	}
	// 10 carried + 50 gross - 4 fees.
	if math.Abs(row.CumulativePnlUSD-56) > 1e-9 {
		t.Fatalf("cumulative pnl = %v, want 56", row.CumulativePnlUSD)
	}
	if math.Abs(row.TransactionCosts-7) > 1e-9 {
		t.Fatalf("transaction costs = %v, want 7", row.TransactionCosts)
	}
	if row.InitialValue != 1100 || row.Status != rebalance.StatusIdle || !row.AutoRebalancing {
		t.Fatalf("new row = %+v", row.Task)
	}
	if len(rebalCtl.started) != 1 || rebalCtl.started[0] != "pos-new" {
		t.Fatalf("tracking starts = %v", rebalCtl.started)
	}
}

func TestHandleCompletionSurvivesRemapFailure(t *testing.T) {
	store := testStore(t)
	seedOldRow(t, store)
	hedgeCtl := &fakeHedgeCtl{err: errors.New("engine down")}
	remaps := &countingCounter{}
	svc := NewService(store, &fakePool{}, hedgeCtl, &fakeRebalCtl{},
		nil, &metrics.Metrics{RemapsFailed: remaps}, zap.NewNop())

	if err := svc.HandleCompletion(context.Background(), testReport()); err != nil {
		t.Fatalf("HandleCompletion: %v", err)
	}
	// The LP record must never be lost to a hedge-side failure.
	if _, found, _ := store.GetPosition(context.Background(), "pos-new"); !found {
		t.Fatalf("new row not persisted after remap failure")
	}
	if remaps.n != 1 {
		t.Fatalf("remap failures counted = %d, want 1", remaps.n)
	}
}

func TestHandleCompletionRejectsEmptyIDs(t *testing.T) {
	svc := NewService(testStore(t), &fakePool{}, &fakeHedgeCtl{}, &fakeRebalCtl{}, nil, nil, zap.NewNop())
	report := testReport()
	report.NewPosition.PositionID = ""
	if err := svc.HandleCompletion(context.Background(), report); err == nil {
		t.Fatalf("expected error for empty new id")
	}
}

func TestHandleCompletionUnknownOldRowStartsFresh(t *testing.T) {
	store := testStore(t)
	svc := NewService(store, &fakePool{}, &fakeHedgeCtl{}, &fakeRebalCtl{}, nil, nil, zap.NewNop())

	if err := svc.HandleCompletion(context.Background(), testReport()); err != nil {
		t.Fatalf("HandleCompletion: %v", err)
	}
	row, found, _ := store.GetPosition(context.Background(), "pos-new")
	if !found {
		t.Fatalf("new row missing")
	}
	// Nothing carried: 0 + 50 - 4.
	if math.Abs(row.CumulativePnlUSD-46) > 1e-9 {
		t.Fatalf("cumulative pnl = %v, want 46", row.CumulativePnlUSD)
	}
	// The pool id comes from the report when no old row supplies it.
	if row.PoolID != "pool-1" {
		t.Fatalf("pool id = %q, want pool-1", row.PoolID)
	}
}

func TestHandleCompletionRejectsMissingPoolID(t *testing.T) {
	store := testStore(t)
	svc := NewService(store, &fakePool{}, &fakeHedgeCtl{}, &fakeRebalCtl{}, nil, nil, zap.NewNop())

	report := testReport()
	report.PoolID = ""
	err := svc.HandleCompletion(context.Background(), report)
	if !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("err = %v, want ErrInvalidReport", err)
	}
	if _, found, _ := store.GetPosition(context.Background(), "pos-new"); found {
		t.Fatalf("row written for a task that can never tick")
	}
}

func TestListPositionsExcludesGhosts(t *testing.T) {
	store := testStore(t)
	for _, id := range []string{"pos-1", "pos-2"} {
		err := store.PutPosition(context.Background(), PositionRow{
			Task: rebalance.Task{PositionID: id, PoolID: "pool-1"},
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	pool := &fakePool{exists: map[string]bool{"pos-1": true}}
	svc := NewService(store, pool, &fakeHedgeCtl{}, &fakeRebalCtl{}, nil, nil, zap.NewNop())

	rows, err := svc.ListPositions(context.Background())
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(rows) != 1 || rows[0].PositionID != "pos-1" {
		t.Fatalf("rows = %+v, want only pos-1", rows)
	}
}

func TestListPositionsKeepsRowsWhenExistenceUnknown(t *testing.T) {
	store := testStore(t)
	err := store.PutPosition(context.Background(), PositionRow{
		Task: rebalance.Task{PositionID: "pos-1", PoolID: "pool-1"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	pool := &fakePool{err: errors.New("collaborator down")}
	svc := NewService(store, pool, &fakeHedgeCtl{}, &fakeRebalCtl{}, nil, nil, zap.NewNop())

	rows, err := svc.ListPositions(context.Background())
	if err != nil {
		t.Fatalf("ListPositions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, an unknown existence must not hide the row", len(rows))
	}
}

func TestActiveForHedgingFiltersStoppedSnapshots(t *testing.T) {
	store := testStore(t)
	svc := NewService(store, &fakePool{}, &fakeHedgeCtl{}, &fakeRebalCtl{}, nil, nil, zap.NewNop())

	live, err := hedge.EncodeSnapshot(hedge.Snapshot{
		PositionID: "pos-1",
		Active:     true,
		Strategy:   hedge.StrategyDeltaNeutral,
		Legs:       []hedge.LegSnapshot{{TradingPair: "SOLUSDT", CurrentHedgeAmount: 2}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	stopped, err := hedge.EncodeSnapshot(hedge.Snapshot{PositionID: "pos-2"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := store.SaveSnapshot(context.Background(), "pos-1", live); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveSnapshot(context.Background(), "pos-2", stopped); err != nil {
		t.Fatalf("save: %v", err)
	}

	snaps, err := svc.ActiveForHedging(context.Background())
	if err != nil {
		t.Fatalf("ActiveForHedging: %v", err)
	}
	if len(snaps) != 1 || snaps[0].PositionID != "pos-1" {
		t.Fatalf("snaps = %+v, want only pos-1", snaps)
	}
}
