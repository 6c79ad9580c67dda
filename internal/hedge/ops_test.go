package hedge

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"lp-hedge-bot/internal/exchange"
)

// parkCycle starts an adjustment cycle for id and blocks it inside the
// fill-confirmation delay, after its order is placed. The returned
// release channel lets the cycle finish; wait joins it.
func parkCycle(t *testing.T, e *Engine, id string) (release chan struct{}, wait func()) {
	t.Helper()
	entered := make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	e.sleep = func(ctx context.Context, d time.Duration) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return nil
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.AdjustPosition(context.Background(), id)
	}()
	<-entered
	return release, wg.Wait
}

func TestStartIsAllOrNothingOnLeverageFailure(t *testing.T) {
	cli := newFakeClient()
	cli.mark["SOLUSDT"] = 100
	cli.mark["ETHUSDT"] = 2000
	cli.leverageErr = map[string]error{"ETHUSDT": errors.New("leverage rejected")}
	assets := &fakeAssets{base: 4, quote: 0.5}
	e := newTestEngine(cli, assets, nil)

	err := e.StartDeltaNeutral(context.Background(), "pos-1", "SOL/ETH", 1000,
		[]LegSpec{{TradingPair: "SOLUSDT", Leverage: 2}, {TradingPair: "ETHUSDT", Leverage: 2}}, false)
	if err == nil {
		t.Fatalf("expected error when second leg's leverage fails")
	}
	if e.table.Len() != 0 {
		t.Fatalf("position left behind after failed start")
	}
	if cli.orderCount() != 0 {
		t.Fatalf("orders placed during a failed start")
	}
}

func TestStartRejectsDuplicateID(t *testing.T) {
	cli := newFakeClient()
	cli.mark["SOLUSDT"] = 100
	assets := &fakeAssets{base: 1}
	e := newTestEngine(cli, assets, nil)

	startPosition(t, e, "pos-1", "SOLUSDT")
	err := e.StartDeltaNeutral(context.Background(), "pos-1", "SOL/USDC", 1000,
		[]LegSpec{{TradingPair: "SOLUSDT", Leverage: 1}}, false)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestStopFlattensOpenShortAndRemovesPosition(t *testing.T) {
	cli := newFakeClient()
	cli.mark["SOLUSDT"] = 100
	assets := &fakeAssets{base: 2.5}
	sink := &fakeSink{}
	e := newTestEngine(cli, assets, sink)

	startPosition(t, e, "pos-1", "SOLUSDT")
	before := cli.orderCount()

	if err := e.Stop(context.Background(), "pos-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := cli.orderCount() - before; got != 1 {
		t.Fatalf("Stop placed %d orders, want 1", got)
	}
	last := cli.placed[len(cli.placed)-1]
	if last.side != exchange.SideBuy || math.Abs(last.qty-2.5) > 1e-9 {
		t.Fatalf("closing order = %+v, want BUY 2.5", last)
	}
	if _, ok := e.table.Get("pos-1"); ok {
		t.Fatalf("position still in table after Stop")
	}
	// The durable record survives as a legless placeholder.
	snap, ok := sink.last("pos-1")
	if !ok || len(snap.Legs) != 0 {
		t.Fatalf("stopped snapshot = %+v, want a record with no legs", snap)
	}
}

func TestStopWaitsForCycleInFlight(t *testing.T) {
	cli := newFakeClient()
	cli.mark["SOLUSDT"] = 100
	assets := &fakeAssets{base: 5}
	e := newTestEngine(cli, assets, nil)

	e.table.Set(&Position{
		PositionID: "pos-1",
		Active:     true,
		Strategy:   StrategyDeltaNeutral,
		Legs:       []*Leg{{TradingPair: "SOLUSDT"}},
	})
	release, wait := parkCycle(t, e, "pos-1")

	stopDone := make(chan error, 1)
	go func() { stopDone <- e.Stop(context.Background(), "pos-1") }()
	select {
	case <-stopDone:
		t.Fatalf("Stop returned while an adjustment cycle held the position")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wait()
	if err := <-stopDone; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := e.table.Get("pos-1"); ok {
		t.Fatalf("position still in table after Stop")
	}
	// The cycle's SELL landed first; Stop then flattened the whole short.
	if got := cli.orderCount(); got != 2 {
		t.Fatalf("placed %d orders, want 2", got)
	}
	last := cli.placed[len(cli.placed)-1]
	if last.side != exchange.SideBuy || math.Abs(last.qty-5) > 1e-9 {
		t.Fatalf("closing order = %+v, want BUY 5", last)
	}
}

func TestStopUnknownPosition(t *testing.T) {
	e := newTestEngine(newFakeClient(), nil, nil)
	if err := e.Stop(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPrepareForRebalanceIsIdempotent(t *testing.T) {
	cli := newFakeClient()
	cli.mark["SOLUSDT"] = 100
	assets := &fakeAssets{base: 2}
	e := newTestEngine(cli, assets, nil)

	pos := startPosition(t, e, "pos-1", "SOLUSDT")
	amount := pos.Legs[0].CurrentHedgeAmount

	e.PrepareForRebalance(context.Background(), "pos-1")
	if pos.Active {
		t.Fatalf("position still active after prepare")
	}
	historyLen := len(pos.History)

	// Second pause and a pause for a missing id are both no-ops.
	e.PrepareForRebalance(context.Background(), "pos-1")
	e.PrepareForRebalance(context.Background(), "missing")
	if len(pos.History) != historyLen {
		t.Fatalf("repeated prepare appended history")
	}
	if pos.Legs[0].CurrentHedgeAmount != amount {
		t.Fatalf("prepare touched the leg state")
	}

	// Paused positions are skipped by the adjustment scan.
	before := cli.orderCount()
	assets.set(10, 0)
	e.adjustAll(context.Background())
	if cli.orderCount() != before {
		t.Fatalf("paused position was adjusted")
	}
}

func TestPrepareForRebalanceWaitsForCycleInFlight(t *testing.T) {
	cli := newFakeClient()
	cli.mark["SOLUSDT"] = 100
	assets := &fakeAssets{base: 5}
	e := newTestEngine(cli, assets, nil)

	pos := &Position{
		PositionID: "pos-1",
		Active:     true,
		Strategy:   StrategyDeltaNeutral,
		Legs:       []*Leg{{TradingPair: "SOLUSDT"}},
	}
	e.table.Set(pos)
	release, wait := parkCycle(t, e, "pos-1")

	prepDone := make(chan struct{})
	go func() {
		e.PrepareForRebalance(context.Background(), "pos-1")
		close(prepDone)
	}()
	select {
	case <-prepDone:
		t.Fatalf("position paused while an adjustment cycle held it")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wait()
	<-prepDone
	if pos.Active {
		t.Fatalf("position not paused")
	}
	// The parked cycle's fill was applied before the pause landed.
	if math.Abs(pos.Legs[0].CurrentHedgeAmount-5) > 1e-9 {
		t.Fatalf("hedge amount = %v, want 5", pos.Legs[0].CurrentHedgeAmount)
	}
}

func TestRemapRekeysResumesAndPreservesEconomics(t *testing.T) {
	cli := newFakeClient()
	cli.mark["SOLUSDT"] = 100
	assets := &fakeAssets{base: 2}
	sink := &fakeSink{}
	e := newTestEngine(cli, assets, sink)

	pos := startPosition(t, e, "pos-old", "SOLUSDT")
	pos.Legs[0].TotalRealizedPnl = 42
	e.PrepareForRebalance(context.Background(), "pos-old")

	// The rebalance changed the LP composition.
	assets.set(3, 0)
	if err := e.Remap(context.Background(), "pos-old", "pos-new"); err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if _, ok := e.table.Get("pos-old"); ok {
		t.Fatalf("old id still present after remap")
	}
	moved, ok := e.table.Get("pos-new")
	if !ok {
		t.Fatalf("new id missing after remap")
	}
	if !moved.Active {
		t.Fatalf("remapped position not resumed")
	}
	if moved.Legs[0].TotalRealizedPnl != 42 {
		t.Fatalf("leg economics lost in remap")
	}
	// Remap triggers an immediate cycle against the new composition.
	if math.Abs(moved.Legs[0].CurrentHedgeAmount-3) > 1e-9 {
		t.Fatalf("hedge amount = %v, want 3 after post-remap cycle", moved.Legs[0].CurrentHedgeAmount)
	}
}

func TestRemapWaitsForCycleUnderOldID(t *testing.T) {
	cli := newFakeClient()
	cli.mark["SOLUSDT"] = 100
	assets := &fakeAssets{base: 5}
	e := newTestEngine(cli, assets, nil)

	e.table.Set(&Position{
		PositionID: "pos-old",
		Active:     true,
		Strategy:   StrategyDeltaNeutral,
		Legs:       []*Leg{{TradingPair: "SOLUSDT"}},
	})
	release, wait := parkCycle(t, e, "pos-old")

	remapDone := make(chan error, 1)
	go func() { remapDone <- e.Remap(context.Background(), "pos-old", "pos-new") }()
	select {
	case <-remapDone:
		t.Fatalf("Remap returned while a cycle held the old id")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wait()
	if err := <-remapDone; err != nil {
		t.Fatalf("Remap: %v", err)
	}
	moved, ok := e.table.Get("pos-new")
	if !ok {
		t.Fatalf("new id missing after remap")
	}
	if math.Abs(moved.Legs[0].CurrentHedgeAmount-5) > 1e-9 {
		t.Fatalf("hedge amount = %v, want 5", moved.Legs[0].CurrentHedgeAmount)
	}
	// The parked cycle already covered the target, so the post-remap
	// cycle must see its fill and place nothing.
	if got := cli.orderCount(); got != 1 {
		t.Fatalf("placed %d orders, want 1 (no double hedge across the rename)", got)
	}
}

func TestRemapValidation(t *testing.T) {
	e := newTestEngine(newFakeClient(), nil, nil)
	if err := e.Remap(context.Background(), "a", "a"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("same-id remap: err = %v, want ErrInvalid", err)
	}
	if err := e.Remap(context.Background(), "missing", "new"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing-id remap: err = %v, want ErrNotFound", err)
	}
}

func TestValidateValue(t *testing.T) {
	e := newTestEngine(newFakeClient(), nil, nil)
	e.rules.Put(exchange.SymbolRule{Symbol: "ETHUSDT", MinNotional: 100})

	cases := []struct {
		name    string
		value   float64
		legs    []LegSpec
		wantErr bool
	}{
		{"single leg ok", 50, []LegSpec{{TradingPair: "SOLUSDT"}}, false},
		{"below config minimum", 5, []LegSpec{{TradingPair: "SOLUSDT"}}, true},
		{"below exchange minimum", 150, []LegSpec{{TradingPair: "ETHUSDT"}, {TradingPair: "SOLUSDT"}}, true},
		{"dual leg ok", 400, []LegSpec{{TradingPair: "ETHUSDT"}, {TradingPair: "SOLUSDT"}}, false},
		{"no legs", 100, nil, true},
		{"three legs", 1000, []LegSpec{{TradingPair: "A"}, {TradingPair: "B"}, {TradingPair: "C"}}, true},
		{"zero value", 0, []LegSpec{{TradingPair: "SOLUSDT"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.ValidateValue(tc.value, tc.legs)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateValue(%v, %d legs) = %v, wantErr %v",
					tc.value, len(tc.legs), err, tc.wantErr)
			}
		})
	}
}
