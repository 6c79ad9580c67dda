package hedge

import (
	"math"
	"strings"
	"testing"
)

func TestApplySellWeightsAveragePrice(t *testing.T) {
	leg := &Leg{}
	leg.ApplySell(2, 100, 0)
	leg.ApplySell(2, 110, 0)

	if math.Abs(leg.CurrentHedgeAmount-4) > 1e-9 {
		t.Fatalf("amount = %v, want 4", leg.CurrentHedgeAmount)
	}
	if math.Abs(leg.LastAveragePrice-105) > 1e-9 {
		t.Fatalf("avg price = %v, want 105", leg.LastAveragePrice)
	}
}

func TestApplyBuyCapsAtOpenAmount(t *testing.T) {
	leg := &Leg{}
	leg.ApplySell(3, 100, 0)
	leg.ApplyBuy(5, 90, 0)

	if leg.CurrentHedgeAmount != 0 {
		t.Fatalf("amount = %v, want 0", leg.CurrentHedgeAmount)
	}
	// Only the 3 actually open were covered.
	if math.Abs(leg.TotalRealizedPnl-30) > 1e-9 {
		t.Fatalf("realized pnl = %v, want 30", leg.TotalRealizedPnl)
	}
}

func TestAveragePriceSurvivesFlatten(t *testing.T) {
	leg := &Leg{}
	leg.ApplySell(2, 100, 0)
	leg.ApplyBuy(2, 95, 0)

	if leg.CurrentHedgeAmount != 0 {
		t.Fatalf("amount = %v, want 0", leg.CurrentHedgeAmount)
	}
	// The stale average is kept on purpose; reporting reads it.
	if leg.LastAveragePrice != 100 {
		t.Fatalf("avg price = %v, want 100 after flatten", leg.LastAveragePrice)
	}

	// The next sell starts a fresh weighted average from zero size.
	leg.ApplySell(1, 120, 0)
	if math.Abs(leg.LastAveragePrice-120) > 1e-9 {
		t.Fatalf("avg price = %v, want 120 after re-entry", leg.LastAveragePrice)
	}
}

func TestFeesAccrueOnBothSides(t *testing.T) {
	leg := &Leg{}
	leg.ApplySell(2, 100, 0.001)
	leg.ApplyBuy(1, 100, 0.001)

	want := 2*100*0.001 + 1*100*0.001
	if math.Abs(leg.TotalFeesPaid-want) > 1e-9 {
		t.Fatalf("fees = %v, want %v", leg.TotalFeesPaid, want)
	}
}

func TestApplyIgnoresNonPositiveQty(t *testing.T) {
	leg := &Leg{CurrentHedgeAmount: 1, LastAveragePrice: 100}
	leg.ApplySell(0, 110, 0.001)
	leg.ApplyBuy(-1, 90, 0.001)

	if leg.CurrentHedgeAmount != 1 || leg.LastAveragePrice != 100 || leg.TotalFeesPaid != 0 {
		t.Fatalf("leg mutated by non-positive qty: %+v", leg)
	}
}

func TestAppendHistoryPrefixesTimestamp(t *testing.T) {
	pos := &Position{}
	pos.AppendHistory("SELL %s %.2f", "SOLUSDT", 1.5)

	if len(pos.History) != 1 {
		t.Fatalf("history len = %d, want 1", len(pos.History))
	}
	entry := pos.History[0]
	if !strings.HasSuffix(entry, "SELL SOLUSDT 1.50") {
		t.Fatalf("entry = %q", entry)
	}
	if !strings.Contains(entry, "T") || !strings.HasPrefix(entry, "20") {
		t.Fatalf("entry missing RFC3339 prefix: %q", entry)
	}
}
