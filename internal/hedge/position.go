package hedge

import (
	"fmt"
	"time"
)

type StrategyKind string

const (
	StrategyDeltaNeutral StrategyKind = "DELTA_NEUTRAL"
	// StrategyGrid is the legacy zone-ladder variant. Grid positions
	// are carried for bookkeeping but never auto-adjusted.
	StrategyGrid StrategyKind = "GRID"
)

// GridPlan is the deprecated GRID variant's own field set.
type GridPlan struct {
	RangeLower float64
	RangeUpper float64
	Zones      []GridZone
}

type GridZone struct {
	PriceBelow  float64
	HedgeAmount float64
}

// Leg is one futures short hedging one asset of the LP pair.
// CurrentHedgeAmount is the short size tracked as a positive number.
type Leg struct {
	TradingPair        string
	Leverage           int
	CurrentHedgeAmount float64
	LastAveragePrice   float64
	TotalRealizedPnl   float64
	TotalFeesPaid      float64
}

// ApplySell grows the short by qty filled at price and re-weights the
// average entry price.
func (l *Leg) ApplySell(qty, price, feeRate float64) {
	if qty <= 0 {
		return
	}
	total := l.CurrentHedgeAmount + qty
	l.LastAveragePrice = (l.LastAveragePrice*l.CurrentHedgeAmount + price*qty) / total
	l.CurrentHedgeAmount = total
	l.TotalFeesPaid += qty * price * feeRate
}

// ApplyBuy covers qty of the short at price, realizing PnL against
// the average entry. LastAveragePrice is deliberately left unchanged,
// even when the leg flattens to zero; the next sell recomputes it
// from scratch. Downstream PnL reporting depends on this.
func (l *Leg) ApplyBuy(qty, price, feeRate float64) {
	if qty <= 0 {
		return
	}
	covered := qty
	if covered > l.CurrentHedgeAmount {
		covered = l.CurrentHedgeAmount
	}
	l.TotalRealizedPnl += (l.LastAveragePrice - price) * covered
	l.CurrentHedgeAmount -= covered
	l.TotalFeesPaid += qty * price * feeRate
}

// Position is one hedged LP position. The strategy field is a tagged
// union: delta-neutral positions use Legs, grid positions carry Grid.
type Position struct {
	PositionID string
	PairName   string
	TotalValue float64
	Active     bool
	Simulation bool
	Strategy   StrategyKind
	Grid       *GridPlan
	History    []string
	Legs       []*Leg
}

func (p *Position) AppendHistory(format string, args ...any) {
	entry := time.Now().UTC().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...)
	p.History = append(p.History, entry)
}
