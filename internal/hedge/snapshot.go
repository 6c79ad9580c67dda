package hedge

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is the full-state wire form pushed to the position store
// after every mutation. Encoded as msgpack: snapshots ride along on
// every adjustment cycle, so the blob is kept compact.
type Snapshot struct {
	PositionID string        `msgpack:"positionId"`
	PairName   string        `msgpack:"pairName"`
	TotalValue float64       `msgpack:"totalValue"`
	Active     bool          `msgpack:"active"`
	Simulation bool          `msgpack:"simulation"`
	Strategy   StrategyKind  `msgpack:"strategy"`
	Legs       []LegSnapshot `msgpack:"legs"`
	History    []string      `msgpack:"history"`
}

type LegSnapshot struct {
	TradingPair        string  `msgpack:"tradingPair"`
	Leverage           int     `msgpack:"leverage"`
	CurrentHedgeAmount float64 `msgpack:"currentHedgeAmount"`
	LastAveragePrice   float64 `msgpack:"lastAveragePrice"`
	TotalRealizedPnl   float64 `msgpack:"totalRealizedPnl"`
	TotalFeesPaid      float64 `msgpack:"totalFeesPaid"`
}

func (p *Position) Snapshot() Snapshot {
	snap := Snapshot{
		PositionID: p.PositionID,
		PairName:   p.PairName,
		TotalValue: p.TotalValue,
		Active:     p.Active,
		Simulation: p.Simulation,
		Strategy:   p.Strategy,
		History:    append([]string(nil), p.History...),
	}
	for _, leg := range p.Legs {
		snap.Legs = append(snap.Legs, LegSnapshot{
			TradingPair:        leg.TradingPair,
			Leverage:           leg.Leverage,
			CurrentHedgeAmount: leg.CurrentHedgeAmount,
			LastAveragePrice:   leg.LastAveragePrice,
			TotalRealizedPnl:   leg.TotalRealizedPnl,
			TotalFeesPaid:      leg.TotalFeesPaid,
		})
	}
	return snap
}

func (s Snapshot) Restore() *Position {
	pos := &Position{
		PositionID: s.PositionID,
		PairName:   s.PairName,
		TotalValue: s.TotalValue,
		Active:     s.Active,
		Simulation: s.Simulation,
		Strategy:   s.Strategy,
		History:    append([]string(nil), s.History...),
	}
	for _, leg := range s.Legs {
		pos.Legs = append(pos.Legs, &Leg{
			TradingPair:        leg.TradingPair,
			Leverage:           leg.Leverage,
			CurrentHedgeAmount: leg.CurrentHedgeAmount,
			LastAveragePrice:   leg.LastAveragePrice,
			TotalRealizedPnl:   leg.TotalRealizedPnl,
			TotalFeesPaid:      leg.TotalFeesPaid,
		})
	}
	return pos
}

func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	return msgpack.Marshal(snap)
}

func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	err := msgpack.Unmarshal(data, &snap)
	return snap, err
}
