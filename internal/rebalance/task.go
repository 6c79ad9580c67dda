package rebalance

import (
	"time"

	"lp-hedge-bot/internal/chain"
)

type Status string

const (
	StatusIdle                 Status = "idle"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusClosing              Status = "closing"
	StatusOpening              Status = "opening"
)

// Context is the bag of intermediate values carried between state
// machine steps within one rebalance cycle.
type Context struct {
	FreedBase    float64            `json:"freedBase"`
	FreedQuote   float64            `json:"freedQuote"`
	GrossPnlUSD  float64            `json:"grossPnlUsd"`
	CloseFeesUSD float64            `json:"closeFeesUsd"`
	SwapFeesUSD  float64            `json:"swapFeesUsd"`
	OpenFeesUSD  float64            `json:"openFeesUsd"`
	Opened       *chain.NewPosition `json:"opened,omitempty"`
}

// Task is one LP position's rebalance record, one durable row per
// position. Rows live in the orchestrator's store; the state machine
// reloads them every tick.
type Task struct {
	PositionID       string     `json:"positionId"`
	PoolID           string     `json:"poolId"`
	AutoRebalancing  bool       `json:"isAutoRebalancing"`
	Status           Status     `json:"rebalanceStatus"`
	OutOfRangeSince  *time.Time `json:"outOfRangeSince,omitempty"`
	Context          Context    `json:"rebalanceContext"`
	InitialValue     float64    `json:"initialValue"`
	CumulativePnlUSD float64    `json:"cumulativePnlUsd"`
	TransactionCosts float64    `json:"transactionCosts"`
	StartPrice       float64    `json:"startPrice"`
	EndPrice         float64    `json:"endPrice"`
}

func (t *Task) Range() chain.Range {
	return chain.Range{Lower: t.StartPrice, Upper: t.EndPrice}
}

// FeeBreakdown itemizes one cycle's transaction costs.
type FeeBreakdown struct {
	CloseUSD float64 `json:"closeUsd"`
	SwapUSD  float64 `json:"swapUsd"`
	OpenUSD  float64 `json:"openUsd"`
}

func (f FeeBreakdown) Total() float64 {
	return f.CloseUSD + f.SwapUSD + f.OpenUSD
}

// CompletionReport is the callback payload sent to the orchestrator
// when a rebalance cycle finishes.
type CompletionReport struct {
	OldPositionID string            `json:"oldPositionId"`
	PoolID        string            `json:"poolId"`
	NewPosition   chain.NewPosition `json:"newPositionData"`
	Fees          FeeBreakdown      `json:"fees"`
	GrossPnlUSD   float64           `json:"grossPnlUsd"`
}
