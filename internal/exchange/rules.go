package exchange

import (
	"math"
	"sync"
)

// Rules is the symbol constraint table. Read-mostly: refreshed from
// the exchange at startup, consulted before every order.
type Rules struct {
	mu    sync.RWMutex
	rules map[string]SymbolRule
}

func NewRules() *Rules {
	return &Rules{rules: make(map[string]SymbolRule)}
}

func (r *Rules) Put(rule SymbolRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.Symbol] = rule
}

func (r *Rules) Get(symbol string) (SymbolRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[symbol]
	return rule, ok
}

// RoundQty truncates a quantity to the symbol's precision. Unknown
// symbols pass through untouched.
func (r *Rules) RoundQty(symbol string, qty float64) float64 {
	rule, ok := r.Get(symbol)
	if !ok {
		return qty
	}
	if rule.QuantityPrecision <= 0 {
		return math.Floor(qty)
	}
	factor := math.Pow10(rule.QuantityPrecision)
	return math.Floor(qty*factor) / factor
}

// Tradable reports whether an order of qty at price clears the
// symbol's minimum quantity and notional.
func (r *Rules) Tradable(symbol string, qty, price float64) bool {
	rule, ok := r.Get(symbol)
	if !ok {
		return qty > 0
	}
	if qty < rule.MinQty {
		return false
	}
	if rule.MinNotional > 0 && qty*price < rule.MinNotional {
		return false
	}
	return true
}

func (r *Rules) MinNotional(symbol string) float64 {
	rule, ok := r.Get(symbol)
	if !ok {
		return 0
	}
	return rule.MinNotional
}
