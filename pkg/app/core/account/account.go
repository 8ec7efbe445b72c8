package account

import (
	"fmt"
	"math"

	"github.com/uhyunpark/agentvenue/pkg/app/core"
	"github.com/uhyunpark/agentvenue/pkg/app/core/risk"
)

// DefaultCash is the starting cash balance of a new agent.
const DefaultCash = 100_000.0

// Account tracks one agent's cash and signed position in a single symbol.
type Account struct {
	AgentID string  `json:"agent_id"`
	Cash    float64 `json:"cash"`
	Qty     float64 `json:"qty"` // +ve = long, -ve = short
	Trades  int64   `json:"trades"`
	Volume  float64 `json:"volume"` // lifetime traded notional
}

func NewAccount(agentID string) *Account {
	return &Account{AgentID: agentID, Cash: DefaultCash}
}

// ApplyFill books a fill of qty at price on side.
func (a *Account) ApplyFill(side core.Side, price, qty float64) {
	if qty == 0 {
		return
	}
	a.Trades++
	a.Volume += math.Abs(price * qty)
	switch side {
	case core.Buy:
		a.Cash -= price * qty
		a.Qty += qty
	case core.Sell:
		a.Cash += price * qty
		a.Qty -= qty
	}
}

// MarkToMarket is cash plus the position valued at price.
func (a *Account) MarkToMarket(price float64) float64 {
	return a.Cash + a.Qty*price
}

// View is the read-only slice of state the risk guard consumes.
func (a *Account) View(price float64) risk.PositionView {
	return risk.PositionView{Qty: a.Qty, Price: price}
}

// Validate checks account invariants
func (a *Account) Validate() error {
	if a.AgentID == "" {
		return fmt.Errorf("account without agent id")
	}
	if math.IsNaN(a.Cash) || math.IsNaN(a.Qty) {
		return fmt.Errorf("account %s: non-numeric balance", a.AgentID)
	}
	if a.Trades < 0 || a.Volume < 0 {
		return fmt.Errorf("account %s: negative counters", a.AgentID)
	}
	return nil
}
