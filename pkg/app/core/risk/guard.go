// Package risk clips requested order sizes to per-agent position and
// notional limits before they reach a book.
package risk

import (
	"math"
	"sync"

	"github.com/uhyunpark/agentvenue/pkg/app/core"
)

// DropEpsilon is the size at or below which a clipped order is dropped.
const DropEpsilon = 1e-6

// Limits are per-agent caps. A +Inf field disables that stage.
type Limits struct {
	MaxPosition      float64 `json:"max_position"`
	MaxOrderNotional float64 `json:"max_order_notional"`
	MaxNotional      float64 `json:"max_notional"`
}

func Unlimited() Limits {
	inf := math.Inf(1)
	return Limits{MaxPosition: inf, MaxOrderNotional: inf, MaxNotional: inf}
}

// PositionView is what the guard reads about an agent: its signed quantity
// and the prevailing price (0 when unknown).
type PositionView struct {
	Qty   float64
	Price float64
}

// Admissible reports whether a clipped quantity is large enough to submit.
func Admissible(qty float64) bool { return qty > DropEpsilon }

// Clip returns the largest quantity not above requested that respects the
// position cap, the per-order notional cap and the total notional cap,
// applied in that order. Notional stages are skipped when price is not
// positive. The result is never negative.
func Clip(side core.Side, requested, price, current float64, l Limits) float64 {
	qty := math.Max(0, requested)
	if math.IsNaN(qty) {
		return 0
	}

	if finite(l.MaxPosition) {
		qty = math.Min(qty, PositionRoom(side, current, l.MaxPosition))
	}
	if qty <= 0 {
		return 0
	}

	if price > 0 {
		if finite(l.MaxOrderNotional) {
			qty = math.Min(qty, l.MaxOrderNotional/price)
		}
		if finite(l.MaxNotional) {
			remaining := l.MaxNotional - math.Abs(current)*price
			if remaining <= 0 {
				return 0
			}
			qty = math.Min(qty, remaining/price)
		}
	}
	return math.Max(0, qty)
}

// PositionRoom is how much more side can trade before |position| would pass
// limit. The limit is shared by long and short exposure.
func PositionRoom(side core.Side, current, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	if side == core.Buy {
		return math.Max(0, limit-math.Max(current, 0))
	}
	return math.Max(0, limit-math.Abs(math.Min(current, 0)))
}

func finite(v float64) bool { return !math.IsInf(v, 1) && !math.IsNaN(v) }

// Guard holds per-agent limits with a fallback default.
type Guard struct {
	mu       sync.RWMutex
	defaults Limits
	agents   map[string]Limits
}

func NewGuard(defaults Limits) *Guard {
	return &Guard{defaults: defaults, agents: make(map[string]Limits)}
}

func (g *Guard) SetLimits(agentID string, l Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.agents[agentID] = l
}

func (g *Guard) LimitsFor(agentID string) Limits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if l, ok := g.agents[agentID]; ok {
		return l
	}
	return g.defaults
}

// Check clips requested for agentID against its limits and view.
func (g *Guard) Check(agentID string, side core.Side, requested float64, view PositionView) float64 {
	return Clip(side, requested, view.Price, view.Qty, g.LimitsFor(agentID))
}
