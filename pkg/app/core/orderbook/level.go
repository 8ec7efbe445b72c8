package orderbook

import (
	"github.com/uhyunpark/agentvenue/pkg/app/core"
)

// Level is an aggregated (price, quantity) view of one price level.
type Level struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// restingOrder is owned by exactly one priceLevel.
type restingOrder struct {
	agentID  string
	qty      float64
	price    float64
	symbol   string
	sequence uint64
}

// priceLevel is a FIFO of resting orders sharing one normalized price.
// Orders are appended in sequence order, so index order is time priority.
type priceLevel struct {
	ticks  int64
	price  float64
	orders []*restingOrder
}

func newPriceLevel(ticks int64, price float64) *priceLevel {
	return &priceLevel{ticks: ticks, price: price}
}

func (l *priceLevel) push(o *restingOrder) { l.orders = append(l.orders, o) }

func (l *priceLevel) empty() bool { return len(l.orders) == 0 }

// fill trades up to qty against the head order and returns the maker and the
// matched quantity. A head order that reaches zero is removed from the level.
func (l *priceLevel) fill(qty float64) (maker restingOrder, matched float64) {
	head := l.orders[0]
	matched = min(qty, head.qty)
	head.qty -= matched
	maker = *head
	if head.qty <= core.Epsilon {
		l.orders[0] = nil
		l.orders = l.orders[1:]
	}
	return maker, matched
}

// total is the aggregate remaining quantity, ignoring non-positive entries.
func (l *priceLevel) total() float64 {
	var sum float64
	for _, o := range l.orders {
		if o.qty > 0 {
			sum += o.qty
		}
	}
	return sum
}

// cancel removes every entry of agentID and keeps the rest in order.
func (l *priceLevel) cancel(agentID string) float64 {
	var removed float64
	kept := l.orders[:0]
	for _, o := range l.orders {
		if o.agentID == agentID {
			removed += o.qty
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(l.orders); i++ {
		l.orders[i] = nil
	}
	l.orders = kept
	return removed
}
