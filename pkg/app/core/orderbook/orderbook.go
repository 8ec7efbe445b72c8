package orderbook

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/agentvenue/pkg/app/core"
)

// OrderBook is a single-symbol limit order book with strict price-time
// priority. It does no locking of its own; callers serialize access.
type OrderBook struct {
	tick     decimal.Decimal
	tickSize float64

	bids *bookSide
	asks *bookSide

	sequence  uint64 // time priority, assigned when an order rests
	lastPrice float64
	traded    bool
}

// Top is the best level of each side; a nil entry means the side is empty.
type Top struct {
	Bid *Level `json:"bid"`
	Ask *Level `json:"ask"`
}

// Depth holds aggregated levels, best price first.
type Depth struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

func New(tickSize float64) (*OrderBook, error) {
	if !(tickSize > 0) || math.IsInf(tickSize, 0) {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidTickSize, tickSize)
	}
	return &OrderBook{
		tick:     decimal.NewFromFloat(tickSize),
		tickSize: tickSize,
		bids:     newBookSide(true),
		asks:     newBookSide(false),
	}, nil
}

func (ob *OrderBook) TickSize() float64 { return ob.tickSize }

// ticks maps a price to the index of its nearest tick multiple.
func (ob *OrderBook) ticks(price float64) (int64, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("%w: %v", core.ErrInvalidPrice, price)
	}
	return decimal.NewFromFloat(price).Div(ob.tick).Round(0).IntPart(), nil
}

func (ob *OrderBook) priceAt(ticks int64) float64 {
	return decimal.NewFromInt(ticks).Mul(ob.tick).InexactFloat64()
}

// Normalize rounds price to the nearest multiple of the tick size.
func (ob *OrderBook) Normalize(price float64) (float64, error) {
	t, err := ob.ticks(price)
	if err != nil {
		return 0, err
	}
	return ob.priceAt(t), nil
}

func (ob *OrderBook) sides(s core.Side) (own, contra *bookSide) {
	if s == core.Buy {
		return ob.bids, ob.asks
	}
	return ob.asks, ob.bids
}

// Submit crosses o against the opposite side and returns the trades oldest
// first. Residual quantity rests only for LMT orders. Orders with a
// non-positive quantity are ignored without touching the book.
func (ob *OrderBook) Submit(o core.Order) ([]core.Trade, error) {
	if !(o.Qty > 0) {
		return nil, nil
	}
	if !o.Side.Valid() {
		return nil, fmt.Errorf("%w: %d", core.ErrUnknownSide, o.Side)
	}
	typ, err := o.Type.Effective(o.PriceLimit != nil)
	if err != nil {
		return nil, err
	}

	var limit int64
	if typ != core.Market {
		if limit, err = ob.ticks(*o.PriceLimit); err != nil {
			return nil, err
		}
	}

	own, contra := ob.sides(o.Side)
	marketable := func(lvl *priceLevel) bool {
		switch {
		case typ == core.Market:
			return true
		case o.Side == core.Buy:
			return lvl.ticks <= limit
		default:
			return lvl.ticks >= limit
		}
	}

	var trades []core.Trade
	remaining := o.Qty
	for remaining > core.Epsilon {
		lvl, ok := contra.best()
		if !ok || !marketable(lvl) {
			break
		}
		maker, matched := lvl.fill(remaining)
		remaining -= matched

		symbol := o.Symbol
		if symbol == "" {
			symbol = maker.symbol
		}
		trades = append(trades, core.Trade{
			Price:     lvl.price,
			Qty:       matched,
			TakerID:   o.AgentID,
			MakerID:   maker.agentID,
			TakerSide: o.Side,
			Symbol:    symbol,
		})
		ob.lastPrice, ob.traded = lvl.price, true
		contra.pruneIfEmpty(lvl)
	}

	if remaining > core.Epsilon && typ == core.Limit {
		ob.sequence++
		price := ob.priceAt(limit)
		own.add(limit, price, &restingOrder{
			agentID:  o.AgentID,
			qty:      remaining,
			price:    price,
			symbol:   o.Symbol,
			sequence: ob.sequence,
		})
	}
	return trades, nil
}

// Cancel removes all of agentID's resting quantity at price on side and
// returns the total removed. Other agents' orders keep their positions.
// An unknown side or a non-finite price is an error, not a miss.
func (ob *OrderBook) Cancel(side core.Side, price float64, agentID string) (float64, error) {
	if !side.Valid() {
		return 0, fmt.Errorf("%w: %d", core.ErrUnknownSide, side)
	}
	t, err := ob.ticks(price)
	if err != nil {
		return 0, err
	}
	own, _ := ob.sides(side)
	lvl, ok := own.get(t)
	if !ok {
		return 0, nil
	}
	removed := lvl.cancel(agentID)
	own.pruneIfEmpty(lvl)
	return removed, nil
}

func (ob *OrderBook) TopOfBook() Top {
	var top Top
	if bids := ob.bids.aggregate(1); len(bids) > 0 {
		top.Bid = &bids[0]
	}
	if asks := ob.asks.aggregate(1); len(asks) > 0 {
		top.Ask = &asks[0]
	}
	return top
}

// Depth returns up to levels aggregated levels per side.
func (ob *OrderBook) Depth(levels int) Depth {
	if levels <= 0 {
		return Depth{Bids: []Level{}, Asks: []Level{}}
	}
	return Depth{Bids: ob.bids.aggregate(levels), Asks: ob.asks.aggregate(levels)}
}

// BestBid returns the highest bid price
func (ob *OrderBook) BestBid() (float64, bool) {
	lvl, ok := ob.bids.best()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// BestAsk returns the lowest ask price
func (ob *OrderBook) BestAsk() (float64, bool) {
	lvl, ok := ob.asks.best()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// MidPrice returns the average of best bid and best ask.
// Reports false when the book is empty or one-sided.
func (ob *OrderBook) MidPrice() (float64, bool) {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// LastPrice returns the price of the most recent trade.
func (ob *OrderBook) LastPrice() (float64, bool) {
	return ob.lastPrice, ob.traded
}

// Len is the number of resting orders on both sides.
func (ob *OrderBook) Len() int {
	return ob.bids.orderCount() + ob.asks.orderCount()
}
