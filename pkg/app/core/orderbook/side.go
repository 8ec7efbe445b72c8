package orderbook

import (
	"github.com/tidwall/btree"

	"github.com/uhyunpark/agentvenue/pkg/app/core"
)

// bookSide keys price levels by tick index. Bids are read from the top of the
// tree, asks from the bottom.
type bookSide struct {
	bid    bool
	levels *btree.Map[int64, *priceLevel]
}

func newBookSide(bid bool) *bookSide {
	return &bookSide{bid: bid, levels: btree.NewMap[int64, *priceLevel](32)}
}

func (s *bookSide) add(ticks int64, price float64, o *restingOrder) {
	lvl, ok := s.levels.Get(ticks)
	if !ok {
		lvl = newPriceLevel(ticks, price)
		s.levels.Set(ticks, lvl)
	}
	lvl.push(o)
}

func (s *bookSide) get(ticks int64) (*priceLevel, bool) {
	return s.levels.Get(ticks)
}

// best returns the best non-empty level, dropping any empty ones it meets.
func (s *bookSide) best() (*priceLevel, bool) {
	for s.levels.Len() > 0 {
		var (
			ticks int64
			lvl   *priceLevel
		)
		if s.bid {
			ticks, lvl, _ = s.levels.Max()
		} else {
			ticks, lvl, _ = s.levels.Min()
		}
		if !lvl.empty() {
			return lvl, true
		}
		s.levels.Delete(ticks)
	}
	return nil, false
}

func (s *bookSide) pruneIfEmpty(lvl *priceLevel) {
	if lvl.empty() {
		s.levels.Delete(lvl.ticks)
	}
}

// scan visits levels best price first until fn returns false.
func (s *bookSide) scan(fn func(*priceLevel) bool) {
	iter := func(_ int64, lvl *priceLevel) bool { return fn(lvl) }
	if s.bid {
		s.levels.Reverse(iter)
		return
	}
	s.levels.Scan(iter)
}

// aggregate returns up to n levels best first. Levels whose remaining
// quantity is not positive are skipped and removed.
func (s *bookSide) aggregate(n int) []Level {
	out := make([]Level, 0, n)
	var stale []int64
	s.scan(func(lvl *priceLevel) bool {
		qty := lvl.total()
		if qty <= core.Epsilon {
			stale = append(stale, lvl.ticks)
			return true
		}
		out = append(out, Level{Price: lvl.price, Qty: qty})
		return len(out) < n
	})
	for _, t := range stale {
		s.levels.Delete(t)
	}
	return out
}

func (s *bookSide) orderCount() int {
	n := 0
	s.levels.Scan(func(_ int64, lvl *priceLevel) bool {
		n += len(lvl.orders)
		return true
	})
	return n
}
