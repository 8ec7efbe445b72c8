// Package core holds the order and trade types shared by the guard, the
// matching engine and the venue.
package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTickSize   = errors.New("tick size must be positive")
	ErrUnknownOrderType  = errors.New("unsupported order type")
	ErrMissingLimitPrice = errors.New("limit order requires a price")
	ErrUnknownSide       = errors.New("unknown order side")
	ErrInvalidPrice      = errors.New("price must be a finite number")
)

// Epsilon is the quantity below which a remainder counts as fully filled.
const Epsilon = 1e-12

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the side a taker on s trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// ParseSide accepts "BUY"/"SELL" in any case.
func ParseSide(v string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSide, v)
	}
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSide, s)
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// OrderType is resolved once when an intent becomes an Order. The zero value
// is not a valid type; the engine rejects it instead of guessing.
type OrderType uint8

const (
	Limit     OrderType = iota + 1 // rests any residual
	Market                         // sweeps, never rests
	IOC                            // crosses up to its limit, residual discarded
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LMT"
	case Market:
		return "MKT"
	case IOC:
		return "IOC"
	default:
		return "UNSET"
	}
}

func (t OrderType) Valid() bool { return t >= Limit && t <= IOC }

func (t OrderType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOrderType, t)
	}
	return []byte(t.String()), nil
}

func (t *OrderType) UnmarshalText(b []byte) error {
	v, err := ParseOrderType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseOrderType validates an explicit type string against LMT, MKT and IOC.
func ParseOrderType(v string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "LMT":
		return Limit, nil
	case "MKT":
		return Market, nil
	case "IOC":
		return IOC, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOrderType, v)
	}
}

// ResolveOrderType turns an optional type hint into an explicit OrderType.
// An empty hint defaults to LMT when a price is present and MKT otherwise.
// IOC without a price is reinterpreted as MKT; LMT without one is an error.
func ResolveOrderType(hint string, hasPrice bool) (OrderType, error) {
	if strings.TrimSpace(hint) == "" {
		if hasPrice {
			return Limit, nil
		}
		return Market, nil
	}
	t, err := ParseOrderType(hint)
	if err != nil {
		return 0, err
	}
	return t.Effective(hasPrice)
}

// Effective validates t and applies the IOC-without-price relaxation.
func (t OrderType) Effective(hasPrice bool) (OrderType, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOrderType, t)
	}
	if hasPrice {
		return t, nil
	}
	switch t {
	case Limit:
		return 0, ErrMissingLimitPrice
	case IOC:
		return Market, nil
	}
	return t, nil
}

// Order is an admissible intent submitted to a book.
type Order struct {
	AgentID    string
	Side       Side
	Qty        float64
	PriceLimit *float64 // nil for market orders
	Type       OrderType
	Symbol     string // optional
}

// NewOrder builds an order from an upstream record, resolving the type hint.
func NewOrder(agentID string, side Side, qty float64, price *float64, hint string) (Order, error) {
	if !side.Valid() {
		return Order{}, fmt.Errorf("%w: %d", ErrUnknownSide, side)
	}
	t, err := ResolveOrderType(hint, price != nil)
	if err != nil {
		return Order{}, err
	}
	o := Order{AgentID: agentID, Side: side, Qty: qty, Type: t}
	if price != nil && t != Market {
		px := *price
		o.PriceLimit = &px
	}
	return o, nil
}

func LimitOrder(agentID string, side Side, qty, price float64) Order {
	return Order{AgentID: agentID, Side: side, Qty: qty, PriceLimit: &price, Type: Limit}
}

func MarketOrder(agentID string, side Side, qty float64) Order {
	return Order{AgentID: agentID, Side: side, Qty: qty, Type: Market}
}

func IOCOrder(agentID string, side Side, qty, price float64) Order {
	return Order{AgentID: agentID, Side: side, Qty: qty, PriceLimit: &price, Type: IOC}
}

// Trade is produced only by the matching loop and never mutated.
type Trade struct {
	Price     float64 `json:"price"`
	Qty       float64 `json:"qty"`
	TakerID   string  `json:"taker_id"`
	MakerID   string  `json:"maker_id"`
	TakerSide Side    `json:"taker_side"`
	Symbol    string  `json:"symbol,omitempty"`
}

// Notional is price times quantity.
func (t Trade) Notional() float64 { return t.Price * t.Qty }
