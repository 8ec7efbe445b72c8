package venue

import (
	"time"

	"github.com/uhyunpark/agentvenue/pkg/app/core"
)

// Kind names the payload carried by an Event.
type Kind string

const (
	KindOrder    Kind = "order"
	KindTrade    Kind = "trade"
	KindPosition Kind = "position"
	KindSnapshot Kind = "snapshot"
	KindCancel   Kind = "cancel"
	KindTick     Kind = "tick"
)

// Event is what subscribers and the journal see. Seq is strictly increasing
// per venue and matches delivery order.
type Event struct {
	Seq    uint64    `json:"seq"`
	Kind   Kind      `json:"type"`
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"timestamp"`
	Data   any       `json:"data"`
}

// OrderAccepted is published when a clipped intent reaches the book.
type OrderAccepted struct {
	AgentID   string         `json:"agent_id"`
	Side      core.Side      `json:"side"`
	Type      core.OrderType `json:"order_type"`
	Requested float64        `json:"requested"`
	Qty       float64        `json:"qty"`
	Limit     *float64       `json:"limit,omitempty"`
}

// PositionUpdate follows every fill for both counterparties.
type PositionUpdate struct {
	AgentID string  `json:"agent_id"`
	Qty     float64 `json:"qty"`
	Cash    float64 `json:"cash"`
	Equity  float64 `json:"equity"` // marked at the fill price
}

type CancelReport struct {
	AgentID string    `json:"agent_id"`
	Side    core.Side `json:"side"`
	Price   float64   `json:"price"`
	Qty     float64   `json:"qty"`
}

// MarketTick is an externally sourced price observation.
type MarketTick struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume,omitempty"`
}
