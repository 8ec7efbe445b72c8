package api

import (
	"github.com/uhyunpark/agentvenue/pkg/app/core"
	"github.com/uhyunpark/agentvenue/pkg/app/core/account"
	"github.com/uhyunpark/agentvenue/pkg/app/core/orderbook"
)

// API response types for REST endpoints

// MarketInfo describes one tradable symbol
type MarketInfo struct {
	Symbol    string   `json:"symbol"`
	TickSize  float64  `json:"tickSize"`
	LastPrice *float64 `json:"lastPrice,omitempty"` // nil before the first trade
	MidPrice  *float64 `json:"midPrice,omitempty"`
	LastSeq   uint64   `json:"lastSeq"`
}

// OrderbookSnapshot represents current orderbook state
type OrderbookSnapshot struct {
	Symbol    string            `json:"symbol"`
	Bids      []orderbook.Level `json:"bids"` // Sorted high to low
	Asks      []orderbook.Level `json:"asks"` // Sorted low to high
	Timestamp int64             `json:"timestamp"` // Unix milliseconds
}

type TopOfBook struct {
	Symbol string           `json:"symbol"`
	Bid    *orderbook.Level `json:"bid"`
	Ask    *orderbook.Level `json:"ask"`
}

// AccountInfo is an agent's account marked at the venue's current mid.
type AccountInfo struct {
	account.Account
	Symbol string  `json:"symbol"`
	Mark   float64 `json:"mark"`
	Equity float64 `json:"equity"`
}

type CancelOrderRequest struct {
	AgentID string    `json:"agent_id"`
	Side    core.Side `json:"side"`
	Price   float64   `json:"price"`
}

type CancelOrderResponse struct {
	Status  string  `json:"status"` // "cancelled" or "not_found"
	Removed float64 `json:"removed"`
}

// IngestResponse answers a tick ingest with how many were published.
type IngestResponse struct {
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
	LastSeq  uint64 `json:"lastSeq"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
