// Package venue ties one symbol's order book, risk guard, accounts and event
// store together and is the only writer to each of them.
package venue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/agentvenue/pkg/app/core"
	"github.com/uhyunpark/agentvenue/pkg/app/core/account"
	"github.com/uhyunpark/agentvenue/pkg/app/core/orderbook"
	"github.com/uhyunpark/agentvenue/pkg/app/core/risk"
	"github.com/uhyunpark/agentvenue/pkg/eventstore"
	"github.com/uhyunpark/agentvenue/pkg/metrics"
	"github.com/uhyunpark/agentvenue/pkg/util"
)

var (
	ErrMissingAgent = errors.New("venue: missing agent id")
	ErrInvalidQty   = errors.New("venue: quantity is not a finite number")
	ErrInvalidTick  = errors.New("venue: tick price must be positive")
	ErrEmptySymbol  = errors.New("venue: empty symbol")
)

const (
	StatusAccepted = "accepted"
	StatusDropped  = "dropped"
)

type Config struct {
	Symbol         string
	TickSize       float64
	HistoryLen     int
	QueueSize      int
	SnapshotLevels int
	Limits         risk.Limits
	// StartSeq is the last sequence already published, e.g. recovered from
	// a journal. The first new event gets StartSeq+1.
	StartSeq uint64

	Clock   util.Clock
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:         symbol,
		TickSize:       0.01,
		HistoryLen:     1000,
		QueueSize:      100,
		SnapshotLevels: 5,
		Limits:         risk.Unlimited(),
	}
}

// Intent is an upstream order request before type resolution and clipping.
type Intent struct {
	AgentID string    `json:"agent_id"`
	Side    core.Side `json:"side"`
	Qty     float64   `json:"qty"`
	Limit   *float64  `json:"limit,omitempty"`
	Type    string    `json:"order_type,omitempty"`
}

// Result reports what became of an intent.
type Result struct {
	Status    string          `json:"status"`
	Type      core.OrderType  `json:"order_type"`
	Requested float64         `json:"requested"`
	Qty       float64         `json:"qty"`
	Filled    float64         `json:"filled"`
	Resting   float64         `json:"resting"`
	Trades    []core.Trade    `json:"trades"`
	Position  account.Account `json:"position"`
}

// Venue is safe for concurrent use.
//
// mu guards the book and the account updates derived from it. A publication
// turn is taken before mu is released, so events leave in the same order the
// book changed, and mu is never held while waiting on a subscriber.
type Venue struct {
	symbol         string
	snapshotLevels int

	mu       sync.Mutex
	book     *orderbook.OrderBook
	accounts *account.Manager
	guard    *risk.Guard

	turns    *turnstile
	startSeq uint64
	seq      uint64 // owned by the current turn holder
	events   *eventstore.Store[Event]

	clock   util.Clock
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func New(cfg Config) (*Venue, error) {
	if strings.TrimSpace(cfg.Symbol) == "" {
		return nil, ErrEmptySymbol
	}
	book, err := orderbook.New(cfg.TickSize)
	if err != nil {
		return nil, fmt.Errorf("venue %s: %w", cfg.Symbol, err)
	}
	store, err := eventstore.New[Event](cfg.HistoryLen, cfg.QueueSize, eventstore.WithObserver(cfg.Metrics))
	if err != nil {
		return nil, fmt.Errorf("venue %s: %w", cfg.Symbol, err)
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Venue{
		symbol:         cfg.Symbol,
		snapshotLevels: cfg.SnapshotLevels,
		book:           book,
		accounts:       account.NewManager(),
		guard:          risk.NewGuard(cfg.Limits),
		turns:          newTurnstile(),
		startSeq:       cfg.StartSeq,
		seq:            cfg.StartSeq,
		events:         store,
		clock:          cfg.Clock,
		log:            cfg.Logger.With("symbol", cfg.Symbol),
		metrics:        cfg.Metrics,
	}, nil
}

func (v *Venue) Symbol() string     { return v.symbol }
func (v *Venue) TickSize() float64  { return v.book.TickSize() }
func (v *Venue) Guard() *risk.Guard { return v.guard }

// SubmitIntent resolves, clips and submits in one step. A clip to nothing is
// not an error: the result has Status "dropped" and nothing is published.
// Once the book has changed every event is published. If ctx ends first
// the returned Result is still valid alongside the error, and publication
// carries on without the caller.
func (v *Venue) SubmitIntent(ctx context.Context, in Intent) (Result, error) {
	if strings.TrimSpace(in.AgentID) == "" {
		return Result{}, ErrMissingAgent
	}
	if math.IsNaN(in.Qty) || math.IsInf(in.Qty, 0) {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidQty, in.Qty)
	}
	order, err := core.NewOrder(in.AgentID, in.Side, in.Qty, in.Limit, in.Type)
	if err != nil {
		return Result{}, err
	}
	order.Symbol = v.symbol
	res := Result{Type: order.Type, Requested: in.Qty}

	v.mu.Lock()
	view := v.viewLocked(in.AgentID, in.Limit)
	res.Qty = v.guard.Check(in.AgentID, in.Side, in.Qty, view)
	if !risk.Admissible(res.Qty) {
		res.Position = v.accountOrNew(in.AgentID)
		v.mu.Unlock()
		res.Status, res.Qty = StatusDropped, 0
		res.Trades = []core.Trade{}
		v.metrics.OrderDropped(v.symbol)
		v.log.Debugw("intent_dropped", "agent", in.AgentID, "side", in.Side, "requested", in.Qty, "position", view.Qty)
		return res, nil
	}

	order.Qty = res.Qty
	trades, err := v.book.Submit(order)
	if err != nil {
		v.mu.Unlock()
		return Result{}, err
	}
	if trades == nil {
		trades = []core.Trade{}
	}

	positions := make([]PositionUpdate, 0, 2*len(trades))
	for _, t := range trades {
		taker, maker := v.accounts.ApplyTrade(t)
		positions = append(positions, positionOf(taker, t.Price), positionOf(maker, t.Price))
		res.Filled += t.Qty
	}
	res.Position = v.accountOrNew(in.AgentID)
	if rest := res.Qty - res.Filled; order.Type == core.Limit && rest > core.Epsilon {
		res.Resting = rest
	}
	depth := v.book.Depth(v.snapshotLevels)
	resting := v.book.Len()
	ticket := v.turns.take()
	at := v.clock.Now().UTC()
	v.mu.Unlock()

	res.Status, res.Trades = StatusAccepted, trades
	v.metrics.OrderSubmitted(v.symbol, order.Type.String())
	v.metrics.RestingOrders(v.symbol, resting)

	pending := make([]pendingEvent, 0, 2+len(trades)+len(positions))
	pending = append(pending, pendingEvent{KindOrder, OrderAccepted{
		AgentID:   in.AgentID,
		Side:      in.Side,
		Type:      order.Type,
		Requested: in.Qty,
		Qty:       res.Qty,
		Limit:     order.PriceLimit,
	}})
	for i, t := range trades {
		v.metrics.TradeExecuted(v.symbol, t.Qty)
		pending = append(pending,
			pendingEvent{KindTrade, t},
			pendingEvent{KindPosition, positions[2*i]},
			pendingEvent{KindPosition, positions[2*i+1]})
	}
	pending = append(pending, pendingEvent{KindSnapshot, depth})

	if len(trades) > 0 {
		v.log.Infow("order_filled", "agent", in.AgentID, "side", in.Side, "type", order.Type,
			"qty", res.Qty, "filled", res.Filled, "trades", len(trades))
	}
	return res, v.publish(ctx, ticket, at, pending)
}

// viewLocked picks the reference price: last trade, else mid, else the
// intent's own limit, else 0 (notional caps then do not apply).
func (v *Venue) viewLocked(agentID string, limit *float64) risk.PositionView {
	var price float64
	if p, ok := v.book.LastPrice(); ok {
		price = p
	} else if p, ok := v.book.MidPrice(); ok {
		price = p
	} else if limit != nil {
		price = *limit
	}
	acc, ok := v.accounts.Get(agentID)
	if !ok {
		return risk.PositionView{Price: price}
	}
	return acc.View(price)
}

func (v *Venue) accountOrNew(agentID string) account.Account {
	if acc, ok := v.accounts.Get(agentID); ok {
		return acc
	}
	return *account.NewAccount(agentID)
}

func positionOf(a account.Account, price float64) PositionUpdate {
	return PositionUpdate{AgentID: a.AgentID, Qty: a.Qty, Cash: a.Cash, Equity: a.MarkToMarket(price)}
}

// Cancel removes the agent's resting quantity at price and publishes a cancel
// report plus a fresh snapshot when anything was removed.
func (v *Venue) Cancel(ctx context.Context, agentID string, side core.Side, price float64) (float64, error) {
	if strings.TrimSpace(agentID) == "" {
		return 0, ErrMissingAgent
	}
	if !side.Valid() {
		return 0, fmt.Errorf("%w: %d", core.ErrUnknownSide, side)
	}
	px, err := v.book.Normalize(price)
	if err != nil {
		return 0, err
	}

	v.mu.Lock()
	removed, err := v.book.Cancel(side, px, agentID)
	if err != nil {
		v.mu.Unlock()
		return 0, err
	}
	if removed <= core.Epsilon {
		v.mu.Unlock()
		return 0, nil
	}
	depth := v.book.Depth(v.snapshotLevels)
	resting := v.book.Len()
	ticket := v.turns.take()
	at := v.clock.Now().UTC()
	v.mu.Unlock()

	v.metrics.RestingOrders(v.symbol, resting)
	v.log.Infow("order_cancelled", "agent", agentID, "side", side, "price", px, "qty", removed)
	return removed, v.publish(ctx, ticket, at, []pendingEvent{
		{KindCancel, CancelReport{AgentID: agentID, Side: side, Price: px, Qty: removed}},
		{KindSnapshot, depth},
	})
}

// PublishTick forwards an external price observation to subscribers.
func (v *Venue) PublishTick(ctx context.Context, tick MarketTick) error {
	if !(tick.Price > 0) || math.IsInf(tick.Price, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTick, tick.Price)
	}
	return v.publish(ctx, v.turns.take(), v.clock.Now().UTC(), []pendingEvent{{KindTick, tick}})
}

type pendingEvent struct {
	kind Kind
	data any
}

// publish stamps evs and records them as one batch once every earlier ticket
// has been published. ctx bounds only how long the caller waits: the batch is
// always recorded in full, because the state it describes has already changed.
func (v *Venue) publish(ctx context.Context, ticket uint64, at time.Time, evs []pendingEvent) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		v.turns.wait(ticket)
		defer v.turns.advance()

		batch := make([]Event, len(evs))
		for i, pe := range evs {
			v.seq++
			batch[i] = Event{Seq: v.seq, Kind: pe.kind, Symbol: v.symbol, Time: at, Data: pe.data}
		}
		// Without a deadline AppendBatch only returns once every subscriber
		// has the batch or has detached.
		_ = v.events.AppendBatch(context.WithoutCancel(ctx), batch...)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		select {
		case <-done:
			return nil
		default:
		}
		v.log.Warnw("publish_detached", "kind", evs[0].kind, "events", len(evs), "err", ctx.Err())
		return fmt.Errorf("publish %s: %w", evs[0].kind, ctx.Err())
	}
}

func (v *Venue) Depth(levels int) orderbook.Depth {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.book.Depth(levels)
}

func (v *Venue) Top() orderbook.Top {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.book.TopOfBook()
}

func (v *Venue) LastPrice() (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.book.LastPrice()
}

// MidPrice falls back to the last trade when the book is one-sided.
func (v *Venue) MidPrice() (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p, ok := v.book.MidPrice(); ok {
		return p, true
	}
	return v.book.LastPrice()
}

func (v *Venue) Account(agentID string) (account.Account, bool) {
	return v.accounts.Get(agentID)
}

func (v *Venue) Accounts() []account.Account { return v.accounts.Snapshot() }

// Recent returns the newest n published events, oldest first.
func (v *Venue) Recent(n int) []Event { return v.events.Tail(n) }

// Subscribe delivers every event published after the call. Close the
// subscription when done or the venue will block on it.
func (v *Venue) Subscribe() *eventstore.Subscription[Event] { return v.events.Subscribe() }

func (v *Venue) Subscribers() int { return v.events.Subscribers() }

// LastSeq is the sequence of the newest event in history, or the configured
// start when nothing has been published yet.
func (v *Venue) LastSeq() uint64 {
	if last := v.events.Tail(1); len(last) == 1 {
		return last[0].Seq
	}
	return v.startSeq
}
