package venue

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/agentvenue/pkg/app/core"
	"github.com/uhyunpark/agentvenue/pkg/app/core/account"
	"github.com/uhyunpark/agentvenue/pkg/app/core/risk"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time                         { return c.now }
func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func newVenue(t *testing.T, mutate func(*Config)) *Venue {
	t.Helper()
	cfg := DefaultConfig("SIM")
	cfg.Clock = fixedClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	if mutate != nil {
		mutate(&cfg)
	}
	v, err := New(cfg)
	require.NoError(t, err)
	return v
}

func px(p float64) *float64 { return &p }

func kinds(evs []Event) []Kind {
	out := make([]Kind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(""))
	assert.ErrorIs(t, err, ErrEmptySymbol)

	cfg := DefaultConfig("SIM")
	cfg.TickSize = 0
	_, err = New(cfg)
	assert.ErrorIs(t, err, core.ErrInvalidTickSize)

	cfg = DefaultConfig("SIM")
	cfg.QueueSize = 0
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestSubmitIntent_CrossPublishesInOrder(t *testing.T) {
	v := newVenue(t, nil)
	ctx := context.Background()

	res, err := v.SubmitIntent(ctx, Intent{AgentID: "maker", Side: core.Sell, Qty: 5, Limit: px(100)})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, core.Limit, res.Type)
	assert.Equal(t, 5.0, res.Resting)
	assert.Empty(t, res.Trades)

	res, err = v.SubmitIntent(ctx, Intent{AgentID: "taker", Side: core.Buy, Qty: 3, Limit: px(101)})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, core.Trade{Price: 100, Qty: 3, TakerID: "taker", MakerID: "maker", TakerSide: core.Buy, Symbol: "SIM"}, res.Trades[0])
	assert.Equal(t, 3.0, res.Filled)
	assert.Zero(t, res.Resting)
	assert.Equal(t, 3.0, res.Position.Qty)
	assert.InDelta(t, account.DefaultCash-300, res.Position.Cash, 1e-9)

	evs := v.Recent(10)
	assert.Equal(t, []Kind{
		KindOrder, KindSnapshot,
		KindOrder, KindTrade, KindPosition, KindPosition, KindSnapshot,
	}, kinds(evs))
	for i, e := range evs {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.Equal(t, "SIM", e.Symbol)
		assert.False(t, e.Time.IsZero())
	}
	maker := evs[5].Data.(PositionUpdate)
	assert.Equal(t, "maker", maker.AgentID)
	assert.Equal(t, -3.0, maker.Qty)

	top := v.Top()
	require.NotNil(t, top.Ask)
	assert.Nil(t, top.Bid)
	assert.Equal(t, 2.0, top.Ask.Qty)
	last, ok := v.LastPrice()
	assert.True(t, ok)
	assert.Equal(t, 100.0, last)
	assert.Equal(t, uint64(7), v.LastSeq())
}

func TestSubmitIntent_DroppedPublishesNothing(t *testing.T) {
	v := newVenue(t, func(c *Config) {
		c.Limits = risk.Limits{MaxPosition: 5, MaxOrderNotional: math.Inf(1), MaxNotional: math.Inf(1)}
	})
	ctx := context.Background()

	_, err := v.SubmitIntent(ctx, Intent{AgentID: "mm", Side: core.Sell, Qty: 10, Limit: px(100)})
	require.NoError(t, err)
	res, err := v.SubmitIntent(ctx, Intent{AgentID: "long", Side: core.Buy, Qty: 8, Type: "MKT"})
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Qty, "clipped to the position cap")
	assert.Equal(t, 5.0, res.Filled)
	before := v.LastSeq()

	res, err = v.SubmitIntent(ctx, Intent{AgentID: "long", Side: core.Buy, Qty: 1, Type: "MKT"})
	require.NoError(t, err)
	assert.Equal(t, StatusDropped, res.Status)
	assert.Zero(t, res.Qty)
	assert.Equal(t, 1.0, res.Requested)
	assert.NotNil(t, res.Trades)
	assert.Equal(t, 5.0, res.Position.Qty)
	assert.Equal(t, before, v.LastSeq())

	// selling reduces exposure and is still allowed
	res, err = v.SubmitIntent(ctx, Intent{AgentID: "long", Side: core.Sell, Qty: 2, Limit: px(105)})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, res.Status)
}

func TestSubmitIntent_ReferencePrice(t *testing.T) {
	notional := func(c *Config) {
		c.Limits = risk.Limits{MaxPosition: math.Inf(1), MaxOrderNotional: 1000, MaxNotional: math.Inf(1)}
	}
	ctx := context.Background()

	t.Run("intent limit when book is empty", func(t *testing.T) {
		v := newVenue(t, notional)
		res, err := v.SubmitIntent(ctx, Intent{AgentID: "a", Side: core.Buy, Qty: 50, Limit: px(100)})
		require.NoError(t, err)
		assert.InDelta(t, 10, res.Qty, 1e-9)
	})

	t.Run("mid before any trade", func(t *testing.T) {
		v := newVenue(t, notional)
		_, err := v.SubmitIntent(ctx, Intent{AgentID: "a", Side: core.Buy, Qty: 1, Limit: px(40)})
		require.NoError(t, err)
		_, err = v.SubmitIntent(ctx, Intent{AgentID: "b", Side: core.Sell, Qty: 1, Limit: px(60)})
		require.NoError(t, err)
		res, err := v.SubmitIntent(ctx, Intent{AgentID: "c", Side: core.Buy, Qty: 500, Limit: px(10)})
		require.NoError(t, err)
		assert.InDelta(t, 20, res.Qty, 1e-9) // 1000 / mid 50
	})

	t.Run("last trade wins", func(t *testing.T) {
		v := newVenue(t, notional)
		_, err := v.SubmitIntent(ctx, Intent{AgentID: "a", Side: core.Sell, Qty: 2, Limit: px(25)})
		require.NoError(t, err)
		_, err = v.SubmitIntent(ctx, Intent{AgentID: "b", Side: core.Buy, Qty: 1, Type: "MKT"})
		require.NoError(t, err)
		res, err := v.SubmitIntent(ctx, Intent{AgentID: "c", Side: core.Buy, Qty: 500, Limit: px(10)})
		require.NoError(t, err)
		assert.InDelta(t, 40, res.Qty, 1e-9) // 1000 / last 25
	})

	t.Run("market order without reference skips notional caps", func(t *testing.T) {
		v := newVenue(t, notional)
		res, err := v.SubmitIntent(ctx, Intent{AgentID: "a", Side: core.Buy, Qty: 500})
		require.NoError(t, err)
		assert.Equal(t, core.Market, res.Type)
		assert.Equal(t, 500.0, res.Qty)
		assert.Zero(t, res.Filled)
	})
}

func TestSubmitIntent_Malformed(t *testing.T) {
	v := newVenue(t, nil)
	ctx := context.Background()
	tests := []struct {
		name string
		in   Intent
		want error
	}{
		{"missing agent", Intent{Side: core.Buy, Qty: 1, Limit: px(1)}, ErrMissingAgent},
		{"nan qty", Intent{AgentID: "a", Side: core.Buy, Qty: math.NaN(), Limit: px(1)}, ErrInvalidQty},
		{"unknown side", Intent{AgentID: "a", Qty: 1, Limit: px(1)}, core.ErrUnknownSide},
		{"limit without price", Intent{AgentID: "a", Side: core.Buy, Qty: 1, Type: "LMT"}, core.ErrMissingLimitPrice},
		{"unknown type", Intent{AgentID: "a", Side: core.Buy, Qty: 1, Type: "STOP"}, core.ErrUnknownOrderType},
		{"nan price", Intent{AgentID: "a", Side: core.Buy, Qty: 1, Limit: px(math.NaN())}, core.ErrInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.SubmitIntent(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, v.LastSeq())
}

func TestSubmitIntent_IOCWithoutPriceIsMarket(t *testing.T) {
	v := newVenue(t, nil)
	ctx := context.Background()
	_, err := v.SubmitIntent(ctx, Intent{AgentID: "m", Side: core.Sell, Qty: 1, Limit: px(10)})
	require.NoError(t, err)
	res, err := v.SubmitIntent(ctx, Intent{AgentID: "t", Side: core.Buy, Qty: 3, Type: "IOC"})
	require.NoError(t, err)
	assert.Equal(t, core.Market, res.Type)
	assert.Equal(t, 1.0, res.Filled)
	assert.Zero(t, res.Resting)
	assert.Empty(t, v.Depth(5).Bids, "market residual never rests")
}

func TestCancel(t *testing.T) {
	v := newVenue(t, func(c *Config) { c.TickSize = 0.5 })
	ctx := context.Background()
	_, err := v.SubmitIntent(ctx, Intent{AgentID: "a", Side: core.Buy, Qty: 4, Limit: px(99.9)})
	require.NoError(t, err)
	before := v.LastSeq()

	removed, err := v.Cancel(ctx, "b", core.Buy, 100)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, before, v.LastSeq(), "a miss publishes nothing")

	removed, err = v.Cancel(ctx, "a", core.Buy, 100.1) // normalizes to the same tick
	require.NoError(t, err)
	assert.Equal(t, 4.0, removed)
	evs := v.Recent(2)
	assert.Equal(t, []Kind{KindCancel, KindSnapshot}, kinds(evs))
	assert.Equal(t, CancelReport{AgentID: "a", Side: core.Buy, Price: 100, Qty: 4}, evs[0].Data)
	assert.Empty(t, v.Depth(5).Bids)

	_, err = v.Cancel(ctx, "", core.Buy, 100)
	assert.ErrorIs(t, err, ErrMissingAgent)
	_, err = v.Cancel(ctx, "a", 0, 100)
	assert.ErrorIs(t, err, core.ErrUnknownSide)
}

func TestPublishTick(t *testing.T) {
	v := newVenue(t, nil)
	ctx := context.Background()
	require.NoError(t, v.PublishTick(ctx, MarketTick{Price: 101.5, Volume: 3}))
	evs := v.Recent(1)
	require.Len(t, evs, 1)
	assert.Equal(t, KindTick, evs[0].Kind)
	assert.Equal(t, MarketTick{Price: 101.5, Volume: 3}, evs[0].Data)

	for _, p := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		assert.ErrorIs(t, v.PublishTick(ctx, MarketTick{Price: p}), ErrInvalidTick)
	}
}

func TestVenue_StartSeq(t *testing.T) {
	v := newVenue(t, func(c *Config) { c.StartSeq = 41 })
	require.NoError(t, v.PublishTick(context.Background(), MarketTick{Price: 1}))
	assert.Equal(t, uint64(42), v.Recent(1)[0].Seq)
}

func TestVenue_ConcurrentSubmitKeepsSequenceOrder(t *testing.T) {
	// queue large enough that producers never wait on the test
	v := newVenue(t, func(c *Config) { c.HistoryLen, c.QueueSize = 2000, 2000 })
	sub := v.Subscribe()
	defer sub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			side := core.Buy
			if w%2 == 1 {
				side = core.Sell
			}
			for i := 0; i < 25; i++ {
				_, err := v.SubmitIntent(ctx, Intent{AgentID: "w", Side: side, Qty: 1, Limit: px(100)})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	last := v.LastSeq()
	require.Positive(t, last)
	for i, e := range v.Recent(int(last)) {
		require.Equal(t, uint64(i+1), e.Seq)
	}
	for want := uint64(1); want <= last; want++ {
		e, err := sub.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, e.Seq)
	}
}

func TestSubmitIntent_CallerTimeoutStillPublishesWholeBatch(t *testing.T) {
	v := newVenue(t, func(c *Config) { c.QueueSize = 1 })
	_, err := v.SubmitIntent(context.Background(), Intent{AgentID: "maker", Side: core.Sell, Qty: 1, Limit: px(100)})
	require.NoError(t, err)
	stalled := v.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := v.SubmitIntent(ctx, Intent{AgentID: "taker", Side: core.Buy, Qty: 1, Type: "MKT"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusAccepted, res.Status)
	assert.Equal(t, 1.0, res.Filled)

	want := []Kind{KindOrder, KindSnapshot, KindOrder, KindTrade, KindPosition, KindPosition, KindSnapshot}
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, kinds(v.Recent(10))) },
		time.Second, time.Millisecond, "history holds the full batch while delivery waits")

	for i := range want[2:] {
		e, err := stalled.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want[2+i], e.Kind)
	}
	stalled.Close()
	assert.Equal(t, uint64(7), v.LastSeq())
}

func TestVenue_ReadersDoNotWaitOnSubscribers(t *testing.T) {
	v := newVenue(t, func(c *Config) { c.QueueSize = 1 })
	stalled := v.Subscribe()
	defer stalled.Close()

	var wg sync.WaitGroup
	for i, p := range []float64{99, 98} {
		wg.Add(1)
		go func(agent string, p float64) {
			defer wg.Done()
			_, err := v.SubmitIntent(context.Background(), Intent{AgentID: agent, Side: core.Buy, Qty: 1, Limit: px(p)})
			assert.NoError(t, err)
		}(string(rune('a'+i)), p)
	}

	require.Eventually(t, func() bool { return len(v.Depth(5).Bids) == 2 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		v.Top()
		v.LastPrice()
		v.MidPrice()
		v.LastSeq()
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("book readers blocked behind a full subscriber queue")
	}

	// Draining releases both submitters, in book order.
	var seqs []uint64
	for len(seqs) < 4 {
		e, err := stalled.Next(context.Background())
		require.NoError(t, err)
		seqs = append(seqs, e.Seq)
	}
	wg.Wait()
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs)
	assert.Equal(t, uint64(4), v.LastSeq())
}

func TestTurnstile_AdmitsInTicketOrder(t *testing.T) {
	ts := newTurnstile()
	tickets := []uint64{ts.take(), ts.take(), ts.take()}
	var mu sync.Mutex
	var order []uint64
	var wg sync.WaitGroup
	for i := len(tickets) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(n uint64) {
			defer wg.Done()
			ts.wait(n)
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			ts.advance()
		}(tickets[i])
	}
	wg.Wait()
	assert.Equal(t, []uint64{0, 1, 2}, order)
}
