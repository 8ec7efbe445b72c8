package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.EventAppended()
	m.EventAppended()
	m.AppendBlocked()
	m.SubscriberAdded()
	m.SubscriberAdded()
	m.SubscriberRemoved()
	m.OrderSubmitted("SIM", "LMT")
	m.OrderDropped("SIM")
	m.TradeExecuted("SIM", 2.5)
	m.TradeExecuted("SIM", 1)
	m.RestingOrders("SIM", 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsAppended))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.appendBlocked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscribers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersSubmitted.WithLabelValues("SIM", "LMT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersDropped.WithLabelValues("SIM")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.trades.WithLabelValues("SIM")))
	assert.Equal(t, 3.5, testutil.ToFloat64(m.tradeVolume.WithLabelValues("SIM")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.restingOrders.WithLabelValues("SIM")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventAppended()
		m.AppendBlocked()
		m.SubscriberAdded()
		m.SubscriberRemoved()
		m.OrderSubmitted("SIM", "MKT")
		m.OrderDropped("SIM")
		m.TradeExecuted("SIM", 1)
		m.RestingOrders("SIM", 0)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.TradeExecuted("SIM", 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `agentvenue_trades_total{symbol="SIM"} 1`), body)
	assert.True(t, strings.Contains(body, `agentvenue_trade_volume_total{symbol="SIM"} 3`), body)
}
