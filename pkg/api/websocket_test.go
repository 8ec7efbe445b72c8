package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/agentvenue/pkg/app/venue"
)

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) venue.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var e venue.Event
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestWebSocket_ReplayThenLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, p := range []float64{10, 11, 12} {
		require.NoError(t, f.venue.PublishTick(ctx, venue.MarketTick{Price: p}))
	}

	ts := httptest.NewServer(f.handler)
	defer ts.Close()
	conn := dial(t, ts, "/ws/SIM")

	for want := uint64(1); want <= 3; want++ {
		e := readEvent(t, conn)
		assert.Equal(t, want, e.Seq)
		assert.Equal(t, venue.KindTick, e.Kind)
	}

	require.Eventually(t, func() bool { return f.venue.Subscribers() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.venue.PublishTick(ctx, venue.MarketTick{Price: 13}))
	e := readEvent(t, conn)
	assert.Equal(t, uint64(4), e.Seq, "live events follow the replay without gaps or repeats")
}

func TestWebSocket_UnknownSymbol(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/NOPE"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestWebSocket_DisconnectReleasesSubscription(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	conn := dial(t, ts, "/ws/SIM")
	require.Eventually(t, func() bool { return f.venue.Subscribers() == 1 }, time.Second, time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return f.venue.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)

	// a departed client must not block publishing
	for i := 0; i < 500; i++ {
		require.NoError(t, f.venue.PublishTick(context.Background(), venue.MarketTick{Price: 1}))
	}
}

func TestWebSocket_Heartbeat(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()
	conn := dial(t, ts, "/ws/SIM")

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat ping")
	}
}
