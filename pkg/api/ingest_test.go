package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) post(t *testing.T, path, body, key, remote string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if key != "" {
		r.Header.Set(apiKeyHeader, key)
	}
	if remote != "" {
		r.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, r)
	return rec
}

const tickBody = `{"price":100}`

func TestIngest_APIKey(t *testing.T) {
	f := newFixtureWith(t, func(o *Options) { o.Ingest = IngestOptions{APIKey: "s3cret"} })
	paths := []string{
		"/api/v1/markets/SIM/ticks",
		"/api/v1/markets/SIM/orders",
		"/api/v1/markets/SIM/orders/cancel",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := f.post(t, path, tickBody, "", "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, decode[ErrorResponse](t, rec).Message, "missing")

			rec = f.post(t, path, tickBody, "s3cre", "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, decode[ErrorResponse](t, rec).Message, "invalid")
		})
	}

	rec := f.post(t, paths[0], tickBody, "s3cret", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// reads stay open
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/markets", "").Code)
	assert.Equal(t, uint64(1), f.venue.LastSeq(), "rejected writes publish nothing")
}

func TestIngest_RateLimitPerClient(t *testing.T) {
	f := newFixtureWith(t, func(o *Options) { o.Ingest = IngestOptions{RateMax: 2, RateWindow: time.Hour} })
	const path = "/api/v1/markets/SIM/ticks"

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusAccepted, f.post(t, path, tickBody, "", "10.0.0.1:5000").Code)
	}
	rec := f.post(t, path, tickBody, "", "10.0.0.1:6000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "the port does not make a new client")

	assert.Equal(t, http.StatusAccepted, f.post(t, path, tickBody, "", "10.0.0.2:5000").Code)
	assert.Equal(t, uint64(3), f.venue.LastSeq())
}

func TestIngestGuard_RefillsAndForgetsIdleClients(t *testing.T) {
	g := newIngestGuard(IngestOptions{RateMax: 1, RateWindow: time.Minute})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	assert.True(t, g.allow("a"))
	assert.False(t, g.allow("a"))
	now = now.Add(time.Minute)
	assert.True(t, g.allow("a"), "a full window refills one token")

	now = now.Add(3 * time.Minute)
	assert.True(t, g.allow("b"))
	assert.Len(t, g.clients, 1, "idle client was swept")

	unlimited := newIngestGuard(IngestOptions{})
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.allow("a"))
	}
}
