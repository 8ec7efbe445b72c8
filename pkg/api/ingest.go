package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const apiKeyHeader = "X-API-Key"

// IngestOptions protects the write routes. An empty APIKey disables the key
// check; RateMax <= 0 disables rate limiting.
type IngestOptions struct {
	APIKey     string
	RateMax    int           // requests allowed per client per window
	RateWindow time.Duration // defaults to one minute
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ingestGuard checks the api key and keeps one token bucket per client.
type ingestGuard struct {
	key   []byte
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

func newIngestGuard(opts IngestOptions) *ingestGuard {
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	g := &ingestGuard{
		key:     []byte(opts.APIKey),
		burst:   opts.RateMax,
		ttl:     2 * opts.RateWindow,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
	if opts.RateMax > 0 {
		g.limit = rate.Every(opts.RateWindow / time.Duration(opts.RateMax))
	}
	return g
}

func (g *ingestGuard) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket := clientHost(r)
		if len(g.key) > 0 {
			got := r.Header.Get(apiKeyHeader)
			if got == "" {
				respondError(w, http.StatusUnauthorized, "unauthorized", "missing api key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), g.key) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}
			bucket = got + ":" + bucket
		}
		if !g.allow(bucket) {
			respondError(w, http.StatusTooManyRequests, "rate limited", "ingest rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *ingestGuard) allow(bucket string) bool {
	if g.burst <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) > g.ttl {
		for id, c := range g.clients {
			if now.Sub(c.lastSeen) > g.ttl {
				delete(g.clients, id)
			}
		}
		g.lastSweep = now
	}

	c, ok := g.clients[bucket]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(g.limit, g.burst)}
		g.clients[bucket] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
