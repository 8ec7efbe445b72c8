package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/agentvenue/pkg/app/venue"
	"github.com/uhyunpark/agentvenue/pkg/metrics"
	"github.com/uhyunpark/agentvenue/pkg/storage"
)

const (
	defaultDepth  = 10
	defaultRecent = 50
	maxBodyBytes  = 1 << 20
)

// JournalReader is the read side of the event journal.
type JournalReader interface {
	Range(symbol string, fromSeq uint64, limit int) ([]storage.Record, error)
}

type Options struct {
	Origins    []string
	Heartbeat  time.Duration
	ReplayTail int

	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
	Journal JournalReader // optional
	Ingest  IngestOptions
}

// Server handles REST API and WebSocket connections
type Server struct {
	registry *venue.Registry
	router   *mux.Router
	opts     Options
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
	ingest   *ingestGuard
}

func NewServer(reg *venue.Registry, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.ReplayTail < 0 {
		opts.ReplayTail = 0
	}
	if len(opts.Origins) == 0 {
		opts.Origins = []string{"*"}
	}
	s := &Server{
		registry: reg,
		router:   mux.NewRouter(),
		opts:     opts,
		log:      opts.Logger.With("component", "api"),
	}
	s.upgrader = newUpgrader(opts.Origins)
	s.ingest = newIngestGuard(opts.Ingest)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/top", s.handleGetTop).Methods("GET")
	api.HandleFunc("/markets/{symbol}/events/recent", s.handleGetRecent).Methods("GET")
	api.HandleFunc("/markets/{symbol}/journal", s.handleGetJournal).Methods("GET")
	api.HandleFunc("/markets/{symbol}/accounts", s.handleGetAccounts).Methods("GET")
	api.HandleFunc("/markets/{symbol}/accounts/{agent}", s.handleGetAccount).Methods("GET")

	write := func(h http.HandlerFunc) http.Handler { return s.ingest.middleware(h) }
	api.Handle("/markets/{symbol}/orders", write(s.handleSubmitOrder)).Methods("POST")
	api.Handle("/markets/{symbol}/orders/cancel", write(s.handleCancelOrder)).Methods("POST")
	api.Handle("/markets/{symbol}/ticks", write(s.handleIngestTicks)).Methods("POST")

	s.router.HandleFunc("/ws/{symbol}", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics.Handler()).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.Origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", apiKeyHeader},
	})
	return c.Handler(s.router)
}

// Run serves on addr until ctx ends, then shuts down gracefully. Request
// contexts derive from ctx so open streams end with it.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnw("api_shutdown_failed", "err", err)
		}
	}()

	s.log.Infow("api_server_listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) venueFor(w http.ResponseWriter, r *http.Request) (*venue.Venue, bool) {
	v, err := s.registry.Get(mux.Vars(r)["symbol"])
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return nil, false
	}
	return v, true
}

func marketInfo(v *venue.Venue) MarketInfo {
	info := MarketInfo{Symbol: v.Symbol(), TickSize: v.TickSize(), LastSeq: v.LastSeq()}
	if p, ok := v.LastPrice(); ok {
		info.LastPrice = &p
	}
	if p, ok := v.MidPrice(); ok {
		info.MidPrice = &p
	}
	return info
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	venues := s.registry.List()
	response := make([]MarketInfo, len(venues))
	for i, v := range venues {
		response[i] = marketInfo(v)
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	v, ok := s.venueFor(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, marketInfo(v))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	v, ok := s.venueFor(w, r)
	if !ok {
		return
	}
	levels, err := intParam(r, "levels", defaultDepth)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid levels", err.Error())
		return
	}
	depth := v.Depth(levels)
	respondJSON(w, http.StatusOK, OrderbookSnapshot{
		Symbol:    v.Symbol(),
		Bids:      depth.Bids,
		Asks:      depth.Asks,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTop(w http.ResponseWriter, r *http.Request) {
	v, ok := s.venueFor(w, r)
	if !ok {
		return
	}
	top := v.Top()
	respondJSON(w, http.StatusOK, TopOfBook{Symbol: v.Symbol(), Bid: top.Bid, Ask: top.Ask})
}

func (s *Server) handleGetRecent(w http.ResponseWriter, r *http.Request) {
	v, ok := s.venueFor(w, r)
	if !ok {
		return
	}
	n, err := intParam(r, "n", defaultRecent)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid n", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, v.Recent(max(n, 1)))
}

func (s *Server) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	v, ok := s.venueFor(w, r)
	if !ok {
		return
	}
	if s.opts.Journal == nil {
		respondError(w, http.StatusNotFound, "journal disabled", "")
		return
	}
	from, err := intParam(r, "from", 0)
	if err != nil || from < 0 {
		respondError(w, http.StatusBadRequest, "invalid from", "")
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	recs, err := s.opts.Journal.Range(v.Symbol(), uint64(from), min(limit, 1000))
	if err != nil {
		s.log.Errorw("journal_read_failed", "symbol", v.Symbol(), "err", err)
		respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetAccounts(w http.ResponseWriter, r *http.Request) {
	v, ok := s.venueFor(w, r)
	if !ok {
		return
	}
	mark, _ := v.MidPrice()
	accounts := v.Accounts()
	response := make([]AccountInfo, len(accounts))
	for i, acc := range accounts {
		response[i] = AccountInfo{Account: acc, Symbol: v.Symbol(), Mark: mark, Equity: acc.MarkToMarket(mark)}
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	v, ok := s.venueFor(w, r)
	if !ok {
		return
	}
	agent := mux.Vars(r)["agent"]
	acc, found := v.Account(agent)
	if !found {
		respondError(w, http.StatusNotFound, "account not found", agent)
		return
	}
	mark, _ := v.MidPrice()
	respondJSON(w, http.StatusOK, AccountInfo{Account: acc, Symbol: v.Symbol(), Mark: mark, Equity: acc.MarkToMarket(mark)})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	v, ok := s.venueFor(w, r)
	if !ok {
		return
	}
	var in venue.Intent
	if err := decodeBody(w, r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	res, err := v.SubmitIntent(r.Context(), in)
	if err != nil && res.Status == "" {
		respondError(w, http.StatusBadRequest, "order rejected", err.Error())
		return
	}
	if err != nil {
		// the book already changed; publication carries on without this request
		s.log.Warnw("order_publish_interrupted", "symbol", v.Symbol(), "agent", in.AgentID, "err", err)
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	v, ok := s.venueFor(w, r)
	if !ok {
		return
	}
	var req CancelOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	removed, err := v.Cancel(r.Context(), req.AgentID, req.Side, req.Price)
	if err != nil && removed == 0 {
		respondError(w, http.StatusBadRequest, "cancel rejected", err.Error())
		return
	}
	status := "cancelled"
	if removed == 0 {
		status = "not_found"
	}
	respondJSON(w, http.StatusOK, CancelOrderResponse{Status: status, Removed: removed})
}

// handleIngestTicks accepts one tick object or a list of them.
func (s *Server) handleIngestTicks(w http.ResponseWriter, r *http.Request) {
	v, ok := s.venueFor(w, r)
	if !ok {
		return
	}
	var raw json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}
	var ticks []venue.MarketTick
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := strictUnmarshal(trimmed, &ticks); err != nil {
			respondError(w, http.StatusBadRequest, "payload must be a tick or a list of ticks", err.Error())
			return
		}
	} else {
		var t venue.MarketTick
		if err := strictUnmarshal(trimmed, &t); err != nil {
			respondError(w, http.StatusBadRequest, "payload must be a tick or a list of ticks", err.Error())
			return
		}
		ticks = append(ticks, t)
	}

	for _, t := range ticks {
		if !(t.Price > 0) || math.IsInf(t.Price, 0) {
			respondError(w, http.StatusBadRequest, "invalid tick", "price must be positive")
			return
		}
	}

	accepted := 0
	for _, t := range ticks {
		if err := v.PublishTick(r.Context(), t); err != nil {
			// the tick is still published, the rest of the list is not
			s.log.Warnw("tick_publish_interrupted", "symbol", v.Symbol(), "err", err)
			accepted++
			break
		}
		accepted++
	}
	respondJSON(w, http.StatusAccepted, IngestResponse{Status: "ok", Accepted: accepted, LastSeq: v.LastSeq()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func strictUnmarshal(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func intParam(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{Error: error, Message: message})
}
