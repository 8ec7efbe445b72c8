package params

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Venue struct {
	Symbols        []string
	TickSize       float64
	SnapshotLevels int // depth levels carried by snapshot events
}

type Store struct {
	MaxLen    int // history kept per symbol
	QueueSize int // per-subscriber queue bound
}

// Risk holds the default per-agent limits. +Inf disables a stage.
type Risk struct {
	MaxPosition      float64
	MaxOrderNotional float64
	MaxNotional      float64
}

type API struct {
	Addr       string
	Origins    []string
	Heartbeat  time.Duration
	ReplayTail int // events replayed to a new stream before live delivery

	// write routes; an empty key disables the check, IngestRateMax 0 the limit
	IngestKey        string
	IngestRateMax    int
	IngestRateWindow time.Duration
}

type Feeder struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
	NumAgents int
	BasePrice float64
	Spread    float64
	MaxQty    float64
	Seed      int64 // 0 picks a time-based seed
}

type Log struct {
	File  string
	Level string
}

type Config struct {
	Venue       Venue
	Store       Store
	Risk        Risk
	API         API
	Feeder      Feeder
	Log         Log
	JournalPath string // empty disables the journal
}

func Default() Config {
	inf := math.Inf(1)
	return Config{
		Venue: Venue{
			Symbols:        []string{"SIM"},
			TickSize:       0.01,
			SnapshotLevels: 5,
		},
		Store: Store{MaxLen: 1000, QueueSize: 100},
		Risk:  Risk{MaxPosition: inf, MaxOrderNotional: inf, MaxNotional: inf},
		API: API{
			Addr:       ":8080",
			Origins:    []string{"*"},
			Heartbeat:  15 * time.Second,
			ReplayTail: 50,

			IngestRateMax:    120,
			IngestRateWindow: time.Minute,
		},
		Feeder: Feeder{
			Interval:  250 * time.Millisecond,
			BatchSize: 5,
			NumAgents: 20,
			BasePrice: 100,
			Spread:    0.01,
			MaxQty:    10,
		},
		Log: Log{Level: "info"},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// optional; a missing file is not an error
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = splitList(v)
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	millis := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = time.Duration(ms) * time.Millisecond
		}
	}

	list("VENUE_SYMBOLS", &cfg.Venue.Symbols)
	float("BOOK_TICK_SIZE", &cfg.Venue.TickSize)
	integer("BOOK_SNAPSHOT_LEVELS", &cfg.Venue.SnapshotLevels)

	integer("STORE_MAXLEN", &cfg.Store.MaxLen)
	integer("STORE_QUEUE_SIZE", &cfg.Store.QueueSize)

	float("RISK_MAX_POSITION", &cfg.Risk.MaxPosition)
	float("RISK_MAX_ORDER_NOTIONAL", &cfg.Risk.MaxOrderNotional)
	float("RISK_MAX_NOTIONAL", &cfg.Risk.MaxNotional)

	str("API_ADDR", &cfg.API.Addr)
	list("API_ORIGINS", &cfg.API.Origins)
	millis("WS_HEARTBEAT_MS", &cfg.API.Heartbeat)
	integer("WS_REPLAY", &cfg.API.ReplayTail)
	str("API_INGEST_KEY", &cfg.API.IngestKey)
	integer("API_INGEST_RATE_MAX", &cfg.API.IngestRateMax)
	millis("API_INGEST_RATE_WINDOW_MS", &cfg.API.IngestRateWindow)

	if v := os.Getenv("ENABLE_FEEDER"); v != "" {
		cfg.Feeder.Enabled = v == "true"
	}
	millis("FEEDER_INTERVAL_MS", &cfg.Feeder.Interval)
	integer("FEEDER_BATCH_SIZE", &cfg.Feeder.BatchSize)
	integer("FEEDER_AGENTS", &cfg.Feeder.NumAgents)
	float("FEEDER_BASE_PRICE", &cfg.Feeder.BasePrice)
	float("FEEDER_SPREAD", &cfg.Feeder.Spread)
	float("FEEDER_MAX_QTY", &cfg.Feeder.MaxQty)
	if v := os.Getenv("FEEDER_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEEDER_SEED: %w", err))
		} else {
			cfg.Feeder.Seed = seed
		}
	}

	str("JOURNAL_PATH", &cfg.JournalPath)
	str("LOG_FILE", &cfg.Log.File)
	str("LOG_LEVEL", &cfg.Log.Level)

	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints after loading.
func (c Config) Validate() error {
	var errs []error
	if len(c.Venue.Symbols) == 0 {
		errs = append(errs, errors.New("at least one symbol is required"))
	}
	seen := make(map[string]bool, len(c.Venue.Symbols))
	for _, s := range c.Venue.Symbols {
		if strings.ContainsAny(s, ": \t") {
			errs = append(errs, fmt.Errorf("symbol %q must not contain ':' or whitespace", s))
		}
		if seen[s] {
			errs = append(errs, fmt.Errorf("duplicate symbol %q", s))
		}
		seen[s] = true
	}
	if !(c.Venue.TickSize > 0) || math.IsInf(c.Venue.TickSize, 0) {
		errs = append(errs, fmt.Errorf("tick size must be positive, got %v", c.Venue.TickSize))
	}
	if c.Store.MaxLen <= 0 || c.Store.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("store capacities must be positive, got maxlen=%d queue=%d",
			c.Store.MaxLen, c.Store.QueueSize))
	}
	for name, v := range map[string]float64{
		"max_position":       c.Risk.MaxPosition,
		"max_order_notional": c.Risk.MaxOrderNotional,
		"max_notional":       c.Risk.MaxNotional,
	} {
		if math.IsNaN(v) {
			errs = append(errs, fmt.Errorf("risk %s is NaN", name))
		}
	}
	if c.API.Heartbeat <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat must be positive, got %v", c.API.Heartbeat))
	}
	if c.API.IngestRateMax < 0 || c.API.IngestRateWindow <= 0 {
		errs = append(errs, fmt.Errorf("ingest rate must be non-negative per positive window, got %d per %v",
			c.API.IngestRateMax, c.API.IngestRateWindow))
	}
	if c.Feeder.Enabled {
		if c.Feeder.Interval <= 0 || c.Feeder.BatchSize <= 0 || c.Feeder.NumAgents <= 0 {
			errs = append(errs, errors.New("feeder interval, batch size and agents must be positive"))
		}
		if !(c.Feeder.BasePrice > 0) {
			errs = append(errs, fmt.Errorf("feeder base price must be positive, got %v", c.Feeder.BasePrice))
		}
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
