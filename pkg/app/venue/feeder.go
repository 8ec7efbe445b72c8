package venue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/agentvenue/pkg/util"
)

// FeederConfig controls synthetic order flow.
type FeederConfig struct {
	Interval   time.Duration // how often a batch is generated
	BatchSize  int           // intents per batch
	NumAgents  int           // simulated traders
	BasePrice  float64
	Spread     float64 // relative, e.g. 0.01 for ±1%
	MaxQty     float64
	Seed       int64
	StatsEvery time.Duration
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		Interval:   250 * time.Millisecond,
		BatchSize:  5,
		NumAgents:  20,
		BasePrice:  100,
		Spread:     0.01,
		MaxQty:     10,
		Seed:       time.Now().UnixNano(),
		StatsEvery: 10 * time.Second,
	}
}

// FeederStats summarises what a feeder has done so far.
type FeederStats struct {
	Batches   int
	Submitted int
	Dropped   int
	Trades    int
	Rejected  int
}

// Feeder drives one venue with random intents and a tick per batch.
type Feeder struct {
	v     *Venue
	cfg   FeederConfig
	gen   *IntentGenerator
	clock util.Clock
	log   *zap.SugaredLogger
	stats FeederStats
}

func NewFeeder(v *Venue, cfg FeederConfig, clock util.Clock, log *zap.SugaredLogger) *Feeder {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFeederConfig().Interval
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Feeder{
		v:     v,
		cfg:   cfg,
		gen:   NewIntentGenerator(cfg.NumAgents, cfg.BasePrice, cfg.Spread, cfg.MaxQty, cfg.Seed),
		clock: clock,
		log:   log.With("component", "feeder", "symbol", v.Symbol()),
	}
}

// Run blocks until ctx ends. It returns nil on cancellation.
func (f *Feeder) Run(ctx context.Context) error {
	start := f.clock.Now()
	lastStats := start
	f.log.Infow("feeder_started", "interval", f.cfg.Interval, "batch", f.cfg.BatchSize, "agents", f.cfg.NumAgents)

	for {
		select {
		case <-ctx.Done():
			f.log.Infow("feeder_stopped", "elapsed", f.clock.Now().Sub(start).Round(time.Second),
				"submitted", f.stats.Submitted, "dropped", f.stats.Dropped, "trades", f.stats.Trades)
			return nil
		case <-f.clock.After(f.cfg.Interval):
			if err := f.Step(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				return err
			}
			if now := f.clock.Now(); f.cfg.StatsEvery > 0 && now.Sub(lastStats) >= f.cfg.StatsEvery {
				lastStats = now
				elapsed := now.Sub(start).Seconds()
				f.log.Infow("feeder_stats", "submitted", f.stats.Submitted, "dropped", f.stats.Dropped,
					"trades", f.stats.Trades, "rate", float64(f.stats.Submitted)/elapsed)
			}
		}
	}
}

// Step publishes one tick and submits one batch. Intents the venue rejects
// as malformed are counted and skipped.
func (f *Feeder) Step(ctx context.Context) error {
	if err := f.v.PublishTick(ctx, MarketTick{Price: f.gen.Step()}); err != nil {
		return err
	}
	for _, in := range f.gen.GenerateBatch(f.cfg.BatchSize) {
		res, err := f.v.SubmitIntent(ctx, in)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			f.stats.Rejected++
			f.log.Debugw("feeder_intent_rejected", "agent", in.AgentID, "err", err)
			continue
		case res.Status == StatusDropped:
			f.stats.Dropped++
		default:
			f.stats.Submitted++
			f.stats.Trades += len(res.Trades)
		}
	}
	f.stats.Batches++
	return nil
}

// Stats must not be called concurrently with Run.
func (f *Feeder) Stats() FeederStats { return f.stats }
