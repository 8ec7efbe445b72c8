package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/agentvenue/params"
	"github.com/uhyunpark/agentvenue/pkg/api"
	"github.com/uhyunpark/agentvenue/pkg/app/core/risk"
	"github.com/uhyunpark/agentvenue/pkg/app/venue"
	"github.com/uhyunpark/agentvenue/pkg/metrics"
	"github.com/uhyunpark/agentvenue/pkg/storage"
	"github.com/uhyunpark/agentvenue/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	level, err := util.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	var logger *zap.Logger
	if cfg.Log.File != "" {
		logger, err = util.NewLoggerWithFile(cfg.Log.File, level)
	} else {
		logger, err = util.NewLogger(level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File, "level", level.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("venue_failed", "err", err)
	}
	sugar.Info("venue_stopped")
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	m := metrics.New()

	var journal *storage.Journal
	if cfg.JournalPath != "" {
		j, err := storage.OpenJournal(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		journal = j
		sugar.Infow("journal_opened", "path", cfg.JournalPath)
	}

	limits := risk.Limits{
		MaxPosition:      cfg.Risk.MaxPosition,
		MaxOrderNotional: cfg.Risk.MaxOrderNotional,
		MaxNotional:      cfg.Risk.MaxNotional,
	}

	reg := venue.NewRegistry()
	g, ctx := errgroup.WithContext(ctx)
	for _, symbol := range cfg.Venue.Symbols {
		vcfg := venue.Config{
			Symbol:         symbol,
			TickSize:       cfg.Venue.TickSize,
			HistoryLen:     cfg.Store.MaxLen,
			QueueSize:      cfg.Store.QueueSize,
			SnapshotLevels: cfg.Venue.SnapshotLevels,
			Limits:         limits,
			Logger:         sugar,
			Metrics:        m,
		}
		if journal != nil {
			// continue numbering where the previous run stopped
			last, ok, err := journal.LastSeq(symbol)
			if err != nil {
				return err
			}
			if ok {
				vcfg.StartSeq = last
			}
		}
		v, err := venue.New(vcfg)
		if err != nil {
			return err
		}
		if err := reg.Register(v); err != nil {
			return err
		}
		sugar.Infow("venue_registered", "symbol", symbol, "tick_size", cfg.Venue.TickSize, "start_seq", vcfg.StartSeq)

		if journal != nil {
			rec := venue.NewRecorder(v, journal, sugar)
			g.Go(func() error { return rec.Run(ctx) })
		}
		if cfg.Feeder.Enabled {
			seed := cfg.Feeder.Seed
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			f := venue.NewFeeder(v, venue.FeederConfig{
				Interval:   cfg.Feeder.Interval,
				BatchSize:  cfg.Feeder.BatchSize,
				NumAgents:  cfg.Feeder.NumAgents,
				BasePrice:  cfg.Feeder.BasePrice,
				Spread:     cfg.Feeder.Spread,
				MaxQty:     cfg.Feeder.MaxQty,
				Seed:       seed,
				StatsEvery: 10 * time.Second,
			}, util.RealClock{}, sugar)
			g.Go(func() error { return f.Run(ctx) })
		}
	}

	opts := api.Options{
		Origins:    cfg.API.Origins,
		Heartbeat:  cfg.API.Heartbeat,
		ReplayTail: cfg.API.ReplayTail,
		Logger:     sugar,
		Metrics:    m,
		Ingest: api.IngestOptions{
			APIKey:     cfg.API.IngestKey,
			RateMax:    cfg.API.IngestRateMax,
			RateWindow: cfg.API.IngestRateWindow,
		},
	}
	if journal != nil {
		opts.Journal = journal
	}
	server := api.NewServer(reg, opts)
	g.Go(func() error { return server.Run(ctx, cfg.API.Addr) })

	sugar.Infow("venue_starting",
		"symbols", cfg.Venue.Symbols,
		"addr", cfg.API.Addr,
		"feeder", cfg.Feeder.Enabled,
		"journal", cfg.JournalPath != "")
	return g.Wait()
}
