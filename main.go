package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"trading-engine/internal/adapter"
	"trading-engine/internal/adapter/paper"
	"trading-engine/internal/api"
	"trading-engine/internal/archive"
	"trading-engine/internal/engine"
	"trading-engine/internal/events"
	"trading-engine/internal/instrument"
	"trading-engine/internal/ledger"
	"trading-engine/internal/market"
	"trading-engine/internal/monitor"
	"trading-engine/internal/order"
	"trading-engine/internal/persistence"
	"trading-engine/internal/strategy"
	"trading-engine/pkg/config"
	"trading-engine/pkg/db"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	log.Info("starting",
		zap.Strings("symbols", cfg.Symbols),
		zap.String("db_path", cfg.DBPath),
		zap.Bool("mock_feed", cfg.UseMockFeed))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal("db init failed", zap.Error(err))
	}
	defer database.Close()
	if err := db.Migrate(database.DB); err != nil {
		log.Fatal("db migration failed", zap.Error(err))
	}
	writer := persistence.NewBatchWriter(database.DB, 50, 500*time.Millisecond, log.Named("batch"))
	defer writer.Close()
	queries := db.NewQueries(database.DB)

	// Core services
	bus := events.NewBus(log.Named("bus"))
	defer bus.Close()

	registry := instrument.NewRegistry()
	for _, sym := range cfg.Symbols {
		if err := registry.Add(instrument.Instrument{
			Symbol:   sym,
			TickSize: cfg.TickSize,
			LotSize:  cfg.LotSize,
		}); err != nil {
			log.Fatal("instrument registration failed", zap.Error(err))
		}
	}

	led := ledger.New(ledger.Limits{
		MaxPositionPerInstrument: cfg.MaxPositionPerInstrument,
		MaxNotionalExposure:      cfg.MaxNotionalExposure,
		MaxOrderRate:             rate.Limit(cfg.MaxOrderRate),
		OrderBurst:               cfg.OrderBurst,
	}, log.Named("ledger"))

	var runner *strategy.Runner
	archiver := archive.New(archive.Config{
		Writer:        writer,
		Queries:       queries,
		Logger:        log.Named("archive"),
		SnapshotEvery: cfg.SnapshotEvery,
		Snapshot:      led.Snapshot,
		States: func() map[string]json.RawMessage {
			if runner == nil {
				return nil
			}
			return runner.States()
		},
	})

	machine := order.NewMachine(led, cfg.ArchiveGrace, archiver, log.Named("orders"))

	var gateway adapter.OrderGateway
	paperGw := paper.New(bus, paper.Config{
		LatencyMin:  time.Duration(cfg.PaperLatencyMinMs) * time.Millisecond,
		LatencyMax:  time.Duration(cfg.PaperLatencyMaxMs) * time.Millisecond,
		SlippageBps: cfg.PaperSlippageBps,
		FeeBps:      cfg.PaperFeeBps,
		FillChunks:  cfg.PaperFillChunks,
	}, log.Named("paper"))
	paperGw.Start(ctx)
	gateway = paperGw

	coord := engine.NewCoordinator(engine.Config{
		Bus:         bus,
		Instruments: registry,
		Ledger:      led,
		Machine:     machine,
		Gateway:     gateway,
		Logger:      log.Named("engine"),
		Options: engine.Options{
			AckTimeout:    cfg.AckTimeout,
			DrainTimeout:  cfg.DrainTimeout,
			SweepInterval: cfg.SweepInterval,
			Partitions:    cfg.EnginePartitions,
		},
	})

	// Strategies
	runner = strategy.NewRunner(bus, led, machine, coord.Submit, log.Named("strategy"))
	coord.SetRunner(runner)
	if cfg.MaxOrderQty.IsPositive() || cfg.MaxOrderNotional.IsPositive() {
		runner.SetSizer(&strategy.Sizer{
			MaxOrderQty:      cfg.MaxOrderQty,
			MaxOrderNotional: cfg.MaxOrderNotional,
		})
	}

	stratCfgs, err := strategy.LoadConfig(cfg.StrategiesPath)
	if err != nil {
		log.Warn("strategy config unavailable, starting with none",
			zap.String("path", cfg.StrategiesPath), zap.Error(err))
	}
	for _, sc := range stratCfgs {
		strat, err := strategy.Build(sc)
		if err != nil {
			log.Fatal("strategy build failed", zap.String("id", sc.ID), zap.Error(err))
		}
		if strat == nil {
			continue
		}
		runner.Register(strat, strategy.Filter{Symbols: sc.Symbols})
	}
	if saved, err := archiver.RestoreStates(ctx); err == nil {
		for id, state := range saved {
			runner.RestoreState(id, state)
		}
	} else {
		log.Warn("strategy state restore failed", zap.Error(err))
	}

	// Market data
	var feed adapter.MarketFeed
	if cfg.UseMockFeed || cfg.FeedURL == "" {
		feed = &market.MockFeed{
			Bus:        bus,
			Symbols:    cfg.Symbols,
			StartPrice: cfg.MockStartPrice,
			Step:       cfg.MockStep,
			Interval:   cfg.MockTickInterval,
			Traders:    cfg.MockTraders,
			Log:        log.Named("mockfeed"),
		}
		// Seed the paper venue so market orders fill before the first tick.
		for _, sym := range cfg.Symbols {
			paperGw.SetPrice(sym, cfg.MockStartPrice)
		}
	} else {
		feed = &market.WSFeed{
			URL:     cfg.FeedURL,
			Bus:     bus,
			Symbols: cfg.Symbols,
			Log:     log.Named("wsfeed"),
		}
	}

	// Observability
	metrics := monitor.NewSystemMetrics()
	mon := &monitor.Monitor{Bus: bus, Metrics: metrics, Log: log.Named("monitor")}
	mon.Start(ctx)

	// Run everything
	go archiver.Run(ctx)
	runner.Start(ctx)
	if err := feed.Start(ctx); err != nil {
		log.Fatal("feed start failed", zap.Error(err))
	}

	runDone := make(chan error, 1)
	go func() { runDone <- coord.Run(ctx) }()

	server := api.NewServer(coord, queries, metrics, coord.Shutdown, log.Named("api"))
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatal("api server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("signal received, draining")
		coord.Shutdown("signal")
		select {
		case <-coord.Drained():
		case <-time.After(cfg.DrainTimeout + 5*time.Second):
			log.Warn("drain did not complete in time")
		}
	case err := <-runDone:
		if err != nil {
			log.Error("coordinator stopped", zap.Error(err))
		}
	}

	// Final checkpoint before exit.
	archiver.Checkpoint(context.Background())
	writer.Flush()
	log.Info("stopped",
		zap.Int("live_orders", machine.LiveCount()),
		zap.String("exposure", led.Exposure().String()))
}
