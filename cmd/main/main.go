package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tick-relay/src/alert"
	"tick-relay/src/config"
	"tick-relay/src/interfaces"
	"tick-relay/src/logger"
	"tick-relay/src/models"
	"tick-relay/src/network"
	"tick-relay/src/protocol"
	"tick-relay/src/server"
	"tick-relay/src/storage"
	"tick-relay/src/subscription"
	"tick-relay/src/upstream"
	"tick-relay/src/utils"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(cfg.LogLevel, cfg.Name)

	// Storage
	var db interfaces.IDatabase

	switch cfg.Storage.DBType {
	case "postgres":
		db, err = storage.NewPostgresDB(cfg.MConfig, appLogger)
	default:
		// Default to SQLite
		db, err = storage.NewSQLiteDB(cfg.MConfig, appLogger)
	}

	if err != nil {
		appLogger.Critical("Failed to init db: %v", err)
	}
	if err := db.Initialize(); err != nil {
		appLogger.Critical("Failed to migrate db: %v", err)
	}
	defer db.Close()

	// Account service client (identity + instrument names)
	accountClient := network.NewAccountClient(cfg.MConfig, appLogger)

	// Upstream feed plumbing
	decoder := protocol.NewDecoder(cfg.Upstream, appLogger)
	scheduler := utils.NewMarketScheduler(cfg.Upstream.MarketMIC, appLogger)
	source := upstream.NewWebsocketSource(cfg.Upstream, decoder, scheduler, appLogger)
	gateway := upstream.NewGateway(source, cfg.ChannelPrefix, time.Duration(cfg.Upstream.CloseGraceMs)*time.Millisecond, appLogger)

	// Subscription bookkeeping
	registry := subscription.NewRegistry(appLogger)
	coordinator := subscription.NewCoordinator(registry, gateway, appLogger)

	// After a reconnect the upstream has forgotten every open feed; replay
	// the registry's view of what should be streaming.
	source.SetConnectHook(func() {
		gateway.InvalidateAll()
		gateway.Reconcile(registry.ActiveChannels())
	})

	// Alerts
	names := alert.NewNameResolver(db, accountClient.InstrumentName, appLogger)
	engine := alert.NewEngine(db, time.Duration(cfg.Alerts.CooldownMinutes)*time.Minute, names.Resolve, appLogger)
	targets := alert.NewTargetService(db, appLogger)

	publisher, err := alert.NewPublisher(cfg.Publisher, appLogger)
	if err != nil {
		appLogger.Critical("Failed to init publisher: %v", err)
	}
	defer publisher.Close()

	// HTTP / websocket server
	srv := server.NewRelayServer(cfg.MConfig, registry, coordinator, gateway, targets, accountClient, appLogger)

	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Error("Server failed: %v", err)
		}
	}()

	// Main loop (push model)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wrapWg := &sync.WaitGroup{}
	ticksChan := make(chan models.MTick, 1024)

	if err := source.Start(ctx, ticksChan, wrapWg); err != nil {
		appLogger.Critical("Failed to start upstream source: %v", err)
		return
	}

	// Periodic reconciliation catches drift between desired and actual
	// upstream feed state (missed command acks, ignored closes).
	reconcile := time.NewTicker(time.Duration(cfg.Upstream.ReconcileSeconds) * time.Second)
	defer reconcile.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	appLogger.Info("Starting tick loop...")

	for {
		select {
		case tick, ok := <-ticksChan:
			if !ok {
				appLogger.Info("Upstream source closed channel.")
				return
			}

			// Fanout first: subscribers see the tick regardless of how
			// long alert evaluation takes.
			srv.Broadcast(tick)

			for _, event := range engine.Evaluate(tick.InstrumentCode, tick.LastPrice, tick.Timestamp) {
				srv.PushAlert(event)
				if err := publisher.Publish(event); err != nil {
					appLogger.Error("Failed to publish alert for %s/%s: %v", event.UserID, event.InstrumentCode, err)
				}
			}

		case <-reconcile.C:
			gateway.Reconcile(registry.ActiveChannels())

		case <-quit:
			appLogger.Info("Shutting down...")
			cancel()      // Signal source to stop
			wrapWg.Wait() // Wait for source to close
			return
		}
	}
}
