// Radio Revive fleet bridge.
//
// The bridge sits between the device fleet on MQTT and the document store.
// It relays device status reports into the store, dispatches pending
// commands to devices, and serves the REST API used by the dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/basharjaffan/radio-revive-stream/migrations"

	"github.com/basharjaffan/radio-revive-stream/internal/api"
	"github.com/basharjaffan/radio-revive-stream/internal/bridge"
	"github.com/basharjaffan/radio-revive-stream/internal/fleet"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/config"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/database"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/influxdb"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/kafka"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/logging"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/mqtt"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	serviceName       = "radio-revive-bridge"
	defaultConfigPath = "configs/config.yaml"
)

func main() {
	migrateDown := flag.Bool("migrate-down", false, "Roll back the most recent database migration and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if *migrateDown {
		err = rollback(ctx)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rollback reverts the newest applied migration without touching MQTT.
func rollback(ctx context.Context) error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, serviceName, version)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // Process exits right after

	if err := db.MigrateDown(ctx); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	log.Info("migration rolled back", "path", cfg.Database.Path, "applied", len(applied), "pending", len(pending))
	return nil
}

// run wires the bridge and blocks until ctx is cancelled or a component
// fails. Deferred closes run in reverse order of startup.
func run(ctx context.Context) error {
	log := logging.Default(serviceName)
	log.Info("starting fleet bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, serviceName, version)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithPresence(mqtt.BridgePresence(cfg.MQTT.Broker.ClientID)),
		mqtt.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected", "broker", mqtt.BrokerURL(cfg.MQTT))

	sinks, influx, closeSinks, err := openSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	// The live stream is always on; it is just another status sink.
	stream := api.NewStatusHub(cfg.API.WebSocket, log.With("component", "stream"))
	sinks = append(sinks, stream)

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influx != nil {
		checks["influxdb"] = influx
	}

	statuses := fleet.NewSQLiteStatusRepository(db)
	commands := fleet.NewSQLiteCommandRepository(db)
	qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated to 0..2

	relay, err := bridge.NewRelay(bridge.RelayOptions{
		Subscriber: mqttClient,
		Store:      statuses,
		Pattern:    cfg.MQTT.Topics.Status,
		QoS:        qos,
		Sinks:      sinks,
		Logger:     log.With("component", "relay"),
	})
	if err != nil {
		return fmt.Errorf("creating status relay: %w", err)
	}

	dispatcher, err := bridge.NewDispatcher(bridge.DispatcherOptions{
		Store:               commands,
		Publisher:           mqttClient,
		CommandTopic:        cfg.MQTT.Topics.Command,
		QoS:                 qos,
		MaxInFlight:         cfg.Dispatcher.MaxInFlight,
		StatusWriteAttempts: cfg.Dispatcher.StatusWriteAttempts,
		Logger:              log.With("component", "dispatcher"),
	})
	if err != nil {
		return fmt.Errorf("creating command dispatcher: %w", err)
	}

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		MQTT:         cfg.MQTT,
		Logger:       log,
		Statuses:     statuses,
		Commands:     commands,
		Transport:    mqttClient,
		Relay:        relay,
		Dispatcher:   dispatcher,
		DB:           db.DB,
		HealthChecks: checks,
		Stream:       stream,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := relay.Start(ctx); err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks, server); err != nil {
		return fmt.Errorf("startup health check failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		feed := fleet.NewPendingFeed(commands, cfg.Dispatcher.PollIntervalDuration())
		return dispatcher.Run(gctx, feed)
	})
	g.Go(func() error {
		stream.Run(gctx)
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("command dispatcher: %w", err)
	}

	log.Info("fleet bridge stopped")
	return nil
}

// healthCheck verifies every dependency and the API server once at startup.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker, server api.HealthChecker) error {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := checks[name].HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// openSinks connects the optional status sinks. The InfluxDB client is
// returned for health checks and is nil when disabled. The returned close
// function flushes and closes whatever was opened.
func openSinks(ctx context.Context, cfg *config.Config, log *logging.Logger) ([]bridge.StatusSink, *influxdb.Client, func(), error) {
	var (
		sinks   []bridge.StatusSink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	influx, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		closeAll()
		return nil, nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sinks = append(sinks, bridge.NewHistorySink(influx))
		closers = append(closers, func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	producer, err := kafka.NewProducer(cfg.Kafka)
	switch {
	case errors.Is(err, kafka.ErrDisabled):
		log.Info("Kafka status stream disabled")
	case err != nil:
		closeAll()
		return nil, nil, nil, fmt.Errorf("creating Kafka producer: %w", err)
	default:
		sinks = append(sinks, bridge.NewEventSink(producer))
		closers = append(closers, func() {
			log.Info("closing Kafka producer")
			if closeErr := producer.Close(); closeErr != nil {
				log.Error("error closing Kafka producer", "error", closeErr)
			}
		})
		log.Info("Kafka status stream enabled", "topic", producer.Topic(), "brokers", cfg.Kafka.Brokers)
	}

	return sinks, influx, closeAll, nil
}

// getConfigPath returns RADIOREVIVE_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("RADIOREVIVE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
