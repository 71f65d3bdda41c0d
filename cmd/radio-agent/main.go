// Radio Revive device agent.
//
// The agent runs on each radio. It reports device status to the fleet
// over MQTT and drives the local media player from fleet commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/basharjaffan/radio-revive-stream/internal/agent"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/config"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/logging"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/mqtt"
	"github.com/basharjaffan/radio-revive-stream/internal/player"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const serviceName = "radio-agent"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := logging.Default(serviceName)
	log.Info("starting device agent", "version", version, "commit", commit)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, serviceName, version).With("device_id", cfg.Agent.DeviceID)

	// Each device needs its own MQTT session.
	cfg.MQTT.Broker.ClientID = cfg.Agent.DeviceID + "-agent"

	pl := player.New(player.Config{
		Binary: cfg.Agent.PlayerBinary,
		Args:   cfg.Agent.PlayerArgs,
	})
	pl.SetLogger(log.With("component", "player"))

	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithPresence(agent.Presence(cfg.Agent, pl)),
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
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected", "broker", mqtt.BrokerURL(cfg.MQTT))

	a, err := agent.New(agent.Options{
		Agent:           cfg.Agent,
		CommandTemplate: cfg.MQTT.Topics.Command,
		QoS:             byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		Transport:       mqttClient,
		Player:          pl,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.Info("agent running",
		"status_topic", a.StatusTopic(),
		"command_topic", a.CommandTopic(),
		"heartbeat", cfg.Agent.HeartbeatDuration().String(),
		"update_check_url", cfg.Agent.UpdateCheckURL,
	)
	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info("device agent stopped")
	return nil
}

// loadConfig reads RADIOREVIVE_CONFIG when set. Devices usually run without
// a file, configured only through environment variables.
func loadConfig() (*config.Config, error) {
	path := os.Getenv("RADIOREVIVE_CONFIG")
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default()
	}
	return cfg, err
}
