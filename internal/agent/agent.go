package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/basharjaffan/radio-revive-stream/internal/fleet"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/config"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/mqtt"
	"github.com/basharjaffan/radio-revive-stream/internal/player"
)

// Command names understood by the agent.
const (
	CommandPlay   = "play"
	CommandStop   = "stop"
	CommandVolume = "volume"
)

// DefaultHeartbeat is used when the configured interval is not positive.
const DefaultHeartbeat = 15 * time.Second

// commandQueueSize bounds commands received but not yet applied. The MQTT
// handler only enqueues; Run applies commands in order.
const commandQueueSize = 16

// ErrMissingDependency indicates a required collaborator was nil.
var ErrMissingDependency = errors.New("agent: missing dependency")

// Transport is the MQTT surface the agent needs. *mqtt.Client satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Player controls the media player. *player.Player satisfies it.
type Player interface {
	Play(ctx context.Context, url string) error
	Stop() error
	SetVolume(level int) error
	State() player.State
}

// Logger is the structured logger the agent writes to.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds the agent's settings and collaborators.
type Options struct {
	Agent config.AgentConfig

	// CommandTemplate is the command topic template with a {deviceId} placeholder.
	CommandTemplate string
	QoS             byte

	Transport Transport
	Player    Player
	Logger    Logger

	// HTTPClient fetches update metadata. http.DefaultClient when nil.
	HTTPClient *http.Client
}

// Agent connects one device to the fleet.
type Agent struct {
	cfg          config.AgentConfig
	statusTopic  string
	commandTopic string
	qos          byte
	transport    Transport
	player       Player
	logger       Logger
	httpClient   *http.Client
	now          func() time.Time
}

// New creates an agent. Transport, Player and Logger are required.
func New(opts Options) (*Agent, error) {
	if opts.Transport == nil || opts.Player == nil || opts.Logger == nil {
		return nil, fmt.Errorf("%w: agent needs a transport, a player and a logger", ErrMissingDependency)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Agent{
		cfg:          opts.Agent,
		statusTopic:  statusTopic(opts.Agent),
		commandTopic: mqtt.DeviceTopic(opts.CommandTemplate, opts.Agent.DeviceID),
		qos:          opts.QoS,
		transport:    opts.Transport,
		player:       opts.Player,
		logger:       opts.Logger,
		httpClient:   httpClient,
		now:          time.Now,
	}, nil
}

// statusTopic resolves the configured status template, falling back to
// devices/{deviceId}/status.
func statusTopic(cfg config.AgentConfig) string {
	if cfg.StatusTopic == "" {
		return mqtt.Topics{}.DeviceStatus(cfg.DeviceID)
	}
	return mqtt.DeviceTopic(cfg.StatusTopic, cfg.DeviceID)
}

// StatusTopic returns the topic heartbeats are published to.
func (a *Agent) StatusTopic() string { return a.statusTopic }

// CommandTopic returns the topic the agent listens on.
func (a *Agent) CommandTopic() string { return a.commandTopic }

// Run subscribes to commands and publishes heartbeats until ctx is
// cancelled, then stops the player. When an update check URL is configured
// it is also polled from here.
func (a *Agent) Run(ctx context.Context) error {
	commands := make(chan []byte, commandQueueSize)
	err := a.transport.Subscribe(a.commandTopic, a.qos, func(_ string, payload []byte) error {
		// Never block here: paho delivers messages on a single router goroutine.
		msg := append([]byte(nil), payload...)
		select {
		case commands <- msg:
		default:
			a.logger.Warn("command queue full, dropping command", "topic", a.commandTopic)
		}
		return nil
	})
	if err != nil {
		a.logger.Error("failed to subscribe to command topic", "topic", a.commandTopic, "error", err)
		return fmt.Errorf("subscribe to %s: %w", a.commandTopic, err)
	}
	a.logger.Info("listening for commands", "topic", a.commandTopic)

	interval := a.cfg.HeartbeatDuration()
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if a.cfg.UpdateCheckURL != "" {
		go a.runUpdateChecks(ctx)
	}

	a.publishHeartbeat()
	for {
		select {
		case <-ctx.Done():
			if err := a.player.Stop(); err != nil {
				a.logger.Warn("stopping player failed", "error", err)
			}
			return nil
		case payload := <-commands:
			a.HandleCommand(ctx, payload)
		case <-ticker.C:
			a.publishHeartbeat()
		}
	}
}

// Report builds the current status report.
func (a *Agent) Report(online bool) fleet.StatusReport {
	return buildReport(a.cfg, a.player.State(), online, a.now())
}

func buildReport(cfg config.AgentConfig, state player.State, online bool, at time.Time) fleet.StatusReport {
	metadata := map[string]any{
		"player": string(state.Status),
	}
	if state.URL != "" {
		metadata["stream"] = state.URL
	}
	if state.Volume != nil {
		metadata["volume"] = *state.Volume
	}

	r := fleet.StatusReport{
		DeviceID:       cfg.DeviceID,
		OrganizationID: cfg.OrganizationID,
		Online:         &online,
		ReportedAt:     at.UTC().Format(time.RFC3339Nano),
		Metadata:       metadata,
	}
	if cfg.FirmwareVersion != "" {
		fw := cfg.FirmwareVersion
		r.FirmwareVersion = &fw
	}
	return r
}

func (a *Agent) publishHeartbeat() {
	payload, err := json.Marshal(a.Report(true))
	if err != nil {
		a.logger.Error("encoding heartbeat failed", "error", err)
		return
	}
	if err := a.transport.Publish(a.statusTopic, payload, a.qos, false); err != nil {
		a.logger.Warn("heartbeat publish failed", "topic", a.statusTopic, "error", err)
		return
	}
	a.logger.Debug("sent heartbeat", "topic", a.statusTopic)
}

// HandleCommand applies one command envelope. Failures are logged.
func (a *Agent) HandleCommand(ctx context.Context, payload []byte) {
	var env fleet.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		a.logger.Error("failed to handle command payload", "error", err)
		return
	}
	if env.DeviceID != "" && env.DeviceID != a.cfg.DeviceID {
		a.logger.Warn("command addressed to another device",
			"command_id", env.CommandID,
			"device_id", env.DeviceID,
		)
		return
	}

	a.logger.Info("received command", "command_id", env.CommandID, "name", env.Name)

	if err := a.apply(ctx, env); err != nil {
		a.logger.Error("command failed", "command_id", env.CommandID, "name", env.Name, "error", err)
		return
	}

	// Report the new player state right away rather than at the next tick.
	a.publishHeartbeat()
}

func (a *Agent) apply(ctx context.Context, env fleet.Envelope) error {
	switch env.Name {
	case CommandPlay:
		url, _ := env.Params["url"].(string)
		return a.player.Play(ctx, url)

	case CommandStop:
		return a.player.Stop()

	case CommandVolume:
		level, ok := env.Params["level"].(float64)
		if !ok || level != math.Trunc(level) {
			return fmt.Errorf("volume needs an integer level param, got %v", env.Params["level"])
		}
		if err := a.player.SetVolume(int(level)); err != nil {
			return err
		}
		a.logger.Info("volume set, applies from next stream start", "level", int(level))
		return nil

	default:
		a.logger.Warn("unknown command", "command_id", env.CommandID, "name", env.Name)
		return nil
	}
}

// Presence returns the MQTT presence for a device: an online report is
// published on every connect and an offline report is registered as the
// will. It only needs the player, so it can be built before the transport
// the agent will use.
func Presence(cfg config.AgentConfig, p Player) mqtt.Presence {
	payload := func(online bool) func() []byte {
		return func() []byte {
			b, err := json.Marshal(buildReport(cfg, p.State(), online, time.Now()))
			if err != nil {
				return nil
			}
			return b
		}
	}
	return mqtt.Presence{
		Topic:   statusTopic(cfg),
		Online:  payload(true),
		Offline: payload(false),
	}
}
