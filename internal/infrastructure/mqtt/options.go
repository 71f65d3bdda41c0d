package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// Presence describes a retained liveness topic for this client.
//
// Online is published after every (re)connect. Offline is registered as the
// Last Will when connecting and published again on a graceful Close. Both
// are functions so payloads can carry a fresh timestamp.
type Presence struct {
	Topic    string
	Retained bool
	Online   func() []byte
	Offline  func() []byte
}

// Option configures a Client at Connect time.
type Option func(*Client)

// WithPresence announces liveness on p.Topic.
func WithPresence(p Presence) Option {
	return func(c *Client) {
		c.presence = &p
	}
}

// WithLogger sets the handler error logger before any message can arrive.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// BrokerURL returns the broker address in paho's scheme://host:port form.
func BrokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions creates paho MQTT options from config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and optional credentials
//   - Auto-reconnect with the configured delays
//   - TLS configuration (if enabled)
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(BrokerURL(cfg))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureWill registers the presence offline payload as the Last Will.
// The broker publishes it if the client disconnects unexpectedly.
func configureWill(opts *pahomqtt.ClientOptions, p Presence) {
	if p.Topic == "" || p.Offline == nil {
		return
	}
	opts.SetBinaryWill(p.Topic, p.Offline(), 1, p.Retained)
}

// BridgePresence returns the presence used by the bridge process.
func BridgePresence(clientID string) Presence {
	payload := func(status string) func() []byte {
		return func() []byte {
			return []byte(fmt.Sprintf(
				`{"status":%q,"client_id":%q,"timestamp":%q}`,
				status,
				clientID,
				time.Now().UTC().Format(time.RFC3339),
			))
		}
	}
	return Presence{
		Topic:    Topics{}.BridgePresence(clientID),
		Retained: true,
		Online:   payload("online"),
		Offline:  payload("offline"),
	}
}
