package bridge

import (
	"context"
	"time"

	"github.com/basharjaffan/radio-revive-stream/internal/fleet"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/mqtt"
)

// Logger is the structured logger the bridge components write to.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Publisher sends a payload to a topic. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Subscriber registers a handler for a topic pattern. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// StatusStore merge-upserts device status reports.
type StatusStore interface {
	MergeStatus(ctx context.Context, report fleet.StatusReport) (*fleet.DeviceStatus, error)
}

// StatusSink receives every status report the store accepted.
type StatusSink interface {
	// Name identifies the sink in logs.
	Name() string
	WriteStatus(ctx context.Context, status *fleet.DeviceStatus, report []byte) error
}

// CommandStore reads and finalises command records.
type CommandStore interface {
	Get(ctx context.Context, orgID, commandID string) (*fleet.Command, error)
	MarkSent(ctx context.Context, orgID, commandID string, at time.Time) error
	MarkFailed(ctx context.Context, orgID, commandID, message string) error
}

// CommandFeed delivers pending-command changes. *fleet.PendingFeed satisfies it.
type CommandFeed interface {
	Watch(ctx context.Context, handler fleet.ChangeHandler, onError func(error)) error
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
