package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/basharjaffan/radio-revive-stream/internal/fleet"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/mqtt"
)

// RelayOptions holds the collaborators and settings of a Relay.
type RelayOptions struct {
	Subscriber Subscriber
	Store      StatusStore

	// Pattern is the status topic pattern, e.g. "devices/+/status".
	Pattern string
	QoS     byte

	// Sinks are optional and written after a successful merge.
	Sinks  []StatusSink
	Logger Logger
}

// RelayStats counts handled status messages.
type RelayStats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Ignored  uint64 `json:"ignored"`
}

// Relay persists device status reports received over the transport.
//
// Thread Safety: HandleMessage may be called concurrently.
type Relay struct {
	sub     Subscriber
	store   StatusStore
	pattern string
	qos     byte
	sinks   []StatusSink
	logger  Logger

	ctxMu sync.RWMutex
	ctx   context.Context

	accepted atomic.Uint64
	rejected atomic.Uint64
	ignored  atomic.Uint64
}

// NewRelay creates a relay. Subscriber, Store and Pattern are required.
func NewRelay(opts RelayOptions) (*Relay, error) {
	if opts.Subscriber == nil || opts.Store == nil {
		return nil, fmt.Errorf("%w: relay needs a subscriber and a status store", ErrMissingDependency)
	}
	if opts.Pattern == "" {
		return nil, fmt.Errorf("%w: empty status pattern", ErrInvalidTopic)
	}

	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &Relay{
		sub:     opts.Subscriber,
		store:   opts.Store,
		pattern: opts.Pattern,
		qos:     opts.QoS,
		sinks:   opts.Sinks,
		logger:  logger,
		ctx:     context.Background(),
	}, nil
}

// Start subscribes to the status pattern and logs the outcome.
//
// Messages are handled under ctx with cancellation detached, so a report
// already being stored when ctx ends is still written.
func (r *Relay) Start(ctx context.Context) error {
	r.ctxMu.Lock()
	r.ctx = context.WithoutCancel(ctx)
	r.ctxMu.Unlock()

	err := r.sub.Subscribe(r.pattern, r.qos, func(topic string, payload []byte) error {
		r.HandleMessage(r.baseContext(), topic, payload)
		return nil
	})
	if err != nil {
		r.logger.Error("status subscribe failed", "topic", r.pattern, "error", err)
		return fmt.Errorf("subscribe to %s: %w", r.pattern, err)
	}

	r.logger.Info("subscribed to device status", "topic", r.pattern)
	return nil
}

func (r *Relay) baseContext() context.Context {
	r.ctxMu.RLock()
	defer r.ctxMu.RUnlock()
	return r.ctx
}

// HandleMessage processes one inbound status message.
//
// Messages on topics outside the pattern are dropped silently. Invalid
// payloads are logged and dropped without a store write. Nothing is
// returned: there is no caller that could act on a failure.
func (r *Relay) HandleMessage(ctx context.Context, topic string, payload []byte) {
	if !mqtt.MatchTopic(r.pattern, topic) {
		r.ignored.Add(1)
		return
	}

	report, err := fleet.ParseStatusReport(payload)
	if err != nil {
		r.rejected.Add(1)
		r.logger.Error("invalid status message", "topic", topic, "error", err)
		return
	}

	status, err := r.store.MergeStatus(ctx, report)
	if err != nil {
		r.rejected.Add(1)
		r.logger.Error("status write failed",
			"topic", topic,
			"path", fleet.DevicePath(report.OrganizationID, report.DeviceID),
			"error", err,
		)
		return
	}

	r.accepted.Add(1)
	r.logger.Info("device status updated",
		"device_id", status.DeviceID,
		"organization_id", status.OrganizationID,
		"online", status.Online,
	)

	for _, sink := range r.sinks {
		if err := sink.WriteStatus(ctx, status, payload); err != nil {
			r.logger.Warn("status sink write failed",
				"sink", sink.Name(),
				"device_id", status.DeviceID,
				"error", err,
			)
		}
	}
}

// Stats returns a snapshot of the message counters.
func (r *Relay) Stats() RelayStats {
	return RelayStats{
		Accepted: r.accepted.Load(),
		Rejected: r.rejected.Load(),
		Ignored:  r.ignored.Load(),
	}
}
