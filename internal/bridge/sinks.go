package bridge

import (
	"context"

	"github.com/basharjaffan/radio-revive-stream/internal/fleet"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/influxdb"
	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/kafka"
)

// StatusWriter is the history store a HistorySink writes to.
// *influxdb.Client satisfies it.
type StatusWriter interface {
	WriteStatus(sample influxdb.StatusSample) error
}

// HistorySink records every merged status as a time-series sample.
type HistorySink struct {
	writer StatusWriter
}

// NewHistorySink wraps a status history writer.
func NewHistorySink(w StatusWriter) *HistorySink {
	return &HistorySink{writer: w}
}

// Name implements StatusSink.
func (s *HistorySink) Name() string { return "influxdb" }

// WriteStatus implements StatusSink. The merged record is written, so a
// partial report still produces a complete sample.
func (s *HistorySink) WriteStatus(_ context.Context, status *fleet.DeviceStatus, _ []byte) error {
	return s.writer.WriteStatus(influxdb.StatusSample{
		OrganizationID: status.OrganizationID,
		DeviceID:       status.DeviceID,
		Online:         status.Online,
		Battery:        status.Battery,
		ReportedAt:     status.ReportedAt,
	})
}

// EventPublisher is the stream an EventSink publishes to.
// *kafka.Producer satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// EventSink forwards each accepted report, as received, to an event stream
// keyed by device.
type EventSink struct {
	publisher EventPublisher
}

// NewEventSink wraps an event publisher.
func NewEventSink(p EventPublisher) *EventSink {
	return &EventSink{publisher: p}
}

// Name implements StatusSink.
func (s *EventSink) Name() string { return "kafka" }

// WriteStatus implements StatusSink.
func (s *EventSink) WriteStatus(ctx context.Context, status *fleet.DeviceStatus, report []byte) error {
	return s.publisher.Publish(ctx, kafka.DeviceKey(status.OrganizationID, status.DeviceID), report)
}
