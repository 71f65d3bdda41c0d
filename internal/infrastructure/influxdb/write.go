package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// StatusMeasurement is the measurement device status samples are written to.
const StatusMeasurement = "device_status"

// StatusSample is one device status observation.
type StatusSample struct {
	OrganizationID string
	DeviceID       string
	Online         bool
	Battery        *float64
	// ReportedAt is the device-supplied RFC 3339 timestamp. Unparseable
	// values fall back to the write time.
	ReportedAt string
}

// NewStatusPoint builds the line-protocol point for a sample.
//
// Organization and device are tags; online and battery are fields. The
// battery field is omitted while the device has never reported one.
func NewStatusPoint(s StatusSample, now time.Time) *write.Point {
	fields := map[string]interface{}{
		"online": s.Online,
	}
	if s.Battery != nil {
		fields["battery"] = *s.Battery
	}

	ts := now
	if parsed, err := time.Parse(time.RFC3339Nano, s.ReportedAt); err == nil {
		ts = parsed
	}

	return write.NewPoint(
		StatusMeasurement,
		map[string]string{
			"organization_id": s.OrganizationID,
			"device_id":       s.DeviceID,
		},
		fields,
		ts,
	)
}

// WriteStatus queues a status sample for the next batch.
//
// The write is non-blocking; failures surface through SetOnError.
func (c *Client) WriteStatus(s StatusSample) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.writeAPI.WritePoint(NewStatusPoint(s, time.Now()))
	return nil
}
