// Package influxdb records device status history in InfluxDB.
//
// Every status report the relay merges can also be written as a point in
// the device_status measurement, tagged by organization and device. The
// last-known-state document stays the source of truth; this history is an
// optional, lossy side channel for dashboards.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history not configured
//	}
//	defer client.Close()
//
//	_ = client.WriteStatus(influxdb.StatusSample{
//	    OrganizationID: "org-1",
//	    DeviceID:       "radio-7",
//	    Online:         true,
//	    ReportedAt:     "2024-01-01T00:00:00Z",
//	})
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous failures are delivered to the SetOnError
// callback; connection and health check errors are returned directly.
package influxdb
