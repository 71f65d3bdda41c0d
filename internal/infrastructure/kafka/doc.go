// Package kafka streams device status events to a Kafka topic.
//
// The producer wraps segmentio/kafka-go's Writer. Messages are keyed by
// "organizationId/deviceId" so that the hash balancer keeps every event for
// one device on the same partition, preserving per-device order for
// downstream consumers.
//
//	p, err := kafka.NewProducer(cfg.Kafka)
//	if errors.Is(err, kafka.ErrDisabled) {
//	    // stream not configured
//	}
//	defer p.Close()
//
//	err = p.Publish(ctx, kafka.DeviceKey("org-1", "radio-7"), payload)
package kafka
