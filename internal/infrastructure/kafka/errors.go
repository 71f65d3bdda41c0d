package kafka

import "errors"

// Sentinel errors for the status event producer.
var (
	// ErrDisabled indicates the Kafka integration is disabled in config.
	ErrDisabled = errors.New("kafka: disabled in configuration")

	// ErrNoBrokers indicates no broker addresses were configured.
	ErrNoBrokers = errors.New("kafka: no brokers configured")

	// ErrClosed indicates the producer has been closed.
	ErrClosed = errors.New("kafka: producer closed")

	// ErrPublishFailed indicates a message could not be written.
	ErrPublishFailed = errors.New("kafka: publish failed")
)
