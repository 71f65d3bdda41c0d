// Package api provides the HTTP API of the radio fleet bridge.
//
// It exposes read access to device status records, lets dashboards enqueue
// commands for devices, and publishes the MQTT settings device agents need
// to connect. Enqueued commands are stored as pending; the dispatcher picks
// them up through the command feed, so the API never talks to devices
// directly.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
