// Package bridge connects the device transport to the fleet store.
//
// Two components run side by side over one shared MQTT client and one
// shared store:
//
//   - Relay subscribes to the device status pattern, validates each report
//     and merge-upserts it into the device's status record. Accepted reports
//     are also fanned out to optional sinks (status history, event stream).
//   - Dispatcher watches the pending-command feed, publishes a JSON envelope
//     for each newly added command to the device's command topic and records
//     the outcome as sent or failed.
//
// Neither component returns handler errors to a caller: failures are logged
// at the component boundary and the next event is handled independently.
// Dependencies are injected as small interfaces so tests can drive both
// components with in-memory fakes.
package bridge
