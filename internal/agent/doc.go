// Package agent is the device side of the fleet bridge.
//
// An Agent runs on each radio. It subscribes to the device's command topic,
// turns play, stop and volume commands into player actions, and publishes a
// status report on the device's status topic every heartbeat interval. The
// report's metadata carries the player state so dashboards can see what the
// device is streaming. Commands are queued by the MQTT handler and applied
// one at a time by Run, so a slow player never stalls the MQTT client.
//
// Presence builds the MQTT last-will for the agent: if the connection drops
// without a clean Close, the broker publishes an offline status report on
// the device's behalf.
package agent
