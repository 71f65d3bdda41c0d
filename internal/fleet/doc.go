// Package fleet holds the organization-scoped records the bridge works on:
// the last-known status of each device and the commands queued for them.
//
// Records are addressed the way the dashboard addresses documents:
//
//	organizations/{orgId}/devices/{deviceId}
//	organizations/{orgId}/commands/{commandId}
//
// Status writes are merge-upserts. A report only overwrites the fields it
// carries, and metadata merges key by key. Commands move from pending to
// exactly one of sent or failed and never back.
//
// PendingFeed turns the pending command set into a stream of added,
// modified and removed changes for the dispatcher.
package fleet
