// Package types provides the data shapes that cross the sandbox trust boundary.
//
// Core Types:
//   - UINode: tagged UI tree variants returned by card render functions
//   - RuntimeIntent: side-effect requests emitted by card handlers
//   - SessionMeta: metadata declared by a loaded stack bundle
//   - TimelineEntry: audit record for one ingested intent
//   - DomainIntentEnvelope, SystemIntentEnvelope: authorized intents queued for the host
//
// Values of these types are only ever produced by the validators in
// internal/schema; host code never sees the raw values exported by a script.
//
// Example Usage:
//
//	tree := types.Panel(
//	    types.Text("Low stock"),
//	    types.Button("Reorder", &types.EventRef{Handler: "reorder"}),
//	)
package types
