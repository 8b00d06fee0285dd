// Package ws fans pipeline results out to WebSocket subscribers. Publishing
// is fire-and-forget: each client has a bounded outgoing buffer and a client
// that falls too far behind is disconnected rather than stalling ingestion.
// Subscribers reconcile missed updates through the recent-history API.
package ws
