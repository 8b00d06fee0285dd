// Package api serves the engine's HTTP surface: the push-source ingest
// endpoint, the read-only query API, alert acknowledgment, the operator
// motor-control command, the CSV download, Prometheus metrics and the
// WebSocket upgrade path.
package api
