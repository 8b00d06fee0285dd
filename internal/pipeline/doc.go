// Package pipeline sequences the per-reading processing chain: normalize,
// liveness update, health scoring, anomaly check, alert rules, atomic
// persistence and fan-out. The coordinator owns the rolling history buffers
// and is the only writer to the store; publish happens only after a unit
// has been persisted.
package pipeline
