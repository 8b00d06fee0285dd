// Package alerting turns health scores, anomaly verdicts and connectivity
// transitions into maintenance alerts. Each alert root cause moves through
// NONE -> ACTIVE -> ACKNOWLEDGED; at most one ACTIVE alert exists per
// (category, root cause) pair, re-firing rules update the existing alert in
// place. Alerts are archived indefinitely, acknowledgment is the only
// mutation.
package alerting
