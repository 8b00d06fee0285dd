// Package anomaly scores each reading against a rolling window of recent
// readings with an isolation forest. The forest is refit on a sample-count
// or elapsed-time cadence, whichever fires first; the flagging threshold is
// the contamination quantile of the fitted window's own scores. Until the
// window reaches its minimum population every verdict is non-anomalous.
package anomaly
