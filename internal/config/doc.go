// Package config loads, validates and hot-reloads the engine configuration:
// per-source liveness timeouts, category weights, threshold bands, anomaly
// tuning and pipeline retry budgets. Defaults match the reference 24V motor
// system thresholds.
package config
