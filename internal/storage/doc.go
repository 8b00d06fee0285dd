// Package storage persists pipeline units. A unit (reading, health score,
// anomaly verdict, touched alerts, events) is appended atomically: readers
// never observe a partial unit. Two implementations exist: Postgres for
// production and an in-memory store for development and tests.
package storage
