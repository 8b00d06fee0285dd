// Package export appends persisted readings to a CSV file for offline
// analysis. The header is written once when the file is created; every
// pipeline unit adds one row.
package export
