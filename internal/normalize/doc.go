// Package normalize turns source-tagged raw payloads into canonical
// Readings: field extraction, unit conversion (Fahrenheit to Celsius, PLC
// register counts to engineering units), relay text mapping and physical
// range enforcement. Downstream scoring assumes every Reading that leaves
// this package is physically plausible.
package normalize
