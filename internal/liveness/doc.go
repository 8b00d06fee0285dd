// Package liveness tracks the connection state of each data source. A
// source is CONNECTED while readings arrive inside its timeout, DEGRADED
// once the timeout elapses and LOST past twice the timeout. Transitions are
// reported exactly once through a callback; repeated sweeps in the same
// state are silent.
package liveness
