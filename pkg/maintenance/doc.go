// Package maintenance runs the periodic sweeps of the identity system
// (expired-session cleanup, audit retention, trust recomputation) on
// dedicated worker goroutines with explicit start/stop.
//
// Jobs are registered by name with an interval; Start launches one loop per
// job, Stop cancels scheduling and waits for in-flight sweeps to finish.
// Tests trigger sweeps synchronously through RunJob or RunAll instead of
// waiting on wall-clock intervals.
package maintenance
