// Package stores provides the durable persistence layer for Flowmill.
// Each managed workspace gets one SQLite file (WAL mode) holding flow run
// records, a per-run append-only event log with store-assigned sequence
// numbers, and artifact pointers. The store is the engine's only
// synchronization primitive across process boundaries: several OS
// processes may open the same workspace file concurrently.
package stores
