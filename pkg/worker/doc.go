// Package worker implements the worker-liveness contract: a spawn-time
// metadata file recording the worker's PID and process start-time
// fingerprint, and a health check that distinguishes a live worker from a
// dead one and from an unrelated process that reused the PID.
package worker
