// Package controller is the façade workflows and external callers use to
// drive flow runs: create, execute, stop, resume, list, stream events and
// fetch artifacts. It owns no execution of its own; step execution is
// delegated to pkg/runtime, and all cross-process coordination goes
// through the store.
package controller
