// Package reconcile repairs run records left inconsistent by a crashed or
// killed worker process. It cross-checks each non-terminal run's recorded
// status against the liveness of the worker that owns it, and transitions
// orphaned active runs to failed with a diagnosed failure payload. A
// per-run advisory file lock keeps concurrent reconcilers, and a run's
// own live worker, from racing the repair.
package reconcile
