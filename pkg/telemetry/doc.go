// Package telemetry provides structured logging (zerolog) and Prometheus
// metrics for the Flowmill engine. Loggers carry run and flow context as
// structured fields; metrics cover run lifecycle counts and reconciler
// sweep outcomes.
package telemetry
