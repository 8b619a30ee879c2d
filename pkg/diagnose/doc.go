// Package diagnose derives structured, bounded failure summaries for flow
// runs after the fact, by scanning the tail of the append-only event log
// rather than trusting live state. The controller's resume guard and the
// reconciler both consume its payloads.
package diagnose
