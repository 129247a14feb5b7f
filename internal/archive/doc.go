// Package archive persists completed chat turns to a local SQLite database.
//
// The in-memory conversation store is the session's working state; the
// archive is its durable record. The orchestrator writes one row per
// finished turn (question, final answer, mode, model attribution) so past
// conversations survive restarts and can be listed with summary metadata.
// Archive writes are best-effort: a failure is logged and never blocks the
// turn from reaching the user.
package archive
