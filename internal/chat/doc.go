// Package chat orchestrates the three request modes against the backend.
//
// # Two-step workflow
//
// Ask always issues a quick request first, built from the history captured
// before the question is appended. Upgrade then reuses that identical
// pre-question snapshot for an enhanced request, so the enhanced answer is
// an independent continuation of the conversation rather than a follow-up
// to the quick answer. The upgrade replaces the quick answer when it is
// still the newest message and is permitted once per question. Raw mode
// bypasses the two-step flow entirely.
//
// # Transport selection
//
// The orchestrator prefers the realtime correlator. When it reports
// NotConnected, or the connection manager has exhausted its reconnect
// budget, the same payload is retried through the synchronous HTTP invoker
// and response handling proceeds identically.
//
// The orchestrator is the conversation store's only writer. A failed call
// never replaces a message; at most an error placeholder is appended.
package chat
