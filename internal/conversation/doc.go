// Package conversation holds the in-memory message history for the session.
//
// A conversation is an ordered, append-mostly sequence of messages plus
// summary metadata (count, preview, timestamps). The store is the sole
// mutator of messages; callers get defensive copies. The one exception to
// append-only is ReplaceLastAssistant, which supersedes a quick answer with
// its enhanced upgrade when the newest message is an assistant message.
//
// The per-conversation history bound is enforced on every write with
// oldest-first truncation, so recent context is always what survives.
package conversation
