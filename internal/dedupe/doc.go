// Package dedupe tracks recently settled request ids.
//
// A pending request settles exactly once; its correlator entry is removed the
// moment it resolves, rejects, times out, or is cancelled. A response frame
// arriving after that point would otherwise look identical to a frame for an
// id that never existed. The cache lets the correlator log late duplicates
// distinctly and guarantees they are dropped rather than dispatched to the
// type-subscriber path.
//
// Entries expire after a TTL and the cache is size-bounded with oldest-first
// eviction, so an arbitrarily long session cannot grow it without bound.
package dedupe
