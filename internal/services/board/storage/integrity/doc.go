// Package integrity provides hashing and signing helpers used to protect the
// score history's tamper-evident chain.
//
// Why this package exists:
// - It ensures each stored history entry carries a deterministic hash input.
// - It links entries into a per-user chain so rewrites and reorders can be
//   detected after the fact.
// - It isolates cryptographic details from higher-level storage and replay code.
package integrity
