// Package source defines context items, the assembled bundle, and the
// closed set of context source adapters.
//
// An adapter produces candidate context items for a query under a deadline.
// Adapters must respect the deadline and return partial or empty results
// rather than blocking past it; the assembler treats a slow or failing
// adapter as a degraded source, never as a fatal error on its own.
//
// Three adapter kinds ship with agentd:
//   - history: recent conversation turns from the in-memory store
//   - vector: semantic neighbors from the embedded chromem vector store
//   - repository: recent commit context from a git workspace
package source
