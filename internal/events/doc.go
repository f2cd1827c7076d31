// Package events carries invalidation signals between the parts of the
// daemon that change state (workspace writes, new conversation turns) and
// the caches that must not serve stale results afterwards. The bus is
// in-process by default; configuring a NATS URL extends it across daemon
// instances.
package events
