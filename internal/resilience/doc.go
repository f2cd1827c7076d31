// Package resilience wraps calls to external dependencies with retry
// policies and circuit breakers. Retries use exponential backoff with
// jitter; breakers stop hammering a dependency that keeps failing and
// probe it with a single call once a cooldown elapses.
package resilience
