// Package resource provides bounded concurrency pools for the request
// pipeline. Every unit of concurrent work (an admitted request, a model
// call, a tool invocation, a context gathering fan-out) holds a ticket from
// the matching pool; pools resize at runtime so the daemon can shed load
// when the health checker reports pressure.
package resource
