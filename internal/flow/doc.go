// Package flow is the coordinator behind the request API. It admits a
// request through the resource manager, classifies it, builds the pipeline
// for its shape, and drives it to a terminal state, persisting the outcome
// and notifying the caches along the way.
package flow
