// Package assemble fans context fetches out across the registered source
// adapters under per-source and overall deadlines, then scrubs, scores,
// and packs what came back into a token-budgeted bundle. Results are
// cached per conversation; assembly fails only when every source fails.
package assemble
