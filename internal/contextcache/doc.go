// Package contextcache layers three caches over context assembly results:
// an in-process LRU, an optional shared Redis level, and an optional
// durable on-disk level. Reads fall through the levels and promote hits
// upward; writes go through to every configured level. A failing level
// degrades silently so cache trouble never fails a request.
package contextcache
