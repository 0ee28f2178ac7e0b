// Package cache provides the in-memory stores used by warp-weather.
//
// Bounded is the main store: a fixed-capacity, fixed-TTL cache with least
// recently used eviction and lazy expiry. It never runs background
// goroutines; stale entries are dropped when read or when capacity pressure
// evicts them. Expiring is a small ristretto-backed map for short-lived
// advisory data.
package cache
