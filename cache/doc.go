// Package cache implements the multi-tier caching engine placed in front of
// the coaching backend's generation services.
//
// # Tiers
//
// The first tier (L1) is an in-process store partitioned into independently
// locked shards, so operations on keys in different shards never contend on
// a shared lock. The second tier (L2) is an optional [RemoteStore] — the
// reference implementation is [RedisStore] — used strictly best-effort: a
// remote failure degrades the engine to L1-only behavior and is never
// surfaced to callers. Repeated consecutive failures disable the remote
// tier for the remainder of the session until [Engine.ResetRemote].
//
// Reads check L1 first and fall back to L2, promoting a remote hit into L1.
// Writes land in L1 unconditionally (evicting first when over the byte
// budget) and in L2 opportunistically with the same TTL.
//
// # Values
//
// Values are serialized with msgpack. Serialized payloads above the
// compression threshold are gzip-compressed, and the compressed form is
// kept only when it is strictly smaller. Compression is transparent to
// callers. [GetAs] provides typed retrieval:
//
//	found, plan := cache.GetAs[MealPlan](ctx, engine, "plan:user42:week1")
//
// # Eviction
//
// When an insert would exceed the byte budget, expired entries are removed
// first, then live entries in the order given by the configured policy:
// [PolicyLRU], [PolicyLFU], [PolicyFIFO], or [PolicyHybrid], which scores
// entries by weighted recency and inverse access frequency.
//
// # Patterns
//
// Keys can be registered under a pattern at write time with [WithPattern];
// [Engine.InvalidatePattern] then removes the group from both tiers. A
// pattern containing glob syntax (* or ?) is compiled once at registration
// and additionally matched against the L1 and L2 keyspaces. Keys registered
// with [WithPrefetchKeys] trigger a background warm-up of their related
// keys from L2 when read near the end of their TTL.
//
// # Errors
//
// Other than invalid construction parameters ([ErrInvalidConfig]) and
// unencodable values ([ErrSerialization] from Set), no operation returns an
// error: Get reports a miss, Flush reports success, and InvalidatePattern
// returns however many keys it processed. All absorbed failures are counted
// in the [Snapshot] returned by [Engine.Stats].
package cache
