// Package repository implements the local-first orchestration of the user
// collection: serve the cache, refresh from the remote source, persist the
// fresh collection on a best-effort basis.
//
// # Cache then sync
//
// GetCachedThenSync may invoke its callback twice:
//
//	repo.GetCachedThenSync(ctx, func(res repository.Result) {
//	    if res.Err != nil {
//	        // only reached when nothing was served from the cache
//	        return
//	    }
//	    fmt.Println(res.Origin, len(res.Records))
//	})
//
// The cache emission, when the cache holds a non-empty collection, always
// precedes the remote one. A remote failure is reported only when the cache
// had nothing to offer; otherwise the cached emission stands.
//
// # Persistence
//
// Fetched collections are written to the store through a single writer
// queue, so concurrent calls never overlap their writes. A failed write is
// logged and otherwise ignored: the fetched collection is still reported.
//
// # Liveness
//
// Close invalidates every call issued before it. Callbacks of those calls
// that have not fired yet are dropped, and calls issued after Close never
// invoke their callback.
package repository
