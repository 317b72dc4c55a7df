package sys

import (
	"sync"
	"sync/atomic"
)

// preallocCache caches preallocation capability per device id so fstatfs is
// only issued once per mount.
var preallocCache sync.Map

var (
	preallocCacheHits   atomic.Uint64
	preallocCacheMisses atomic.Uint64
	preallocSuccesses   atomic.Uint64
	preallocFailures    atomic.Uint64
	preallocUnsupported atomic.Uint64
)

func preallocCacheLoad(dev uint64) (allowed bool, found bool) {
	if v, ok := preallocCache.Load(dev); ok {
		if b, ok2 := v.(bool); ok2 {
			return b, true
		}
	}
	return false, false
}

func preallocCacheStore(dev uint64, allowed bool) {
	preallocCache.Store(dev, allowed)
}

// PreallocStats is a snapshot of the package preallocation counters.
type PreallocStats struct {
	CacheHits   uint64
	CacheMisses uint64
	Successes   uint64
	Failures    uint64
	Unsupported uint64
}

// ReadPreallocStats returns the current preallocation counters.
func ReadPreallocStats() PreallocStats {
	return PreallocStats{
		CacheHits:   preallocCacheHits.Load(),
		CacheMisses: preallocCacheMisses.Load(),
		Successes:   preallocSuccesses.Load(),
		Failures:    preallocFailures.Load(),
		Unsupported: preallocUnsupported.Load(),
	}
}

// recordPrealloc classifies the outcome of a Preallocate call.
func recordPrealloc(err error) error {
	switch {
	case err == nil:
		preallocSuccesses.Add(1)
	case err == ErrPreallocNotSupported:
		preallocUnsupported.Add(1)
	default:
		preallocFailures.Add(1)
	}
	return err
}
