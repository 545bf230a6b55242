package fn

import (
	"context"
	"sync"
)

// ParMap applies f to every item using at most workers goroutines and
// returns the outputs in input order. workers <= 0 means one goroutine
// per item.
func ParMap[T, U any](items []T, workers int, f func(T) U) []U {
	out := make([]U, len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	idx := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range idx {
				out[i] = f(items[i])
			}
		}()
	}
	for i := range items {
		idx <- i
	}
	close(idx)
	wg.Wait()
	return out
}

// SettleMap runs f once per key with bounded concurrency and returns
// only after every call has settled. Per-key failures stay in the map
// as Err entries; the aggregate itself never fails. A cancelled ctx
// short-circuits keys that have not started yet.
func SettleMap[K comparable, V any](ctx context.Context, keys []K, workers int, f func(context.Context, K) Result[V]) map[K]Result[V] {
	settled := ParMap(keys, workers, func(k K) Result[V] {
		if err := ctx.Err(); err != nil {
			return Err[V](err)
		}
		return f(ctx, k)
	})

	out := make(map[K]Result[V], len(keys))
	for i, k := range keys {
		out[k] = settled[i]
	}
	return out
}
