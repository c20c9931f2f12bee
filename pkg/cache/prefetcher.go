package cache

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Fetcher is the minimal collaborator Prefetch needs: something that
// can load a value by id, typically pkg/store.Engine.Get wrapped by the
// facade's deserialization step.
type Fetcher func(ctx context.Context, id string) error

// Prefetch fires concurrent loads for ids through fetch, at most 8 at a
// time. Its caller is brainy's Database.Search, which passes the
// candidate ids the HNSW search returned so their metadata is already in
// the warm cache when the per-hit loop reads it; the HNSW index itself
// does not call Prefetch during descent. Errors from individual fetches
// are swallowed — a failed prefetch just means that id gets fetched
// again on demand.
func Prefetch(ctx context.Context, ids []string, fetch Fetcher) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_ = fetch(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}
