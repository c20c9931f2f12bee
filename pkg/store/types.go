// Package store defines the content-addressed key/value contract that
// backs every brainy collection, plus three concrete adapters: an
// in-memory map, a local filesystem tree, and an S3-compatible object
// store.
package store

import (
	"context"
	"iter"
)

// Engine is the storage adapter contract every backend implements.
// Keys are opaque strings; callers (pkg/brainy, pkg/graph, pkg/stats)
// impose their own path conventions on top (e.g. "nouns/<id>",
// "verbs/_by_source/<id>").
type Engine interface {
	// Put writes data at key, overwriting any existing value.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the value at key. found is false, err is nil when the
	// key simply does not exist; a non-nil err indicates a genuine
	// failure (I/O error, corruption).
	Get(ctx context.Context, key string) (data []byte, found bool, err error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns an iterator over all keys sharing prefix. Order is
	// not guaranteed.
	List(ctx context.Context, prefix string) (iter.Seq[string], error)

	// PutIfAbsent writes data at key only if no value currently exists
	// there, atomically with respect to other PutIfAbsent/Delete calls
	// on the same key. created is false (with a nil error) when the key
	// was already present.
	PutIfAbsent(ctx context.Context, key string, data []byte) (created bool, err error)

	// EstimateSize reports the adapter's approximate footprint. The
	// cache tiers do not consult it; they are sized from config.
	EstimateSize(ctx context.Context) (SizeEstimate, error)

	// Close releases any resources held by the adapter (file handles,
	// HTTP clients). The adapters in this package return nil from Close
	// and do not reject calls made after it.
	Close() error
}

// SizeEstimate reports an adapter's approximate resource usage.
type SizeEstimate struct {
	Keys       int64
	Bytes      int64
	Approximate bool
}
