// Package graph provides the directed, typed edge layer over brainy's
// nouns: AddVerb, GetVerb, DeleteVerb, and adjacency traversal, backed
// by storage-side sidecar indexes so it works uniformly over every
// pkg/store.Engine implementation rather than relying on an in-process
// map (which the object-store adapter can't maintain across
// instances).
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soulcraft-research/brainy/pkg/errs"
	"github.com/soulcraft-research/brainy/pkg/store"
)

const (
	verbPrefix     = "verbs/"
	bySourcePrefix = "verbs/_by_source/"
	byTargetPrefix = "verbs/_by_target/"
	nounPrefix     = "nouns/"
)

// Direction selects which side of a verb Adjacency traverses from.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
	Both     Direction = "both"
)

// Graph manages verbs and their adjacency over a storage adapter. It
// does not manage noun vectors itself (that is pkg/hnsw's job); it only
// verifies noun existence for placeholder creation and adjacency
// traversal.
type Graph struct {
	eng store.Engine
}

// New builds a Graph over eng.
func New(eng store.Engine) *Graph {
	return &Graph{eng: eng}
}

func verbKey(id store.VerbID) string   { return verbPrefix + string(id) }
func sourceKey(id store.NounID) string { return bySourcePrefix + string(id) }
func targetKey(id store.NounID) string { return byTargetPrefix + string(id) }
func nounKey(id store.NounID) string   { return nounPrefix + string(id) }

// AddVerb creates a verb from source to target. If either endpoint does
// not yet exist as a noun, a placeholder noun (zero vector,
// IsPlaceholder: true) is synthesized for it, per spec.md §4.E, rather
// than failing the call.
func (g *Graph) AddVerb(ctx context.Context, id store.VerbID, source, target store.NounID, verbType string, vec []float32, metadata map[string]any) (*store.Verb, error) {
	if err := g.ensureNoun(ctx, source); err != nil {
		return nil, err
	}
	if err := g.ensureNoun(ctx, target); err != nil {
		return nil, err
	}

	verb := &store.Verb{
		ID:       id,
		Source:   source,
		Target:   target,
		VerbType: verbType,
		Vector:   vec,
		Weight:   1.0,
		Metadata: metadata,
	}

	data, err := json.Marshal(verb)
	if err != nil {
		return nil, fmt.Errorf("graph: marshal verb: %w", err)
	}
	if err := g.eng.Put(ctx, verbKey(id), data); err != nil {
		return nil, err
	}

	if err := g.appendIndex(ctx, sourceKey(source), id); err != nil {
		return nil, err
	}
	if err := g.appendIndex(ctx, targetKey(target), id); err != nil {
		return nil, err
	}

	return verb, nil
}

// ensureNoun synthesizes a placeholder noun for id if it does not
// already exist. The caller's own facade is responsible for replacing a
// placeholder with a real noun on the first `add` for that id.
func (g *Graph) ensureNoun(ctx context.Context, id store.NounID) error {
	_, found, err := g.eng.Get(ctx, nounKey(id))
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	placeholder := store.Noun{ID: id}
	data, err := json.Marshal(placeholder)
	if err != nil {
		return fmt.Errorf("graph: marshal placeholder noun: %w", err)
	}
	if err := g.eng.Put(ctx, nounKey(id), data); err != nil {
		return err
	}

	md := store.NounMetadata{IsPlaceholder: true, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	mdData, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("graph: marshal placeholder metadata: %w", err)
	}
	return g.eng.Put(ctx, nounKey(id)+"/metadata", mdData)
}

func (g *Graph) appendIndex(ctx context.Context, key string, id store.VerbID) error {
	existing, found, err := g.eng.Get(ctx, key)
	if err != nil {
		return err
	}
	var ids []store.VerbID
	if found {
		if err := json.Unmarshal(existing, &ids); err != nil {
			return fmt.Errorf("graph: unmarshal index %q: %w", key, errs.Corruption)
		}
	}
	ids = append(ids, id)
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("graph: marshal index %q: %w", key, err)
	}
	return g.eng.Put(ctx, key, data)
}

func (g *Graph) removeFromIndex(ctx context.Context, key string, id store.VerbID) error {
	existing, found, err := g.eng.Get(ctx, key)
	if err != nil || !found {
		return err
	}
	var ids []store.VerbID
	if err := json.Unmarshal(existing, &ids); err != nil {
		return fmt.Errorf("graph: unmarshal index %q: %w", key, errs.Corruption)
	}
	filtered := ids[:0]
	for _, existingID := range ids {
		if existingID != id {
			filtered = append(filtered, existingID)
		}
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return fmt.Errorf("graph: marshal index %q: %w", key, err)
	}
	return g.eng.Put(ctx, key, data)
}

// GetVerb looks up a verb by id.
func (g *Graph) GetVerb(ctx context.Context, id store.VerbID) (*store.Verb, error) {
	data, found, err := g.eng.Get(ctx, verbKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.NotFound
	}
	var verb store.Verb
	if err := json.Unmarshal(data, &verb); err != nil {
		return nil, fmt.Errorf("graph: unmarshal verb %q: %w", id, errs.Corruption)
	}
	return &verb, nil
}

// DeleteVerb removes a verb and its adjacency index entries.
func (g *Graph) DeleteVerb(ctx context.Context, id store.VerbID) error {
	verb, err := g.GetVerb(ctx, id)
	if err != nil {
		if err == errs.NotFound {
			return nil
		}
		return err
	}

	if err := g.eng.Delete(ctx, verbKey(id)); err != nil {
		return err
	}
	if err := g.removeFromIndex(ctx, sourceKey(verb.Source), id); err != nil {
		return err
	}
	return g.removeFromIndex(ctx, targetKey(verb.Target), id)
}

// Adjacency returns the verbs incident to id in the given direction,
// optionally filtered to a single verb type.
func (g *Graph) Adjacency(ctx context.Context, id store.NounID, dir Direction, verbType string) ([]*store.Verb, error) {
	var ids []store.VerbID

	collect := func(key string) error {
		data, found, err := g.eng.Get(ctx, key)
		if err != nil || !found {
			return err
		}
		var keyIDs []store.VerbID
		if err := json.Unmarshal(data, &keyIDs); err != nil {
			return fmt.Errorf("graph: unmarshal index %q: %w", key, errs.Corruption)
		}
		ids = append(ids, keyIDs...)
		return nil
	}

	if dir == Outgoing || dir == Both {
		if err := collect(sourceKey(id)); err != nil {
			return nil, err
		}
	}
	if dir == Incoming || dir == Both {
		if err := collect(targetKey(id)); err != nil {
			return nil, err
		}
	}

	verbs := make([]*store.Verb, 0, len(ids))
	for _, vid := range ids {
		v, err := g.GetVerb(ctx, vid)
		if err != nil {
			if err == errs.NotFound {
				continue // index entry outlived the verb; skip rather than fail
			}
			return nil, err
		}
		if verbType != "" && v.VerbType != verbType {
			continue
		}
		verbs = append(verbs, v)
	}
	return verbs, nil
}
