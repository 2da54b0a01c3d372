package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"skymirror/pkg/cache"
	"skymirror/pkg/keys"
	"skymirror/pkg/models"
)

// MaxAncestorDepth bounds reply-parent traversal. Chains are walked
// iteratively over explicit parent keys; the bound keeps traversal
// terminating even on cyclic or absurdly deep reply graphs.
const MaxAncestorDepth = 16

// Ancestors walks the reply-parent chain of post, oldest last, fetching
// uncached ancestors from the index as it goes. The walk stops at the root,
// at MaxAncestorDepth, at a cycle, or at a parent the index does not know.
func (s *Synchronizer) Ancestors(ctx context.Context, post keys.CompositeKey) ([]keys.CompositeKey, error) {
	var chain []keys.CompositeKey
	seen := map[string]struct{}{post.String(): {}}
	current := post

	for depth := 0; depth < MaxAncestorDepth; depth++ {
		p, ok, err := s.cachedPost(ctx, current)
		if err != nil {
			return chain, err
		}
		if !ok || p.ParentKey == nil {
			return chain, nil
		}
		parent := *p.ParentKey
		if _, cyclic := seen[parent.String()]; cyclic {
			return chain, nil
		}
		seen[parent.String()] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

// cachedPost loads a post, completing from the index on a miss. The fetched
// snapshot is persisted before it is returned.
func (s *Synchronizer) cachedPost(ctx context.Context, key keys.CompositeKey) (models.Post, bool, error) {
	v, ok, err := s.store.Get(models.KindPost, key)
	if err != nil {
		return models.Post{}, false, err
	}
	if !ok {
		addr := keys.ToRemoteAddress("post", key)
		fetched, err := s.client.FetchEntitiesByKey(ctx, models.KindPost, []string{addr})
		if err != nil {
			return models.Post{}, false, &FetchError{Err: fmt.Errorf("ancestor fetch %s: %w", key, err)}
		}
		if len(fetched) == 0 {
			return models.Post{}, false, nil
		}
		fk, fv, err := fetched[0].Normalize()
		if err != nil {
			return models.Post{}, false, fmt.Errorf("normalize ancestor %q: %w", fetched[0].Address, err)
		}
		if err := s.store.PutMany(models.KindPost, []cache.Record{{Key: fk, Value: fv}}); err != nil {
			return models.Post{}, false, err
		}
		v = fv
	}
	var p models.Post
	if err := json.Unmarshal(v, &p); err != nil {
		return models.Post{}, false, fmt.Errorf("corrupt cached post %s: %w", key, err)
	}
	return p, true, nil
}
