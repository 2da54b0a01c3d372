// Package syncer is the pagination and cache-reconciliation engine. A page
// request is classified as a full, partial, or missed cache hit; partial
// hits and misses are completed from the index, merged, deduplicated, and
// persisted entity-first so a returned page never points at an entity the
// cache does not hold.
package syncer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"skymirror/pkg/cache"
	"skymirror/pkg/keys"
	"skymirror/pkg/logger"
	"skymirror/pkg/models"
	"skymirror/pkg/remote"
	"skymirror/pkg/stream"
)

// Page is one reconciled slice of a stream.
type Page struct {
	Keys       []keys.CompositeKey
	NextCursor models.Cursor
	// EndOfStream is set when the index had nothing past the cursor.
	// Repeated empty remote responses are treated as end-of-stream.
	EndOfStream bool
}

// Synchronizer reconciles local stream state with the index.
type Synchronizer struct {
	store  *cache.Store
	index  *stream.Index
	client remote.IndexClient
}

// New wires a Synchronizer over the shared cache and stream substrate.
func New(s *cache.Store, x *stream.Index, c remote.IndexClient) *Synchronizer {
	return &Synchronizer{store: s, index: x, client: c}
}

// GetPage serves up to limit stream members starting at cursor. Pages never
// contain duplicate keys, and advancing cursors never re-return a key when
// the stream is not mutated between calls.
func (s *Synchronizer) GetPage(ctx context.Context, streamName string, cursor models.Cursor, limit int) (Page, error) {
	if limit <= 0 {
		return Page{NextCursor: cursor}, nil
	}

	local, err := s.index.Read(streamName, cursor, limit)
	if err != nil {
		return Page{}, fmt.Errorf("local stream read: %w", err)
	}

	// Full hit: the whole page is already materialized locally.
	if len(local) == limit {
		pageTotal.WithLabelValues("full").Inc()
		return s.assemble(cursor, local, false), nil
	}

	if len(local) > 0 {
		pageTotal.WithLabelValues("partial").Inc()
	} else {
		pageTotal.WithLabelValues("miss").Inc()
	}

	// Continue from the position implied by the last local entry, or from
	// the caller's cursor on a miss.
	remaining := limit - len(local)
	fetchCursor := advance(cursor, local)
	records, err := s.client.FetchStreamPage(ctx, streamName, fetchCursor, remaining)
	if err != nil {
		return Page{}, &FetchError{Stream: streamName, Local: local, Err: err}
	}

	// An abandoned caller must not observe half-written state: nothing has
	// been persisted yet, so bail out cleanly here.
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	fetched, err := s.persist(ctx, streamName, cursor.Kind, records)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			fe.Stream = streamName
			fe.Local = local
		}
		return Page{}, err
	}

	// Merge local + remote, dedup by key with local entries winning: the
	// index may re-include an item the cache already holds when its
	// watermark granularity is coarser than ours.
	merged := local
	seen := make(map[string]struct{}, len(local))
	for _, e := range local {
		seen[e.Key.String()] = struct{}{}
	}
	for _, e := range fetched {
		if _, dup := seen[e.Key.String()]; dup {
			continue
		}
		seen[e.Key.String()] = struct{}{}
		merged = append(merged, e)
	}

	return s.assemble(cursor, merged, len(records) == 0), nil
}

// assemble derives the page and its next cursor from the returned entries.
func (s *Synchronizer) assemble(cursor models.Cursor, entries []stream.Entry, end bool) Page {
	p := Page{NextCursor: advance(cursor, entries), EndOfStream: end}
	for _, e := range entries {
		p.Keys = append(p.Keys, e.Key)
	}
	return p
}

// advance computes the cursor past the given entries. Watermark cursors
// strictly decrease past the last entry's timestamp (one tick) so the
// boundary item is never re-returned; entities sharing that timestamp are
// handled by key dedup at the stream append layer, not here.
func advance(cursor models.Cursor, entries []stream.Entry) models.Cursor {
	if len(entries) == 0 {
		return cursor
	}
	next := cursor
	switch cursor.Kind {
	case models.CursorWatermark:
		next.OlderThan = entries[len(entries)-1].TS - 1
	default:
		next.Offset = cursor.Offset + len(entries)
	}
	return next
}

// persist materializes freshly fetched records: referenced entities are
// backfilled and the records themselves written to the entity cache before
// any stream membership is recorded, so no consumer can observe a stream
// entry pointing at an absent entity.
func (s *Synchronizer) persist(ctx context.Context, streamName string, kind models.CursorKind, records []models.RemoteEntityRecord) ([]stream.Entry, error) {
	if len(records) == 0 {
		return nil, nil
	}

	type normalized struct {
		kind  models.Kind
		key   keys.CompositeKey
		value []byte
		ts    int64
	}
	norm := make([]normalized, 0, len(records))
	for _, r := range records {
		key, value, err := r.Normalize()
		if err != nil {
			return nil, fmt.Errorf("normalize %q: %w", r.Address, err)
		}
		norm = append(norm, normalized{kind: r.Kind, key: key, value: value, ts: r.OrderingTimestamp()})
	}

	if err := s.Backfill(ctx, records); err != nil {
		return nil, err
	}

	byKind := map[models.Kind][]cache.Record{}
	for _, n := range norm {
		byKind[n.kind] = append(byKind[n.kind], cache.Record{Key: n.key, Value: n.value})
	}
	for k, recs := range byKind {
		if err := s.store.PutMany(k, recs); err != nil {
			return nil, fmt.Errorf("persist %s entities: %w", k, err)
		}
	}

	entries := make([]stream.Entry, 0, len(norm))
	for _, n := range norm {
		entries = append(entries, stream.Entry{Key: n.key, TS: n.ts})
	}
	if err := s.index.Append(streamName, kind, entries); err != nil {
		return nil, fmt.Errorf("stream append: %w", err)
	}
	return entries, nil
}

// Backfill fetches and persists every entity the given records reference
// that is not yet cached. Distinct kinds fetch concurrently but all joins
// complete before Backfill returns. Referenced entities are persisted but
// not themselves expanded: fan-out is bounded to one hop per page.
func (s *Synchronizer) Backfill(ctx context.Context, records []models.RemoteEntityRecord) error {
	addrByKey := map[models.Kind]map[string]string{}
	for _, r := range records {
		for _, ref := range r.References() {
			k, ok := keys.FromRemoteAddress(ref.Address)
			if !ok {
				logger.Warn("backfill_unrecognized_address", "address", ref.Address)
				continue
			}
			if addrByKey[ref.Kind] == nil {
				addrByKey[ref.Kind] = map[string]string{}
			}
			addrByKey[ref.Kind][k.String()] = ref.Address
		}
	}
	if len(addrByKey) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for kind, addrs := range addrByKey {
		kind, addrs := kind, addrs
		g.Go(func() error {
			ks := make([]keys.CompositeKey, 0, len(addrs))
			for ser := range addrs {
				k, err := keys.Parse(ser)
				if err != nil {
					return err
				}
				ks = append(ks, k)
			}
			missing, err := s.store.MissingKeys(kind, ks)
			if err != nil {
				return err
			}
			if len(missing) == 0 {
				return nil
			}
			fetchAddrs := make([]string, 0, len(missing))
			for _, m := range missing {
				fetchAddrs = append(fetchAddrs, addrs[m.String()])
			}
			fetched, err := s.client.FetchEntitiesByKey(gctx, kind, fetchAddrs)
			if err != nil {
				return &FetchError{Err: fmt.Errorf("backfill %s: %w", kind, err)}
			}
			recs := make([]cache.Record, 0, len(fetched))
			for _, fr := range fetched {
				key, value, err := fr.Normalize()
				if err != nil {
					return fmt.Errorf("normalize backfilled %q: %w", fr.Address, err)
				}
				recs = append(recs, cache.Record{Key: key, Value: value})
			}
			backfillFetchTotal.WithLabelValues(string(kind)).Add(float64(len(recs)))
			return s.store.PutMany(kind, recs)
		})
	}
	return g.Wait()
}
