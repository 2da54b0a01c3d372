// Package mutate applies optimistic local state changes (tag membership and
// aggregate counts) and reconciles them with the account's durable store.
// The local cache is updated synchronously before the remote write; a failed
// remote write rolls every touched record back to its exact prior bytes.
package mutate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"skymirror/pkg/cache"
	"skymirror/pkg/keys"
	"skymirror/pkg/logger"
	"skymirror/pkg/models"
	"skymirror/pkg/remote"
)

var (
	// ErrTagNotFound reports a remove for a tagger/label pair that is not
	// recorded. This is a precondition violation; no remote call is made
	// and nothing is retried.
	ErrTagNotFound = errors.New("tag not found")
)

// WriteError reports a failed remote store write after the local optimistic
// change was rolled back.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("remote write failed for %s (local change rolled back): %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// SelfLocal is the conventional local id of an identity's own profile and
// aggregate records.
const SelfLocal = "self"

// Engine is the only writer of TagAggregate and CountAggregate records.
// Mutations for the same composite key are serialized by striped locks so
// concurrent read-modify-write sequences never interleave.
type Engine struct {
	store    *cache.Store
	client   remote.StoreClient
	identity string
	locks    stripes
}

// New builds an Engine for the given local identity. The identity is an
// explicit context object so multiple account contexts can coexist in one
// process.
func New(s *cache.Store, c remote.StoreClient, identity string) *Engine {
	return &Engine{store: s, client: c, identity: identity}
}

// NormalizeLabel trims and case-folds a tag label for comparison.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// snapshot remembers the exact prior encoded bytes of a record, or its
// absence, so rollback restores byte-for-byte state.
type snapshot struct {
	key     string
	value   []byte
	existed bool
}

func (e *Engine) snap(kind models.Kind, k keys.CompositeKey) (snapshot, error) {
	raw := cache.EntityKey(kind, k)
	v, ok, err := e.store.RawGet(raw)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{key: raw, value: v, existed: ok}, nil
}

func (e *Engine) rollback(snaps []snapshot) {
	writes := map[string][]byte{}
	var deletes []string
	for _, s := range snaps {
		if s.existed {
			writes[s.key] = s.value
		} else {
			deletes = append(deletes, s.key)
		}
	}
	if err := e.store.RawApply(writes, deletes); err != nil {
		// local persistence failure during rollback is logged and
		// re-surfaced via the store's own error path on next read
		logger.Error("mutation_rollback_failed", "error", err)
	}
	rollbackTotal.Inc()
}

func taggerCountsKey(taggerID string) (keys.CompositeKey, error) {
	return keys.Build(taggerID, SelfLocal)
}

// ApplyTagAdd records taggerID applying label to targetKey: optimistic local
// apply, then the remote write. Adding a label the tagger already applied is
// a no-op. On remote failure every touched record reverts; there is no
// partial rollback.
func (e *Engine) ApplyTagAdd(ctx context.Context, targetKey keys.CompositeKey, label, taggerID string) error {
	label = NormalizeLabel(label)
	if label == "" {
		return fmt.Errorf("%w: empty label", keys.ErrInvalidIdentifier)
	}
	tcKey, err := taggerCountsKey(taggerID)
	if err != nil {
		return err
	}

	unlock := e.locks.lock(targetKey.String(), tcKey.String())
	defer unlock()

	snaps, agg, err := e.loadTagState(targetKey, tcKey)
	if err != nil {
		return err
	}

	entry := agg.Entry(label)
	if entry != nil && entry.HasTagger(taggerID) {
		return nil
	}

	newLabel := entry == nil
	if newLabel {
		agg.Tags = append(agg.Tags, models.TagEntry{Label: label})
		entry = &agg.Tags[len(agg.Tags)-1]
	}
	entry.Taggers = append(entry.Taggers, taggerID)
	entry.TaggersCount = len(entry.Taggers)
	if taggerID == e.identity {
		entry.ByCurrentUser = true
	}

	deltas := countDeltas{target: map[string]int{models.CountTags: 1}, tagger: map[string]int{models.CountTagged: 1}}
	if newLabel {
		deltas.target[models.CountUniqueTags] = 1
	}

	if err := e.writeTagState(targetKey, tcKey, agg, deltas); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{"op": "tag_add", "label": label, "tagger": taggerID})
	if err := e.client.Write(ctx, keys.ToRemoteAddress("tag", targetKey), payload); err != nil {
		e.rollback(snaps)
		logger.Warn("tag_add_remote_failed", "target", targetKey.String(), "label", label, "error", err)
		return &WriteError{Op: "tag_add", Err: err}
	}
	logger.Debug("tag_added", "target", targetKey.String(), "label", label, "tagger", taggerID)
	return nil
}

// ApplyTagRemove removes taggerID's label from targetKey. A pair that is not
// recorded fails with ErrTagNotFound before any remote call.
func (e *Engine) ApplyTagRemove(ctx context.Context, targetKey keys.CompositeKey, label, taggerID string) error {
	label = NormalizeLabel(label)
	tcKey, err := taggerCountsKey(taggerID)
	if err != nil {
		return err
	}

	unlock := e.locks.lock(targetKey.String(), tcKey.String())
	defer unlock()

	snaps, agg, err := e.loadTagState(targetKey, tcKey)
	if err != nil {
		return err
	}

	entry := agg.Entry(label)
	if entry == nil || !entry.HasTagger(taggerID) {
		return fmt.Errorf("%w: label %q tagger %q on %s", ErrTagNotFound, label, taggerID, targetKey)
	}

	kept := entry.Taggers[:0]
	for _, t := range entry.Taggers {
		if t != taggerID {
			kept = append(kept, t)
		}
	}
	entry.Taggers = kept
	entry.TaggersCount = len(entry.Taggers)
	if taggerID == e.identity {
		entry.ByCurrentUser = false
	}
	labelGone := entry.TaggersCount == 0
	if labelGone {
		tags := agg.Tags[:0]
		for _, t := range agg.Tags {
			if t.Label != label {
				tags = append(tags, t)
			}
		}
		agg.Tags = tags
	}

	deltas := countDeltas{target: map[string]int{models.CountTags: -1}, tagger: map[string]int{models.CountTagged: -1}}
	if labelGone {
		deltas.target[models.CountUniqueTags] = -1
	}

	if err := e.writeTagState(targetKey, tcKey, agg, deltas); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{"op": "tag_remove", "label": label, "tagger": taggerID})
	if err := e.client.Write(ctx, keys.ToRemoteAddress("tag", targetKey), payload); err != nil {
		e.rollback(snaps)
		logger.Warn("tag_remove_remote_failed", "target", targetKey.String(), "label", label, "error", err)
		return &WriteError{Op: "tag_remove", Err: err}
	}
	logger.Debug("tag_removed", "target", targetKey.String(), "label", label, "tagger", taggerID)
	return nil
}

// ApplyStatusUpdate overwrites the local identity's profile status. Unlike
// the tag path the local cache is written only after the remote write is
// acknowledged: status is a whole-profile overwrite sourced from a full
// snapshot, and an in-flight failure must not leave a half-written profile.
func (e *Engine) ApplyStatusUpdate(ctx context.Context, ownerID, newStatus string) error {
	profileKey, err := keys.Build(ownerID, SelfLocal)
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]string{"op": "status", "status": newStatus})
	if err := e.client.Write(ctx, keys.ToRemoteAddress("user", profileKey), payload); err != nil {
		return &WriteError{Op: "status", Err: err}
	}

	unlock := e.locks.lock(profileKey.String())
	defer unlock()

	v, ok, err := e.store.Get(models.KindUser, profileKey)
	if err != nil {
		return err
	}
	if !ok {
		// nothing cached to overwrite; the next profile sync materializes it
		logger.Debug("status_update_no_cached_profile", "owner", ownerID)
		return nil
	}
	var u models.User
	if err := json.Unmarshal(v, &u); err != nil {
		return fmt.Errorf("corrupt cached profile for %s: %w", profileKey, err)
	}
	u.Status = newStatus
	nb, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return e.store.Put(models.KindUser, profileKey, nb)
}

type countDeltas struct {
	target map[string]int
	tagger map[string]int
}

// loadTagState snapshots and decodes the three records a tag mutation may
// touch: the target's tag aggregate and both count aggregates.
func (e *Engine) loadTagState(targetKey, tcKey keys.CompositeKey) ([]snapshot, *models.TagAggregate, error) {
	var snaps []snapshot
	for _, sk := range []struct {
		kind models.Kind
		key  keys.CompositeKey
	}{
		{models.KindTags, targetKey},
		{models.KindCounts, targetKey},
		{models.KindCounts, tcKey},
	} {
		s, err := e.snap(sk.kind, sk.key)
		if err != nil {
			return nil, nil, err
		}
		snaps = append(snaps, s)
	}

	agg := &models.TagAggregate{Key: targetKey}
	if snaps[0].existed {
		if err := json.Unmarshal(snaps[0].value, agg); err != nil {
			return nil, nil, fmt.Errorf("corrupt tag aggregate for %s: %w", targetKey, err)
		}
	}
	return snaps, agg, nil
}

// writeTagState persists the mutated aggregate and bumped counters in one
// atomic batch.
func (e *Engine) writeTagState(targetKey, tcKey keys.CompositeKey, agg *models.TagAggregate, deltas countDeltas) error {
	writes := map[string][]byte{}

	av, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	writes[cache.EntityKey(models.KindTags, targetKey)] = av

	counters := []struct {
		key    keys.CompositeKey
		deltas map[string]int
	}{
		{targetKey, deltas.target},
		{tcKey, deltas.tagger},
	}
	if tcKey == targetKey {
		// tagging one's own record: both delta sets land on one counter
		for name, d := range deltas.tagger {
			deltas.target[name] += d
		}
		counters = counters[:1]
	}
	for _, c := range counters {
		counts := models.CountAggregate{Key: c.key}
		if v, ok, err := e.store.Get(models.KindCounts, c.key); err != nil {
			return err
		} else if ok {
			if err := json.Unmarshal(v, &counts); err != nil {
				return fmt.Errorf("corrupt count aggregate for %s: %w", c.key, err)
			}
		}
		for name, d := range c.deltas {
			counts.Bump(name, d)
		}
		cv, err := json.Marshal(counts)
		if err != nil {
			return err
		}
		writes[cache.EntityKey(models.KindCounts, c.key)] = cv
	}

	return e.store.RawApply(writes, nil)
}
