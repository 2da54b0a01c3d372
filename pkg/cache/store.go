// Package cache is the persisted entity cache: keyed storage for every
// entity kind over a single Pebble database, plus the change-signal bus the
// presentation layer subscribes to. It owns entity payload storage
// exclusively; stream membership lives in pkg/stream on the same substrate.
package cache

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/pebble"

	"skymirror/pkg/keys"
	"skymirror/pkg/logger"
	"skymirror/pkg/models"
)

// Record pairs a composite key with its encoded entity payload.
type Record struct {
	Key   keys.CompositeKey
	Value []byte
}

// Store is one account's local cache instance. All components share a single
// Store; read-modify-write sequences are expressed as whole-record store
// operations so tasks never alias interior state.
type Store struct {
	db      *pebble.DB
	signals *Bus
}

// Open opens (or creates) the Pebble database at path.
func Open(path string) (*Store, error) {
	logger.Info("opening_cache_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("cache_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("cache_opened", "path", path)
	return &Store{db: db, signals: NewBus()}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Info("cache_closed")
	return nil
}

// Signals exposes the change-notification bus for subscribers.
func (s *Store) Signals() *Bus { return s.signals }

// EntityKey renders the raw storage key for an entity record. Exposed for
// components that batch entity writes atomically through RawApply.
func EntityKey(kind models.Kind, key keys.CompositeKey) string {
	return "ent:" + string(kind) + ":" + key.String()
}

func entityKey(kind models.Kind, key keys.CompositeKey) []byte {
	return []byte(EntityKey(kind, key))
}

// Get returns the encoded entity for (kind, key), or (nil, false) when not
// cached. It never touches the network.
func (s *Store) Get(kind models.Kind, key keys.CompositeKey) ([]byte, bool, error) {
	v, closer, err := s.db.Get(entityKey(kind, key))
	if err == pebble.ErrNotFound {
		missTotal.WithLabelValues(string(kind)).Inc()
		return nil, false, nil
	}
	if err != nil {
		logger.Error("cache_get_failed", "kind", kind, "key", key.String(), "error", err)
		return nil, false, err
	}
	defer closer.Close()
	hitTotal.WithLabelValues(string(kind)).Inc()
	out := append([]byte(nil), v...)
	return out, true, nil
}

// PutMany upserts a batch of entities atomically; last write wins per key.
func (s *Store) PutMany(kind models.Kind, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, r := range records {
		if err := b.Set(entityKey(kind, r.Key), r.Value, nil); err != nil {
			return fmt.Errorf("batch set %s: %w", r.Key, err)
		}
	}
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		logger.Error("cache_put_many_failed", "kind", kind, "count", len(records), "error", err)
		return err
	}
	putTotal.WithLabelValues(string(kind)).Add(float64(len(records)))
	for _, r := range records {
		s.signals.Notify("ent:" + string(kind) + ":" + r.Key.String())
	}
	return nil
}

// Put upserts a single entity.
func (s *Store) Put(kind models.Kind, key keys.CompositeKey, value []byte) error {
	return s.PutMany(kind, []Record{{Key: key, Value: value}})
}

// Delete removes an entity; deleting an absent key is not an error.
func (s *Store) Delete(kind models.Kind, key keys.CompositeKey) error {
	if err := s.db.Delete(entityKey(kind, key), pebble.Sync); err != nil {
		logger.Error("cache_delete_failed", "kind", kind, "key", key.String(), "error", err)
		return err
	}
	s.signals.Notify("ent:" + string(kind) + ":" + key.String())
	return nil
}

// MissingKeys returns the subset of ks not present locally for kind,
// preserving input order. This is a pure read used to decide what a caller
// must fetch; it never triggers network activity itself.
func (s *Store) MissingKeys(kind models.Kind, ks []keys.CompositeKey) ([]keys.CompositeKey, error) {
	var missing []keys.CompositeKey
	for _, k := range ks {
		_, closer, err := s.db.Get(entityKey(kind, k))
		if err == pebble.ErrNotFound {
			missing = append(missing, k)
			continue
		}
		if err != nil {
			return nil, err
		}
		closer.Close()
	}
	return missing, nil
}

// RawGet reads an arbitrary key. Callers outside this package should stay in
// a safe namespace (e.g. "stream:").
func (s *Store) RawGet(key string) ([]byte, bool, error) {
	v, closer, err := s.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), true, nil
}

// RawSet writes an arbitrary key and emits a change signal for it.
func (s *Store) RawSet(key string, value []byte) error {
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		logger.Error("cache_raw_set_failed", "key", key, "error", err)
		return err
	}
	s.signals.Notify(key)
	return nil
}

// RawDelete removes an arbitrary key.
func (s *Store) RawDelete(key string) error {
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return err
	}
	s.signals.Notify(key)
	return nil
}

// RawApply applies a prepared batch of raw writes atomically, then emits one
// signal per touched key.
func (s *Store) RawApply(writes map[string][]byte, deletes []string) error {
	b := s.db.NewBatch()
	defer b.Close()
	for k, v := range writes {
		if err := b.Set([]byte(k), v, nil); err != nil {
			return err
		}
	}
	for _, k := range deletes {
		if err := b.Delete([]byte(k), nil); err != nil {
			return err
		}
	}
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		return err
	}
	for k := range writes {
		s.signals.Notify(k)
	}
	for _, k := range deletes {
		s.signals.Notify(k)
	}
	return nil
}

// RawRecord is a raw key/value pair from ScanPrefix.
type RawRecord struct {
	Key   string
	Value []byte
}

// ScanPrefix returns key/value pairs whose keys start with prefix, in key
// order, up to max pairs (max <= 0 means no limit).
func (s *Store) ScanPrefix(prefix string, max int) ([]RawRecord, error) {
	pfx := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []RawRecord
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, RawRecord{
			Key:   string(append([]byte(nil), iter.Key()...)),
			Value: append([]byte(nil), iter.Value()...),
		})
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, iter.Error()
}
