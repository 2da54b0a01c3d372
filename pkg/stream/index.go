// Package stream maintains the persisted ordered membership of named
// streams ("followers of X", "notifications of Y"). It owns membership and
// order exclusively; entity payloads live in pkg/cache. Streams are stored
// as one entry record per member with a sortable position key, one
// membership marker per member for O(1) dedup, and one meta record pinning
// the stream's cursor kind.
package stream

import (
	"encoding/json"
	"fmt"
	"math"

	"skymirror/pkg/cache"
	"skymirror/pkg/keys"
	"skymirror/pkg/logger"
	"skymirror/pkg/models"
)

// Entry is one stream member with its ordering timestamp. Offset streams
// may carry TS zero.
type Entry struct {
	Key keys.CompositeKey `json:"key"`
	TS  int64             `json:"ts"`
}

type meta struct {
	CursorKind models.CursorKind `json:"cursor_kind"`
	NextPos    int64             `json:"next_pos"`
}

// Index is the stream membership layer over the shared cache substrate.
type Index struct {
	store *cache.Store
}

// New creates an Index over the given store.
func New(s *cache.Store) *Index {
	return &Index{store: s}
}

func metaKey(name string) string { return "stream:" + name + ":meta" }
func entryPrefix(name string) string { return "stream:" + name + ":e:" }
func memberKey(name string, k keys.CompositeKey) string {
	return "stream:" + name + ":m:" + k.String()
}

// sortKey yields the position component of an entry key. Watermark streams
// invert the timestamp so descending time sorts ascending; the composite key
// suffix keeps entries with equal timestamps distinct.
func sortKey(m meta, e Entry) string {
	if m.CursorKind == models.CursorWatermark {
		return fmt.Sprintf("%020d-%s", int64(math.MaxInt64)-e.TS, e.Key.String())
	}
	return fmt.Sprintf("%012d", m.NextPos)
}

func (x *Index) loadMeta(name string) (meta, bool, error) {
	v, ok, err := x.store.RawGet(metaKey(name))
	if err != nil || !ok {
		return meta{}, false, err
	}
	var m meta
	if err := json.Unmarshal(v, &m); err != nil {
		return meta{}, false, fmt.Errorf("corrupt stream meta for %q: %w", name, err)
	}
	return m, true, nil
}

// CursorKind reports the committed cursor kind of a stream, or ("", false)
// for a stream that does not exist yet.
func (x *Index) CursorKind(name string) (models.CursorKind, bool, error) {
	m, ok, err := x.loadMeta(name)
	if err != nil || !ok {
		return "", false, err
	}
	return m.CursorKind, true, nil
}

// Append concatenates entries onto the stream, preserving order and silently
// dropping any key already present anywhere in the stream. Calling it twice
// with the same entries is idempotent. The first append fixes the stream's
// cursor kind; appending with a different kind later is a programmer error.
func (x *Index) Append(name string, kind models.CursorKind, entries []Entry) error {
	m, existed, err := x.loadMeta(name)
	if err != nil {
		return err
	}
	if !existed {
		m = meta{CursorKind: kind}
	} else if m.CursorKind != kind {
		return fmt.Errorf("stream %q is %s-cursored, append with %s refused", name, m.CursorKind, kind)
	}

	writes := map[string][]byte{}
	appended := 0
	for _, e := range entries {
		mk := memberKey(name, e.Key)
		if _, dup := writes[mk]; dup {
			continue
		}
		_, present, err := x.store.RawGet(mk)
		if err != nil {
			return err
		}
		if present {
			continue
		}
		sk := sortKey(m, e)
		ev, err := json.Marshal(e)
		if err != nil {
			return err
		}
		writes[entryPrefix(name)+sk] = ev
		writes[mk] = []byte(sk)
		m.NextPos++
		appended++
	}
	if appended == 0 && existed {
		return nil
	}
	mv, err := json.Marshal(m)
	if err != nil {
		return err
	}
	writes[metaKey(name)] = mv
	if err := x.store.RawApply(writes, nil); err != nil {
		logger.Error("stream_append_failed", "stream", name, "error", err)
		return err
	}
	logger.Debug("stream_appended", "stream", name, "appended", appended, "offered", len(entries))
	return nil
}

// Replace drops the stream and writes entries fresh. Used only for disjoint
// bootstrap creation.
func (x *Index) Replace(name string, kind models.CursorKind, entries []Entry) error {
	if err := x.Delete(name); err != nil {
		return err
	}
	return x.Append(name, kind, entries)
}

// Delete removes the stream's meta, entries, and membership markers.
func (x *Index) Delete(name string) error {
	recs, err := x.store.ScanPrefix("stream:"+name+":", 0)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	deletes := make([]string, 0, len(recs))
	for _, r := range recs {
		deletes = append(deletes, r.Key)
	}
	return x.store.RawApply(nil, deletes)
}

// Read returns up to limit entries starting at cursor: by skip count for
// offset streams, or strictly older than the watermark for watermark
// streams. A stream that does not exist reads as empty.
func (x *Index) Read(name string, cursor models.Cursor, limit int) ([]Entry, error) {
	m, ok, err := x.loadMeta(name)
	if err != nil || !ok {
		return nil, err
	}
	if m.CursorKind != cursor.Kind {
		return nil, fmt.Errorf("stream %q is %s-cursored, read with %s refused", name, m.CursorKind, cursor.Kind)
	}
	if limit <= 0 {
		return nil, nil
	}

	// Offset reads only need the first offset+limit entries; watermark
	// reads filter on TS while scanning.
	scanLimit := 0
	if m.CursorKind == models.CursorOffset {
		scanLimit = cursor.Offset + limit
	}
	recs, err := x.store.ScanPrefix(entryPrefix(name), scanLimit)
	if err != nil {
		return nil, err
	}

	var out []Entry
	skip := cursor.Offset
	for _, r := range recs {
		var e Entry
		if err := json.Unmarshal(r.Value, &e); err != nil {
			return nil, fmt.Errorf("corrupt stream entry %q: %w", r.Key, err)
		}
		if m.CursorKind == models.CursorWatermark {
			if e.TS >= cursor.OlderThan {
				continue
			}
		} else if skip > 0 {
			skip--
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CountNewer counts entries with TS strictly greater than ts. Only
// meaningful for watermark streams, where entries sort newest first.
func (x *Index) CountNewer(name string, ts int64) (int, error) {
	m, ok, err := x.loadMeta(name)
	if err != nil || !ok {
		return 0, err
	}
	if m.CursorKind != models.CursorWatermark {
		return 0, fmt.Errorf("stream %q is not watermark-cursored", name)
	}
	recs, err := x.store.ScanPrefix(entryPrefix(name), 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		var e Entry
		if err := json.Unmarshal(r.Value, &e); err != nil {
			return 0, fmt.Errorf("corrupt stream entry %q: %w", r.Key, err)
		}
		if e.TS <= ts {
			break
		}
		n++
	}
	return n, nil
}

// Trim drops every entry past keep positions from the front and returns the
// composite keys of the dropped members. Used by the retention sweeper.
func (x *Index) Trim(name string, keep int) ([]keys.CompositeKey, error) {
	if keep < 0 {
		keep = 0
	}
	recs, err := x.store.ScanPrefix(entryPrefix(name), 0)
	if err != nil {
		return nil, err
	}
	if len(recs) <= keep {
		return nil, nil
	}
	var dropped []keys.CompositeKey
	var deletes []string
	for _, r := range recs[keep:] {
		var e Entry
		if err := json.Unmarshal(r.Value, &e); err != nil {
			return nil, fmt.Errorf("corrupt stream entry %q: %w", r.Key, err)
		}
		dropped = append(dropped, e.Key)
		deletes = append(deletes, r.Key, memberKey(name, e.Key))
	}
	if err := x.store.RawApply(nil, deletes); err != nil {
		return nil, err
	}
	logger.Info("stream_trimmed", "stream", name, "dropped", len(dropped), "kept", keep)
	return dropped, nil
}

// Names lists every stream present in the store.
func (x *Index) Names() ([]string, error) {
	recs, err := x.store.ScanPrefix("stream:", 0)
	if err != nil {
		return nil, err
	}
	var out []string
	seen := map[string]struct{}{}
	for _, r := range recs {
		// stream:<name>:meta
		rest := r.Key[len("stream:"):]
		i := len(rest) - len(":meta")
		if i <= 0 || rest[i:] != ":meta" {
			continue
		}
		name := rest[:i]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out, nil
}
