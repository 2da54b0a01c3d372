package models

import (
	"encoding/json"
	"fmt"

	"skymirror/pkg/keys"
)

// RemoteEntityRecord is the closed tagged variant the index returns. The
// remote schema is duck-typed; normalization into the fixed Entity variants
// happens once, at the ingestion boundary, so the reconciliation engine
// never sees remote shapes.
type RemoteEntityRecord struct {
	Kind    Kind            `json:"kind"`
	Address string          `json:"address"`
	Payload json.RawMessage `json:"payload"`
}

// Key maps the record's canonical address to a local composite key.
func (r RemoteEntityRecord) Key() (keys.CompositeKey, bool) {
	return keys.FromRemoteAddress(r.Address)
}

// Reference is a cross-reference extracted from a fetched record: another
// entity that must exist locally before the referencing record is visible.
type Reference struct {
	Kind    Kind
	Address string
}

// refPayload is the subset of remote payload fields that can carry
// cross-references, shared by post and notification shapes.
type refPayload struct {
	Parent   string `json:"parent,omitempty"`
	RepostOf string `json:"repost_of,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Actor    string `json:"actor,omitempty"`
}

// References extracts the record's cross-references. Unrecognized or absent
// fields contribute nothing; extraction never fails on schema drift.
func (r RemoteEntityRecord) References() []Reference {
	var p refPayload
	if err := json.Unmarshal(r.Payload, &p); err != nil {
		return nil
	}
	var out []Reference
	add := func(kind Kind, addr string) {
		if addr == "" {
			return
		}
		out = append(out, Reference{Kind: kind, Address: addr})
	}
	add(KindPost, p.Parent)
	add(KindPost, p.RepostOf)
	add(KindPost, p.Subject)
	add(KindUser, p.Actor)
	return out
}

// Normalize converts the remote record into the local entity encoding for
// its kind. The returned bytes are what EntityCacheStore persists.
func (r RemoteEntityRecord) Normalize() (keys.CompositeKey, []byte, error) {
	key, ok := r.Key()
	if !ok {
		return keys.CompositeKey{}, nil, fmt.Errorf("unrecognized remote address %q", r.Address)
	}
	switch r.Kind {
	case KindPost:
		var p struct {
			Author    string `json:"author"`
			Text      string `json:"text"`
			Parent    string `json:"parent,omitempty"`
			RepostOf  string `json:"repost_of,omitempty"`
			IndexedAt int64  `json:"indexed_at"`
		}
		if err := json.Unmarshal(r.Payload, &p); err != nil {
			return key, nil, fmt.Errorf("invalid post payload: %w", err)
		}
		post := Post{Key: key, Author: p.Author, Text: p.Text, IndexedAt: p.IndexedAt}
		if k, ok := keys.FromRemoteAddress(p.Parent); ok {
			post.ParentKey = &k
		}
		if k, ok := keys.FromRemoteAddress(p.RepostOf); ok {
			post.RepostOf = &k
		}
		b, err := json.Marshal(post)
		return key, b, err
	case KindUser:
		var u struct {
			Handle      string `json:"handle"`
			DisplayName string `json:"display_name,omitempty"`
			Status      string `json:"status,omitempty"`
			IndexedAt   int64  `json:"indexed_at"`
		}
		if err := json.Unmarshal(r.Payload, &u); err != nil {
			return key, nil, fmt.Errorf("invalid user payload: %w", err)
		}
		b, err := json.Marshal(User{Key: key, Handle: u.Handle, DisplayName: u.DisplayName, Status: u.Status, IndexedAt: u.IndexedAt})
		return key, b, err
	case KindTags:
		var a TagAggregate
		if err := json.Unmarshal(r.Payload, &a); err != nil {
			return key, nil, fmt.Errorf("invalid tag aggregate payload: %w", err)
		}
		a.Key = key
		b, err := json.Marshal(a)
		return key, b, err
	case KindCounts:
		var c CountAggregate
		if err := json.Unmarshal(r.Payload, &c); err != nil {
			return key, nil, fmt.Errorf("invalid count aggregate payload: %w", err)
		}
		c.Key = key
		b, err := json.Marshal(c)
		return key, b, err
	case KindNotification:
		n, err := NormalizeNotification(key, r.Payload)
		if err != nil {
			return key, nil, err
		}
		b, err := json.Marshal(n)
		return key, b, err
	default:
		return key, nil, fmt.Errorf("unknown remote entity kind %q", r.Kind)
	}
}

// OrderingTimestamp pulls the record's indexed_at (or timestamp) field for
// stream ordering, 0 when absent.
func (r RemoteEntityRecord) OrderingTimestamp() int64 {
	var p struct {
		IndexedAt int64 `json:"indexed_at,omitempty"`
		Timestamp int64 `json:"timestamp,omitempty"`
	}
	if err := json.Unmarshal(r.Payload, &p); err != nil {
		return 0
	}
	if p.IndexedAt != 0 {
		return p.IndexedAt
	}
	return p.Timestamp
}

// NormalizeNotification flattens a raw remote notification payload.
func NormalizeNotification(key keys.CompositeKey, payload []byte) (Notification, error) {
	var raw struct {
		Timestamp int64  `json:"timestamp"`
		Kind      string `json:"kind"`
		Subject   string `json:"subject,omitempty"`
		Actor     string `json:"actor,omitempty"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Notification{}, fmt.Errorf("invalid notification payload: %w", err)
	}
	if raw.Kind == "" {
		return Notification{}, fmt.Errorf("notification payload missing kind")
	}
	n := Notification{Key: key, Timestamp: raw.Timestamp, Kind: raw.Kind}
	if k, ok := keys.FromRemoteAddress(raw.Subject); ok {
		n.PostKey = &k
	}
	if k, ok := keys.FromRemoteAddress(raw.Actor); ok {
		n.UserKey = &k
	}
	return n, nil
}
