package models

import (
	"encoding/json"
	"testing"

	"skymirror/pkg/keys"
)

func TestNormalizePost(t *testing.T) {
	r := RemoteEntityRecord{
		Kind:    KindPost,
		Address: "soc://did:plc:bob/post/p2",
		Payload: json.RawMessage(`{"author":"bob","text":"hi","parent":"soc://did:plc:alice/post/p1","indexed_at":1234}`),
	}
	key, b, err := r.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if key.Owner != "did.plc.bob" || key.Local != "p2" {
		t.Fatalf("unexpected key: %+v", key)
	}
	var p Post
	if err := json.Unmarshal(b, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ParentKey == nil || p.ParentKey.String() != "did.plc.alice:p1" {
		t.Fatalf("parent reference not keyed: %+v", p.ParentKey)
	}
	if p.IndexedAt != 1234 || p.Author != "bob" {
		t.Fatalf("fields lost in normalization: %+v", p)
	}
}

func TestNormalizeRejectsUnknownKind(t *testing.T) {
	r := RemoteEntityRecord{Kind: "mystery", Address: "soc://a/mystery/1", Payload: json.RawMessage(`{}`)}
	if _, _, err := r.Normalize(); err == nil {
		t.Fatalf("unknown kind must fail normalization")
	}
}

func TestNormalizeRejectsUnrecognizedAddress(t *testing.T) {
	r := RemoteEntityRecord{Kind: KindPost, Address: "garbage", Payload: json.RawMessage(`{}`)}
	if _, _, err := r.Normalize(); err == nil {
		t.Fatalf("unrecognized address must fail normalization")
	}
}

func TestReferencesExtraction(t *testing.T) {
	r := RemoteEntityRecord{
		Kind:    KindNotification,
		Address: "soc://me/notification/n1",
		Payload: json.RawMessage(`{"subject":"soc://a/post/1","actor":"soc://b/user/self","kind":"like"}`),
	}
	refs := r.References()
	if len(refs) != 2 {
		t.Fatalf("expected subject+actor refs, got %+v", refs)
	}
	if refs[0].Kind != KindPost || refs[1].Kind != KindUser {
		t.Fatalf("unexpected ref kinds: %+v", refs)
	}
}

func TestReferencesToleratesSchemaDrift(t *testing.T) {
	r := RemoteEntityRecord{Kind: KindPost, Payload: json.RawMessage(`{"parent":7}`)}
	if refs := r.References(); refs != nil {
		t.Fatalf("drifted payload must contribute nothing, got %+v", refs)
	}
}

func TestOrderingTimestampFallsBack(t *testing.T) {
	withIndexed := RemoteEntityRecord{Payload: json.RawMessage(`{"indexed_at":10,"timestamp":20}`)}
	if ts := withIndexed.OrderingTimestamp(); ts != 10 {
		t.Fatalf("indexed_at must win: %d", ts)
	}
	tsOnly := RemoteEntityRecord{Payload: json.RawMessage(`{"timestamp":20}`)}
	if ts := tsOnly.OrderingTimestamp(); ts != 20 {
		t.Fatalf("timestamp fallback broken: %d", ts)
	}
	neither := RemoteEntityRecord{Payload: json.RawMessage(`{}`)}
	if ts := neither.OrderingTimestamp(); ts != 0 {
		t.Fatalf("absent timestamps must be zero: %d", ts)
	}
}

func TestNormalizeNotificationRequiresKind(t *testing.T) {
	k, _ := keys.Build("me", "n1")
	if _, err := NormalizeNotification(k, []byte(`{"timestamp":1}`)); err == nil {
		t.Fatalf("missing kind must be rejected")
	}
	n, err := NormalizeNotification(k, []byte(`{"timestamp":5,"kind":"follow","actor":"soc://b/user/self"}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if n.UserKey == nil || n.UserKey.String() != "b:self" {
		t.Fatalf("actor not keyed: %+v", n)
	}
}

func TestCountAggregateClampsAtZero(t *testing.T) {
	var c CountAggregate
	c.Bump(CountTags, -3)
	if c.Counts[CountTags] != 0 {
		t.Fatalf("counter went negative: %d", c.Counts[CountTags])
	}
	c.Bump(CountTags, 2)
	c.Bump(CountTags, -1)
	if c.Counts[CountTags] != 1 {
		t.Fatalf("unexpected counter: %d", c.Counts[CountTags])
	}
}

func TestTagAggregateEntryLookup(t *testing.T) {
	a := TagAggregate{Tags: []TagEntry{{Label: "go", Taggers: []string{"x"}}}}
	if a.Entry("go") == nil || a.Entry("rust") != nil {
		t.Fatalf("entry lookup broken")
	}
	if !a.Tags[0].HasTagger("x") || a.Tags[0].HasTagger("y") {
		t.Fatalf("tagger lookup broken")
	}
}
