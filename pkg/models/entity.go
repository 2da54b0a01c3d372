package models

import (
	"skymirror/pkg/keys"
)

// Kind names an entity namespace in the local cache.
type Kind string

const (
	KindPost         Kind = "post"
	KindUser         Kind = "user"
	KindTags         Kind = "tags"
	KindNotification Kind = "notification"
	KindCounts       Kind = "counts"
)

// KnownKinds lists every entity namespace, in backfill-grouping order.
var KnownKinds = []Kind{KindPost, KindUser, KindTags, KindNotification, KindCounts}

// Post is an immutable snapshot of a post from the index. Only MutationEngine
// may touch aggregate fields after ingestion, and it does so through the
// dedicated counts/tags records, never by rewriting the post payload.
type Post struct {
	Key       keys.CompositeKey `json:"key"`
	Author    string            `json:"author"`
	Text      string            `json:"text,omitempty"`
	// ParentKey points at the post this one replies to, if any. Ancestor
	// chains are walked iteratively with a hard depth bound.
	ParentKey *keys.CompositeKey `json:"parent_key,omitempty"`
	// RepostOf references the original post for reposts.
	RepostOf  *keys.CompositeKey `json:"repost_of,omitempty"`
	IndexedAt int64              `json:"indexed_at"`
}

// User is an immutable profile snapshot from the index, except Status which
// MutationEngine overwrites wholesale after a confirmed remote write.
type User struct {
	Key         keys.CompositeKey `json:"key"`
	Handle      string            `json:"handle"`
	DisplayName string            `json:"display_name,omitempty"`
	Status      string            `json:"status,omitempty"`
	IndexedAt   int64             `json:"indexed_at"`
}

// TagEntry is one normalized label on a target together with everyone who
// applied it.
type TagEntry struct {
	Label        string   `json:"label"`
	Taggers      []string `json:"taggers"`
	TaggersCount int      `json:"taggers_count"`
	// ByCurrentUser mirrors membership of the local identity in Taggers.
	ByCurrentUser bool `json:"by_current_user"`
}

// TagAggregate is the full tag state of one target entity. Labels are
// case-folded and trimmed before comparison; at most one entry exists per
// normalized label and TaggersCount always equals len(Taggers).
type TagAggregate struct {
	Key  keys.CompositeKey `json:"key"`
	Tags []TagEntry        `json:"tags"`
}

// Entry returns the tag entry for a normalized label, or nil.
func (a *TagAggregate) Entry(label string) *TagEntry {
	for i := range a.Tags {
		if a.Tags[i].Label == label {
			return &a.Tags[i]
		}
	}
	return nil
}

// HasTagger reports whether id is recorded against the normalized label.
func (e *TagEntry) HasTagger(id string) bool {
	for _, t := range e.Taggers {
		if t == id {
			return true
		}
	}
	return false
}

// CountAggregate holds per-entity named counters. Counters never go below
// zero; mutations are relative except on full resync from the index.
type CountAggregate struct {
	Key    keys.CompositeKey `json:"key"`
	Counts map[string]int    `json:"counts"`
}

// Counter names used by MutationEngine.
const (
	CountPosts      = "posts"
	CountReplies    = "replies"
	CountFollowers  = "followers"
	CountTags       = "tags"
	CountUniqueTags = "unique_tags"
	CountTagged     = "tagged"
)

// Bump adjusts a named counter by delta, clamping at zero.
func (c *CountAggregate) Bump(name string, delta int) {
	if c.Counts == nil {
		c.Counts = map[string]int{}
	}
	v := c.Counts[name] + delta
	if v < 0 {
		v = 0
	}
	c.Counts[name] = v
}

// Notification is the flattened, immutable normalized form of a raw remote
// notification record.
type Notification struct {
	Key       keys.CompositeKey  `json:"key"`
	Timestamp int64              `json:"timestamp"`
	Kind      string             `json:"kind"`
	PostKey   *keys.CompositeKey `json:"post_key,omitempty"`
	UserKey   *keys.CompositeKey `json:"user_key,omitempty"`
}
