package stream

import (
	"fmt"
	"testing"

	"skymirror/pkg/cache"
	"skymirror/pkg/keys"
	"skymirror/pkg/models"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	s, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s)
}

func entry(t *testing.T, owner, local string, ts int64) Entry {
	t.Helper()
	k, err := keys.Build(owner, local)
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	return Entry{Key: k, TS: ts}
}

func TestAppendAndOffsetRead(t *testing.T) {
	x := newTestIndex(t)
	in := []Entry{
		entry(t, "a", "1", 0),
		entry(t, "a", "2", 0),
		entry(t, "a", "3", 0),
	}
	if err := x.Append("followers:me", models.CursorOffset, in); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := x.Read("followers:me", models.Cursor{Kind: models.CursorOffset, Offset: 1}, 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0].Key != in[1].Key || got[1].Key != in[2].Key {
		t.Fatalf("unexpected page: %+v", got)
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	x := newTestIndex(t)
	in := []Entry{entry(t, "a", "1", 0), entry(t, "a", "2", 0)}
	if err := x.Append("s", models.CursorOffset, in); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := x.Append("s", models.CursorOffset, in); err != nil {
		t.Fatalf("second append: %v", err)
	}
	got, err := x.Read("s", models.Cursor{Kind: models.CursorOffset}, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("duplicate entries after re-append: %d", len(got))
	}
}

func TestAppendDedupsAcrossCalls(t *testing.T) {
	x := newTestIndex(t)
	if err := x.Append("s", models.CursorOffset, []Entry{entry(t, "a", "1", 0)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	// a later page offering an already-present member drops it silently
	if err := x.Append("s", models.CursorOffset, []Entry{entry(t, "a", "1", 0), entry(t, "a", "2", 0)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, _ := x.Read("s", models.Cursor{Kind: models.CursorOffset}, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 members, got %d", len(got))
	}
}

func TestCursorKindIsPinned(t *testing.T) {
	x := newTestIndex(t)
	if err := x.Append("s", models.CursorOffset, []Entry{entry(t, "a", "1", 0)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := x.Append("s", models.CursorWatermark, []Entry{entry(t, "a", "2", 5)}); err == nil {
		t.Fatalf("append with a different cursor kind must fail")
	}
	if _, err := x.Read("s", models.Cursor{Kind: models.CursorWatermark, OlderThan: 10}, 5); err == nil {
		t.Fatalf("read with a different cursor kind must fail")
	}
}

func TestWatermarkReadNewestFirst(t *testing.T) {
	x := newTestIndex(t)
	in := []Entry{
		entry(t, "n", "old", 1000),
		entry(t, "n", "new", 3000),
		entry(t, "n", "mid", 2000),
	}
	if err := x.Append("notifications:me", models.CursorWatermark, in); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := x.Read("notifications:me", models.Start(models.CursorWatermark), 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 || got[0].TS != 3000 || got[1].TS != 2000 || got[2].TS != 1000 {
		t.Fatalf("expected newest-first order, got %+v", got)
	}

	// strictly-older-than semantics: the boundary item is excluded
	got, _ = x.Read("notifications:me", models.Cursor{Kind: models.CursorWatermark, OlderThan: 2000}, 10)
	if len(got) != 1 || got[0].TS != 1000 {
		t.Fatalf("unexpected watermark page: %+v", got)
	}
}

func TestWatermarkEqualTimestampsStayDistinct(t *testing.T) {
	x := newTestIndex(t)
	in := []Entry{
		entry(t, "n", "a", 500),
		entry(t, "n", "b", 500),
	}
	if err := x.Append("s", models.CursorWatermark, in); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, _ := x.Read("s", models.Start(models.CursorWatermark), 10)
	if len(got) != 2 {
		t.Fatalf("entries with equal timestamps collapsed: %+v", got)
	}
}

func TestCountNewer(t *testing.T) {
	x := newTestIndex(t)
	in := []Entry{
		entry(t, "n", "1", 1000),
		entry(t, "n", "2", 2000),
		entry(t, "n", "3", 3000),
	}
	if err := x.Append("s", models.CursorWatermark, in); err != nil {
		t.Fatalf("append: %v", err)
	}
	n, err := x.CountNewer("s", 1500)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 newer than 1500, got %d", n)
	}
	if n, _ := x.CountNewer("s", 3000); n != 0 {
		t.Fatalf("count must be strict, got %d", n)
	}
}

func TestReadMissingStreamIsEmpty(t *testing.T) {
	x := newTestIndex(t)
	got, err := x.Read("nope", models.Cursor{Kind: models.CursorOffset}, 5)
	if err != nil || got != nil {
		t.Fatalf("missing stream must read empty: %+v err=%v", got, err)
	}
}

func TestTrimDropsTail(t *testing.T) {
	x := newTestIndex(t)
	var in []Entry
	for i := 0; i < 5; i++ {
		in = append(in, entry(t, "n", fmt.Sprintf("p%d", i), int64(5000-i*1000)))
	}
	if err := x.Append("s", models.CursorWatermark, in); err != nil {
		t.Fatalf("append: %v", err)
	}
	dropped, err := x.Trim("s", 3)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if len(dropped) != 2 {
		t.Fatalf("expected 2 dropped, got %+v", dropped)
	}
	got, _ := x.Read("s", models.Start(models.CursorWatermark), 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 survivors, got %d", len(got))
	}
	// a dropped member can be appended again afterwards
	if err := x.Append("s", models.CursorWatermark, []Entry{in[4]}); err != nil {
		t.Fatalf("re-append after trim: %v", err)
	}
	got, _ = x.Read("s", models.Start(models.CursorWatermark), 10)
	if len(got) != 4 {
		t.Fatalf("trimmed member could not rejoin: %d", len(got))
	}
}

func TestNames(t *testing.T) {
	x := newTestIndex(t)
	if err := x.Append("alpha", models.CursorOffset, []Entry{entry(t, "a", "1", 0)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := x.Append("beta:x", models.CursorWatermark, []Entry{entry(t, "a", "2", 7)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	names, err := x.Names()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("unexpected names: %+v", names)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	x := newTestIndex(t)
	if err := x.Append("s", models.CursorOffset, []Entry{entry(t, "a", "1", 0)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := x.Delete("s"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := x.CursorKind("s"); err != nil || ok {
		t.Fatalf("meta survived delete: ok=%v err=%v", ok, err)
	}
	// the stream can be recreated with a different cursor kind
	if err := x.Append("s", models.CursorWatermark, []Entry{entry(t, "a", "1", 9)}); err != nil {
		t.Fatalf("recreate: %v", err)
	}
}
