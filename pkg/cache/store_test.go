package cache

import (
	"bytes"
	"testing"
	"time"

	"skymirror/pkg/keys"
	"skymirror/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustKey(t *testing.T, owner, local string) keys.CompositeKey {
	t.Helper()
	k, err := keys.Build(owner, local)
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	return k
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	k := mustKey(t, "alice", "p1")

	if _, ok, err := s.Get(models.KindPost, k); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	if err := s.Put(models.KindPost, k, []byte(`{"text":"hi"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := s.Get(models.KindPost, k)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v, []byte(`{"text":"hi"}`)) {
		t.Fatalf("unexpected value: %s", v)
	}
}

func TestKindsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	k := mustKey(t, "alice", "x")
	if err := s.Put(models.KindPost, k, []byte("post")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := s.Get(models.KindUser, k); ok {
		t.Fatalf("same key under another kind must miss")
	}
}

func TestPutManyLastWriteWins(t *testing.T) {
	s := openTestStore(t)
	k := mustKey(t, "alice", "p1")
	recs := []Record{
		{Key: k, Value: []byte("first")},
		{Key: k, Value: []byte("second")},
	}
	if err := s.PutMany(models.KindPost, recs); err != nil {
		t.Fatalf("put many: %v", err)
	}
	v, _, _ := s.Get(models.KindPost, k)
	if string(v) != "second" {
		t.Fatalf("expected last write to win, got %s", v)
	}
}

func TestDeleteAbsentKey(t *testing.T) {
	s := openTestStore(t)
	if err := s.Delete(models.KindPost, mustKey(t, "alice", "gone")); err != nil {
		t.Fatalf("deleting an absent key must not error: %v", err)
	}
}

func TestMissingKeysPreservesOrder(t *testing.T) {
	s := openTestStore(t)
	k1 := mustKey(t, "a", "1")
	k2 := mustKey(t, "a", "2")
	k3 := mustKey(t, "a", "3")
	if err := s.Put(models.KindUser, k2, []byte("u")); err != nil {
		t.Fatalf("put: %v", err)
	}
	missing, err := s.MissingKeys(models.KindUser, []keys.CompositeKey{k3, k2, k1})
	if err != nil {
		t.Fatalf("missing keys: %v", err)
	}
	if len(missing) != 2 || missing[0] != k3 || missing[1] != k1 {
		t.Fatalf("unexpected missing set: %+v", missing)
	}
}

func TestRawApplyAtomicBatch(t *testing.T) {
	s := openTestStore(t)
	if err := s.RawSet("stream:t:doomed", []byte("x")); err != nil {
		t.Fatalf("raw set: %v", err)
	}
	err := s.RawApply(map[string][]byte{
		"stream:t:a": []byte("1"),
		"stream:t:b": []byte("2"),
	}, []string{"stream:t:doomed"})
	if err != nil {
		t.Fatalf("raw apply: %v", err)
	}
	if _, ok, _ := s.RawGet("stream:t:doomed"); ok {
		t.Fatalf("deleted key survived the batch")
	}
	if v, ok, _ := s.RawGet("stream:t:b"); !ok || string(v) != "2" {
		t.Fatalf("batched write missing")
	}
}

func TestScanPrefixOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	for _, k := range []string{"p:c", "p:a", "p:b", "q:z"} {
		if err := s.RawSet(k, []byte(k)); err != nil {
			t.Fatalf("raw set: %v", err)
		}
	}
	recs, err := s.ScanPrefix("p:", 0)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(recs) != 3 || recs[0].Key != "p:a" || recs[2].Key != "p:c" {
		t.Fatalf("unexpected scan result: %+v", recs)
	}
	recs, _ = s.ScanPrefix("p:", 2)
	if len(recs) != 2 {
		t.Fatalf("limit ignored: %d records", len(recs))
	}
}

func TestSignalsDeliverOnMatchingPrefix(t *testing.T) {
	s := openTestStore(t)
	ch, cancel := s.Signals().Subscribe("ent:post:alice:", 4)
	defer cancel()

	if err := s.Put(models.KindPost, mustKey(t, "alice", "p1"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(models.KindPost, mustKey(t, "bob", "p1"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Key != "ent:post:alice:p1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
	select {
	case ev := <-ch:
		t.Fatalf("event for non-matching prefix: %+v", ev)
	default:
	}
}

func TestSignalsFullSubscriberDoesNotBlock(t *testing.T) {
	s := openTestStore(t)
	_, cancel := s.Signals().Subscribe("ent:", 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = s.Put(models.KindPost, mustKey(t, "alice", string(rune('a'+i))), []byte("v"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("writes blocked on a full subscriber")
	}
}

func TestReadWatermark(t *testing.T) {
	s := openTestStore(t)
	wm, err := s.ReadWatermark("alice")
	if err != nil || wm != 0 {
		t.Fatalf("expected zero watermark, got %d err=%v", wm, err)
	}
	if err := s.SetReadWatermark("alice", 1500); err != nil {
		t.Fatalf("set watermark: %v", err)
	}
	wm, err = s.ReadWatermark("alice")
	if err != nil || wm != 1500 {
		t.Fatalf("expected 1500, got %d err=%v", wm, err)
	}
	if wm, _ := s.ReadWatermark("bob"); wm != 0 {
		t.Fatalf("watermarks must be per account")
	}
}
