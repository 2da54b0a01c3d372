package keys

import (
	"errors"
	"testing"
)

func TestBuildAndString(t *testing.T) {
	k, err := Build("did.plc.alice", "3k2aaa")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if got := k.String(); got != "did.plc.alice:3k2aaa" {
		t.Fatalf("unexpected serialization: %q", got)
	}
}

func TestBuildRejectsBadParts(t *testing.T) {
	cases := []struct{ owner, local string }{
		{"", "post1"},
		{"alice", ""},
		{"al:ice", "post1"},
		{"alice", "po:st"},
	}
	for _, c := range cases {
		if _, err := Build(c.owner, c.local); !errors.Is(err, ErrInvalidIdentifier) {
			t.Fatalf("Build(%q, %q): want ErrInvalidIdentifier, got %v", c.owner, c.local, err)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	k, err := Parse("bob.example:42")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if k.Owner != "bob.example" || k.Local != "42" {
		t.Fatalf("unexpected parts: %+v", k)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{"", "noseparator", ":leading", "trailing:", "a:b:c"} {
		if _, err := Parse(raw); !errors.Is(err, ErrMalformedKey) {
			t.Fatalf("Parse(%q): want ErrMalformedKey, got %v", raw, err)
		}
	}
}

func TestFromRemoteAddress(t *testing.T) {
	k, ok := FromRemoteAddress("soc://did:plc:alice/post/3k2aaa")
	if !ok {
		t.Fatalf("address not recognized")
	}
	// wire identities may contain ':'; the local key folds them away
	if k.Owner != "did.plc.alice" || k.Local != "3k2aaa" {
		t.Fatalf("unexpected mapping: %+v", k)
	}

	for _, addr := range []string{"", "http://x/y/z", "soc://a/b", "soc://a/b/c/d", "soc:///post/1"} {
		if _, ok := FromRemoteAddress(addr); ok {
			t.Fatalf("expected %q to be rejected", addr)
		}
	}
}

func TestKindFromRemoteAddress(t *testing.T) {
	if got := KindFromRemoteAddress("soc://alice/user/self"); got != "user" {
		t.Fatalf("unexpected kind: %q", got)
	}
	if got := KindFromRemoteAddress("nope"); got != "" {
		t.Fatalf("expected empty kind, got %q", got)
	}
}

func TestToRemoteAddressInverse(t *testing.T) {
	k, _ := Build("alice.example", "p9")
	addr := ToRemoteAddress("post", k)
	back, ok := FromRemoteAddress(addr)
	if !ok || back != k {
		t.Fatalf("round trip lost the key: %q -> %+v", addr, back)
	}
}
