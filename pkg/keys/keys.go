// Package keys builds and parses the composite identifiers that name every
// locally cached resource: an owner identity joined to a local resource id,
// serialized as "owner:local".
package keys

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins the owner and local parts of a serialized key.
const Separator = ":"

var (
	// ErrInvalidIdentifier reports an empty part or a part containing the
	// separator when building a key.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrMalformedKey reports a serialized key that cannot be split into
	// two non-empty parts.
	ErrMalformedKey = errors.New("malformed composite key")
)

// CompositeKey identifies a cached resource by owner identity and local id.
type CompositeKey struct {
	Owner string `json:"owner"`
	Local string `json:"local"`
}

// Build constructs a CompositeKey, rejecting empty parts and parts that
// contain the separator.
func Build(owner, local string) (CompositeKey, error) {
	if owner == "" || strings.Contains(owner, Separator) {
		return CompositeKey{}, fmt.Errorf("%w: owner %q", ErrInvalidIdentifier, owner)
	}
	if local == "" || strings.Contains(local, Separator) {
		return CompositeKey{}, fmt.Errorf("%w: local id %q", ErrInvalidIdentifier, local)
	}
	return CompositeKey{Owner: owner, Local: local}, nil
}

// Parse splits a serialized "owner:local" key.
func Parse(raw string) (CompositeKey, error) {
	owner, local, ok := strings.Cut(raw, Separator)
	if !ok || owner == "" || local == "" {
		return CompositeKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, raw)
	}
	// a second separator means the local part was not a bare id
	if strings.Contains(local, Separator) {
		return CompositeKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, raw)
	}
	return CompositeKey{Owner: owner, Local: local}, nil
}

// String serializes the key as "owner:local".
func (k CompositeKey) String() string {
	return k.Owner + Separator + k.Local
}

// IsZero reports whether the key is unset.
func (k CompositeKey) IsZero() bool {
	return k.Owner == "" && k.Local == ""
}

const addressScheme = "soc://"

// FromRemoteAddress maps a canonical remote resource address of the form
// soc://<owner>/<kind>/<localId> to a local composite key. Owner identities
// on the wire may contain ':' (e.g. DIDs); those are folded to '.' so the
// serialized key stays two-part. Addresses that do not match the recognized
// pattern yield (zero, false), not an error.
func FromRemoteAddress(address string) (CompositeKey, bool) {
	rest, ok := strings.CutPrefix(address, addressScheme)
	if !ok {
		return CompositeKey{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return CompositeKey{}, false
	}
	owner := strings.ReplaceAll(parts[0], Separator, ".")
	local := parts[2]
	k, err := Build(owner, local)
	if err != nil {
		return CompositeKey{}, false
	}
	return k, true
}

// KindFromRemoteAddress extracts the resource kind segment of a canonical
// remote address, or "" when the address is unrecognized.
func KindFromRemoteAddress(address string) string {
	rest, ok := strings.CutPrefix(address, addressScheme)
	if !ok {
		return ""
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// ToRemoteAddress renders the canonical remote address for a key of the
// given kind. It is the inverse of FromRemoteAddress for owners that never
// contained ':'.
func ToRemoteAddress(kind string, k CompositeKey) string {
	return addressScheme + k.Owner + "/" + kind + "/" + k.Local
}
