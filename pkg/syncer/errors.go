package syncer

import (
	"fmt"

	"skymirror/pkg/stream"
)

// FetchError reports a failed remote fetch during page assembly. It carries
// the already-confirmed local portion so callers may render local-only
// partial data while surfacing the failure.
type FetchError struct {
	Stream string
	Local  []stream.Entry
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("remote fetch failed for stream %q (%d local entries confirmed): %v", e.Stream, len(e.Local), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
