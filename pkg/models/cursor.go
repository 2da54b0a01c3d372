package models

// CursorKind selects how a stream paginates. A stream commits to exactly one
// kind for its lifetime.
type CursorKind string

const (
	// CursorOffset paginates by skip count from the front of the stream.
	CursorOffset CursorKind = "offset"
	// CursorWatermark paginates by strictly-older-than timestamp.
	CursorWatermark CursorKind = "watermark"
)

// Cursor addresses a position in a stream. Exactly one of Offset/OlderThan
// is meaningful, per Kind.
type Cursor struct {
	Kind      CursorKind `json:"kind"`
	Offset    int        `json:"offset,omitempty"`
	OlderThan int64      `json:"older_than,omitempty"`
}

// Start returns the beginning-of-stream cursor for a kind. Watermark streams
// start from "everything", expressed as the maximum timestamp.
func Start(kind CursorKind) Cursor {
	if kind == CursorWatermark {
		return Cursor{Kind: CursorWatermark, OlderThan: int64(^uint64(0) >> 1)}
	}
	return Cursor{Kind: CursorOffset}
}
