// Package remote declares the two external collaborators of the sync core:
// the read-optimized index and the per-account append-only store. Concrete
// transports are replaceable; an HTTP implementation is provided.
package remote

import (
	"context"

	"skymirror/pkg/models"
)

// IndexClient reads paginated streams and entity batches from the
// aggregation index. A not-found resource yields an empty result, not an
// error; errors are reserved for transport failures.
type IndexClient interface {
	// FetchStreamPage returns up to limit records for the named stream
	// continuing from cursor.
	FetchStreamPage(ctx context.Context, streamName string, cursor models.Cursor, limit int) ([]models.RemoteEntityRecord, error)
	// FetchEntitiesByKey resolves entity records by canonical remote
	// address. Unknown addresses are silently absent from the result.
	FetchEntitiesByKey(ctx context.Context, kind models.Kind, addresses []string) ([]models.RemoteEntityRecord, error)
}

// StoreClient appends records to the account's durable write target.
type StoreClient interface {
	// Write persists payload at address and returns once the store has
	// acknowledged it.
	Write(ctx context.Context, address string, payload []byte) error
}
