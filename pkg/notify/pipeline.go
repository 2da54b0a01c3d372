// Package notify ingests raw notification records into the local cache and
// keeps unread accounting against a per-account read watermark. It is a
// specialization of the stream reconciliation engine: the same backfill and
// persist-before-membership rules, applied to the notification stream.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"skymirror/pkg/cache"
	"skymirror/pkg/keys"
	"skymirror/pkg/logger"
	"skymirror/pkg/models"
	"skymirror/pkg/remote"
	"skymirror/pkg/stream"
	"skymirror/pkg/syncer"
)

// Pipeline owns the notification stream and the read watermark.
type Pipeline struct {
	store  *cache.Store
	index  *stream.Index
	sync   *syncer.Synchronizer
	client remote.StoreClient
}

// New wires a Pipeline over the shared substrate. client carries best-effort
// watermark notifies to the account's store and may be nil in read-only use.
func New(s *cache.Store, x *stream.Index, sy *syncer.Synchronizer, c remote.StoreClient) *Pipeline {
	return &Pipeline{store: s, index: x, sync: sy, client: c}
}

// StreamName returns the notification stream name for an account.
func StreamName(account string) string {
	return "notifications:" + account
}

// Ingest normalizes raw notification records, backfills the posts and users
// they reference, persists the normalized forms, records stream membership,
// and returns the unread count relative to the account's read watermark.
// Any failure aborts the whole call and leaves the watermark untouched.
func (p *Pipeline) Ingest(ctx context.Context, account string, raws []models.RemoteEntityRecord) (int, error) {
	norm := make([]models.Notification, 0, len(raws))
	for _, r := range raws {
		key, ok := r.Key()
		if !ok {
			// records without a recognized address get a locally
			// generated id under the account's namespace
			k, err := keys.Build(account, ulid.Make().String())
			if err != nil {
				return 0, err
			}
			key = k
		}
		n, err := models.NormalizeNotification(key, r.Payload)
		if err != nil {
			return 0, fmt.Errorf("normalize notification: %w", err)
		}
		norm = append(norm, n)
	}

	if err := p.sync.Backfill(ctx, raws); err != nil {
		return 0, err
	}

	recs := make([]cache.Record, 0, len(norm))
	entries := make([]stream.Entry, 0, len(norm))
	for _, n := range norm {
		b, err := json.Marshal(n)
		if err != nil {
			return 0, err
		}
		recs = append(recs, cache.Record{Key: n.Key, Value: b})
		entries = append(entries, stream.Entry{Key: n.Key, TS: n.Timestamp})
	}
	if err := p.store.PutMany(models.KindNotification, recs); err != nil {
		return 0, err
	}
	if err := p.index.Append(StreamName(account), models.CursorWatermark, entries); err != nil {
		return 0, err
	}

	unread, err := p.Unread(account)
	if err != nil {
		return 0, err
	}
	logger.Debug("notifications_ingested", "account", account, "count", len(norm), "unread", unread)
	return unread, nil
}

// GetOrFetchPage serves a page of the account's notification stream,
// completing from the index when the local cache falls short. Identical
// contract to the stream synchronizer's GetPage, keyed by watermark cursor.
func (p *Pipeline) GetOrFetchPage(ctx context.Context, account string, olderThan int64, limit int) (syncer.Page, error) {
	cursor := models.Cursor{Kind: models.CursorWatermark, OlderThan: olderThan}
	if olderThan <= 0 {
		cursor = models.Start(models.CursorWatermark)
	}
	return p.sync.GetPage(ctx, StreamName(account), cursor, limit)
}

// Unread counts stored notifications newer than the account's read
// watermark.
func (p *Pipeline) Unread(account string) (int, error) {
	lastRead, err := p.store.ReadWatermark(account)
	if err != nil {
		return 0, err
	}
	return p.index.CountNewer(StreamName(account), lastRead)
}

// MarkAllRead advances the local read watermark immediately and notifies the
// account's store best-effort in the background. A failed notify is logged,
// never surfaced, and never reverts the local watermark: re-showing
// already-seen notifications as unread is worse than a stale remote
// watermark.
func (p *Pipeline) MarkAllRead(account string, newWatermark int64) error {
	if err := p.store.SetReadWatermark(account, newWatermark); err != nil {
		return err
	}
	if p.client == nil {
		return nil
	}
	profileKey, err := keys.Build(account, "self")
	if err != nil {
		return err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		payload, _ := json.Marshal(map[string]int64{"last_read": newWatermark})
		if err := p.client.Write(ctx, keys.ToRemoteAddress("watermark", profileKey), payload); err != nil {
			logger.Warn("watermark_notify_failed", "account", account, "error", err)
		}
	}()
	return nil
}
