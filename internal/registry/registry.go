// Package registry owns the durable tweet feed state: an ordering index
// (sorted set scored by first-submission time) plus one metadata record
// per tweet. All mutations emit a typed change event after the store
// write has been applied, never before.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/tweetwall/internal/domain"
	"github.com/blackmichael/tweetwall/internal/events"
	"github.com/blackmichael/tweetwall/internal/metrics"
)

const (
	// listKey is the ordering index: a sorted set of tweet IDs scored by
	// first-submission unix millis.
	listKey = "tweets:list"

	// metaKeyPrefix prefixes per-tweet metadata records.
	metaKeyPrefix = "tweet:meta:"

	// lastUpdatedKey holds the unix-millis time of the latest mutation,
	// for cheap change polling.
	lastUpdatedKey = "tweets:last-updated"
)

// UpdatesChannel is the pub/sub channel carrying registry change events
// to external consumers.
const UpdatesChannel = "tweets:updates"

func metaKey(id string) string {
	return metaKeyPrefix + id
}

// Registry implements the tweet feed's registry service over a Store.
type Registry struct {
	store     domain.Store
	bus       *events.Bus
	logger    *slog.Logger
	metrics   *metrics.Metrics
	retention time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// New creates a registry. retention bounds tweet age for CleanupExpired.
func New(store domain.Store, bus *events.Bus, logger *slog.Logger, m *metrics.Metrics, retention time.Duration) *Registry {
	return &Registry{
		store:     store,
		bus:       bus,
		logger:    logger,
		metrics:   m,
		retention: retention,
		now:       time.Now,
	}
}

// Submit records a submission of the given tweet ID. A first submission
// creates the record and emits tweet:added; a submission by a new poster
// merges the poster into the existing record (first-submission time
// unchanged) and emits tweet:updated; a repeat submission by a known
// poster is a no-op and emits nothing. Submit is idempotent per
// (id, poster) pair.
//
// Two concurrent first submissions of the same new ID race: the index
// insert is the authoritative existence check, but the metadata write is
// last-write-wins, so one racing poster's name may be lost. The loss is
// repaired by that poster's next submit; clients converge because the
// reconciler treats a duplicate tweet:added as replace-in-place.
func (r *Registry) Submit(ctx context.Context, id, postedBy string) (*domain.TweetRecord, error) {
	if !domain.ValidTweetID(id) {
		r.metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidID, id)
	}

	poster := strings.TrimSpace(postedBy)
	if poster == "" {
		poster = domain.DefaultPosterName
	}

	_, exists, err := r.store.ZScore(ctx, listKey, id)
	if err != nil {
		return nil, r.storageErr("check tweet existence", err)
	}

	now := r.now().UTC()

	if !exists {
		rec := &domain.TweetRecord{
			ID:          id,
			SubmittedAt: now,
			Posters:     []domain.Poster{{Name: poster, SubmittedAt: now}},
			URL:         domain.CanonicalURL(id),
		}
		if err := r.store.ZAdd(ctx, listKey, float64(now.UnixMilli()), id); err != nil {
			return nil, r.storageErr("add to ordering index", err)
		}
		if err := r.writeRecord(ctx, rec); err != nil {
			return nil, err
		}
		r.touchLastUpdated(ctx)
		r.bus.Publish(ctx, domain.AddedEvent{Tweet: rec.View()})
		r.metrics.SubmissionsTotal.WithLabelValues("created").Inc()
		r.logger.Info("tweet added", "id", id, "poster", poster)
		return rec, nil
	}

	rec, err := r.GetMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// Index entry without metadata: a half-applied remove or a racing
		// create. Rebuild the record from the index score so the two
		// structures agree again.
		score, _, err := r.store.ZScore(ctx, listKey, id)
		if err != nil {
			return nil, r.storageErr("read index score", err)
		}
		rec = &domain.TweetRecord{
			ID:          id,
			SubmittedAt: time.UnixMilli(int64(score)),
			Posters:     []domain.Poster{{Name: poster, SubmittedAt: now}},
			URL:         domain.CanonicalURL(id),
		}
		if err := r.writeRecord(ctx, rec); err != nil {
			return nil, err
		}
		r.touchLastUpdated(ctx)
		r.bus.Publish(ctx, domain.UpdatedEvent{Tweet: rec.View()})
		r.metrics.SubmissionsTotal.WithLabelValues("merged").Inc()
		r.logger.Warn("rebuilt metadata for indexed tweet", "id", id, "poster", poster)
		return rec, nil
	}

	if rec.HasPoster(poster) {
		r.metrics.SubmissionsTotal.WithLabelValues("noop").Inc()
		return rec, nil
	}

	rec.Posters = append(rec.Posters, domain.Poster{Name: poster, SubmittedAt: now})
	if err := r.writeRecord(ctx, rec); err != nil {
		return nil, err
	}
	r.touchLastUpdated(ctx)
	r.bus.Publish(ctx, domain.UpdatedEvent{Tweet: rec.View()})
	r.metrics.SubmissionsTotal.WithLabelValues("merged").Inc()
	r.logger.Info("poster merged", "id", id, "poster", poster)
	return rec, nil
}

// List returns all tweet IDs ordered by first-submission time, newest
// first.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	ids, err := r.store.ZRangeRev(ctx, listKey, 0, -1)
	if err != nil {
		return nil, r.storageErr("list tweets", err)
	}
	return ids, nil
}

// GetMetadata returns the record for id, or nil if none exists.
func (r *Registry) GetMetadata(ctx context.Context, id string) (*domain.TweetRecord, error) {
	data, found, err := r.store.Get(ctx, metaKey(id))
	if err != nil {
		return nil, r.storageErr("get tweet metadata", err)
	}
	if !found {
		return nil, nil
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("tweet %s: %w", id, err)
	}
	return rec, nil
}

// Views resolves the client-facing projection for each ID, skipping IDs
// whose metadata is missing.
func (r *Registry) Views(ctx context.Context, ids []string) ([]domain.TweetView, error) {
	views := make([]domain.TweetView, 0, len(ids))
	for _, id := range ids {
		rec, err := r.GetMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		views = append(views, rec.View())
	}
	return views, nil
}

// SetSeen overwrites the seen flag and emits tweet:seen. Returns nil
// without emitting if the tweet does not exist. Seen changes never affect
// ordering.
func (r *Registry) SetSeen(ctx context.Context, id string, seen bool) (*domain.TweetRecord, error) {
	rec, err := r.GetMetadata(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}

	rec.Seen = seen
	if err := r.writeRecord(ctx, rec); err != nil {
		return nil, err
	}
	r.touchLastUpdated(ctx)
	r.bus.Publish(ctx, domain.SeenEvent{ID: id, Seen: seen})
	return rec, nil
}

// Remove deletes the tweet from both the ordering index and the metadata
// store, reporting whether anything was removed. tweet:removed is emitted
// only on actual removal. The two deletions are not transactional; the
// index delete goes first so readers never list a tweet whose metadata is
// already gone for longer than the gap between the writes.
func (r *Registry) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := r.store.ZRem(ctx, listKey, id)
	if err != nil {
		return false, r.storageErr("remove from ordering index", err)
	}
	if err := r.store.Del(ctx, metaKey(id)); err != nil {
		return removed, r.storageErr("delete tweet metadata", err)
	}

	if removed {
		r.touchLastUpdated(ctx)
		r.bus.Publish(ctx, domain.RemovedEvent{ID: id})
		r.logger.Info("tweet removed", "id", id)
	}
	return removed, nil
}

// Count returns the size of the ordering index.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	n, err := r.store.ZCard(ctx, listKey)
	if err != nil {
		return 0, r.storageErr("count tweets", err)
	}
	return n, nil
}

// LastUpdated returns the unix-millis time of the latest mutation, or 0
// if nothing has ever been written.
func (r *Registry) LastUpdated(ctx context.Context) (int64, error) {
	data, found, err := r.store.Get(ctx, lastUpdatedKey)
	if err != nil {
		return 0, r.storageErr("get last-updated", err)
	}
	if !found {
		return 0, nil
	}
	millis, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, nil
	}
	return millis, nil
}

func (r *Registry) writeRecord(ctx context.Context, rec *domain.TweetRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("tweet %s: %w", rec.ID, err)
	}
	if err := r.store.Set(ctx, metaKey(rec.ID), data, 0); err != nil {
		return r.storageErr("write tweet metadata", err)
	}
	return nil
}

// touchLastUpdated is advisory (it feeds the cheap change-poll endpoint),
// so its failures are logged and swallowed.
func (r *Registry) touchLastUpdated(ctx context.Context) {
	millis := strconv.FormatInt(r.now().UnixMilli(), 10)
	if err := r.store.Set(ctx, lastUpdatedKey, []byte(millis), 0); err != nil {
		r.logger.Warn("failed to update last-updated marker", "error", err)
	}
}

// storageErr adds operation context to a store failure. The store
// implementations already classify connectivity failures as
// domain.ErrStorageUnavailable; this only counts and annotates.
func (r *Registry) storageErr(op string, err error) error {
	r.metrics.StorageErrorsTotal.Inc()
	return fmt.Errorf("%s: %w", op, err)
}
