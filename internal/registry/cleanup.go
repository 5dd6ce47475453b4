package registry

import (
	"context"
	"time"
)

// CleanupResult summarizes one retention sweep.
type CleanupResult struct {
	DeletedCount    int            `json:"deletedCount"`
	DeletedTweetIDs []string       `json:"deletedTweetIds"`
	Errors          []CleanupError `json:"errors"`
}

// CleanupError records a single tweet that could not be processed during
// a sweep.
type CleanupError struct {
	TweetID string `json:"tweetId"`
	Error   string `json:"error"`
}

// ExpiredTweet describes a tweet due for deletion in the next sweep.
type ExpiredTweet struct {
	ID          string  `json:"id"`
	SubmittedAt int64   `json:"submittedAt"`
	AgeInDays   float64 `json:"ageInDays"`
}

// CleanupExpired removes every tweet whose first-submission time is older
// than the retention window. Each removal goes through Remove, so
// tweet:removed events are emitted per tweet. Per-tweet failures are
// collected rather than aborting the sweep.
func (r *Registry) CleanupExpired(ctx context.Context) (*CleanupResult, error) {
	result := &CleanupResult{}

	ids, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := r.now().Add(-r.retention)
	for _, id := range ids {
		rec, err := r.GetMetadata(ctx, id)
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{TweetID: id, Error: err.Error()})
			continue
		}
		if rec == nil {
			r.logger.Warn("no metadata found during cleanup", "id", id)
			continue
		}
		if !rec.SubmittedAt.Before(cutoff) {
			continue
		}

		if _, err := r.Remove(ctx, id); err != nil {
			result.Errors = append(result.Errors, CleanupError{TweetID: id, Error: err.Error()})
			continue
		}
		result.DeletedCount++
		result.DeletedTweetIDs = append(result.DeletedTweetIDs, id)
	}

	r.logger.Info("cleanup complete", "deleted", result.DeletedCount, "errors", len(result.Errors))
	return result, nil
}

// ExpiredPreview lists tweets the next sweep would delete, without
// deleting anything.
func (r *Registry) ExpiredPreview(ctx context.Context) ([]ExpiredTweet, error) {
	ids, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	cutoff := now.Add(-r.retention)
	var expired []ExpiredTweet
	for _, id := range ids {
		rec, err := r.GetMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil || !rec.SubmittedAt.Before(cutoff) {
			continue
		}
		expired = append(expired, ExpiredTweet{
			ID:          id,
			SubmittedAt: rec.SubmittedAt.UnixMilli(),
			AgeInDays:   now.Sub(rec.SubmittedAt).Hours() / 24,
		})
	}
	return expired, nil
}

// StartCleanupJob runs retention sweeps on the given interval until ctx
// is cancelled. It sweeps once immediately on start.
func (r *Registry) StartCleanupJob(ctx context.Context, interval time.Duration) {
	r.runCleanup(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runCleanup(ctx)
		}
	}
}

func (r *Registry) runCleanup(ctx context.Context) {
	if _, err := r.CleanupExpired(ctx); err != nil {
		r.logger.Error("cleanup failed", "error", err)
	}
}
