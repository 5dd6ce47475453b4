// Package feedclient consumes a tweetwall event stream and maintains a
// local copy of the feed, reconnecting with exponential backoff when the
// stream drops.
package feedclient

import (
	"sync"

	"github.com/blackmichael/tweetwall/internal/domain"
)

// Reconciler applies incoming change events to a local ordered collection
// of tweets, newest first. Events are applied in arrival order; each kind
// is idempotent on its own, so replays and duplicate deliveries converge.
type Reconciler struct {
	mu    sync.Mutex
	items []domain.TweetView
}

// NewReconciler seeds a reconciler from an initial snapshot.
func NewReconciler(initial []domain.TweetView) *Reconciler {
	items := make([]domain.TweetView, len(initial))
	copy(items, initial)
	return &Reconciler{items: items}
}

// Apply folds one event into the local collection and reports whether
// anything changed. Connection-level events (connected, error) are not
// state changes and are ignored.
func (r *Reconciler) Apply(ev domain.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case domain.AddedEvent:
		// A duplicate add replaces in place, keeping position; a racing
		// second create on the server shows up here as exactly that.
		for i, item := range r.items {
			if item.ID == e.Tweet.ID {
				r.items[i] = e.Tweet
				return true
			}
		}
		r.items = append([]domain.TweetView{e.Tweet}, r.items...)
		return true

	case domain.UpdatedEvent:
		for i, item := range r.items {
			if item.ID == e.Tweet.ID {
				r.items[i] = e.Tweet
				return true
			}
		}
		return false

	case domain.RemovedEvent:
		for i, item := range r.items {
			if item.ID == e.ID {
				r.items = append(r.items[:i], r.items[i+1:]...)
				return true
			}
		}
		return false

	case domain.SeenEvent:
		for i, item := range r.items {
			if item.ID == e.ID {
				r.items[i].Seen = e.Seen
				return true
			}
		}
		return false

	case domain.ReorderEvent:
		// Re-sequence to the given order. IDs we don't know are ignored,
		// never fabricated; local items absent from the order are
		// dropped.
		byID := make(map[string]domain.TweetView, len(r.items))
		for _, item := range r.items {
			byID[item.ID] = item
		}
		reordered := make([]domain.TweetView, 0, len(r.items))
		for _, id := range e.IDs {
			if item, ok := byID[id]; ok {
				reordered = append(reordered, item)
			}
		}
		r.items = reordered
		return true

	default:
		return false
	}
}

// Items returns a copy of the current local feed, newest first.
func (r *Reconciler) Items() []domain.TweetView {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]domain.TweetView, len(r.items))
	copy(items, r.items)
	return items
}
