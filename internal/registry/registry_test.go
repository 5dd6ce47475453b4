package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blackmichael/tweetwall/internal/domain"
	"github.com/blackmichael/tweetwall/internal/events"
	"github.com/blackmichael/tweetwall/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testID      = "1234567890123456789"
	testIDOther = "9876543210987654321"
)

// fakeStore is an in-memory domain.Store that also counts write calls so
// tests can assert that validation failures never touch storage.
type fakeStore struct {
	mu     sync.Mutex
	kv     map[string][]byte
	scores map[string]map[string]float64
	order  map[string][]string // insertion order per zset key
	writes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		kv:     make(map[string][]byte),
		scores: make(map[string]map[string]float64),
		order:  make(map[string][]string),
	}
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	return v, ok, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.kv[key] = value
	return nil
}

func (f *fakeStore) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	delete(f.kv, key)
	return nil
}

func (f *fakeStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.scores[key] == nil {
		f.scores[key] = make(map[string]float64)
	}
	if _, exists := f.scores[key][member]; !exists {
		f.order[key] = append(f.order[key], member)
	}
	f.scores[key][member] = score
	return nil
}

func (f *fakeStore) ZRem(_ context.Context, key string, member string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if _, ok := f.scores[key][member]; !ok {
		return false, nil
	}
	delete(f.scores[key], member)
	for i, m := range f.order[key] {
		if m == member {
			f.order[key] = append(f.order[key][:i], f.order[key][i+1:]...)
			break
		}
	}
	return true, nil
}

func (f *fakeStore) ZRangeRev(_ context.Context, key string, start, stop int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := append([]string(nil), f.order[key]...)
	// Sort by score descending, stable on insertion order.
	for i := 1; i < len(members); i++ {
		for j := i; j > 0 && f.scores[key][members[j]] > f.scores[key][members[j-1]]; j-- {
			members[j], members[j-1] = members[j-1], members[j]
		}
	}
	if start >= int64(len(members)) {
		return nil, nil
	}
	if stop < 0 || stop >= int64(len(members)) {
		stop = int64(len(members)) - 1
	}
	return members[start : stop+1], nil
}

func (f *fakeStore) ZScore(_ context.Context, key string, member string) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scores[key][member]
	return s, ok, nil
}

func (f *fakeStore) ZCard(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.scores[key])), nil
}

func (f *fakeStore) Publish(context.Context, string, []byte) error { return nil }
func (f *fakeStore) Ping(context.Context) error                    { return nil }
func (f *fakeStore) Close() error                                  { return nil }

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type testEnv struct {
	reg   *Registry
	store *fakeStore
	sub   <-chan domain.Event
	clock *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newFakeStore()
	logger := slog.New(slog.DiscardHandler)
	m := metrics.New(prometheus.NewRegistry())
	bus := events.NewBus(store, UpdatesChannel, logger, m)
	sub, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	reg := New(store, bus, logger, m, 72*time.Hour)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }

	return &testEnv{reg: reg, store: store, sub: sub, clock: &clock}
}

func (e *testEnv) advance(d time.Duration) {
	*e.clock = e.clock.Add(d)
}

// drainEvents collects everything published so far.
func (e *testEnv) drainEvents() []domain.Event {
	var evs []domain.Event
	for {
		select {
		case ev := <-e.sub:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestSubmitCreatesRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.reg.Submit(ctx, testID, "alice")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, testID, rec.ID)
	assert.Equal(t, domain.CanonicalURL(testID), rec.URL)
	assert.Equal(t, []string{"alice"}, rec.PosterNames())
	assert.False(t, rec.Seen)

	evs := env.drainEvents()
	require.Len(t, evs, 1)
	added, ok := evs[0].(domain.AddedEvent)
	require.True(t, ok)
	assert.Equal(t, testID, added.Tweet.ID)
	assert.Equal(t, []string{"alice"}, added.Tweet.SubmittedBy)
}

func TestSubmitIsIdempotentPerPoster(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for range 4 {
		_, err := env.reg.Submit(ctx, testID, "alice")
		require.NoError(t, err)
	}

	rec, err := env.reg.GetMetadata(ctx, testID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []string{"alice"}, rec.PosterNames())

	count, err := env.reg.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// One added event for the create; repeats emit nothing.
	evs := env.drainEvents()
	require.Len(t, evs, 1)
	assert.IsType(t, domain.AddedEvent{}, evs[0])
}

func TestSubmitMergesNewPoster(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.reg.Submit(ctx, testID, "alice")
	require.NoError(t, err)
	createdAt := first.SubmittedAt

	env.advance(time.Hour)
	rec, err := env.reg.Submit(ctx, testID, "bob")
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob"}, rec.PosterNames())
	assert.Equal(t, createdAt, rec.SubmittedAt, "first-submission time must not change")
	assert.Equal(t, createdAt.Add(time.Hour), rec.Posters[1].SubmittedAt)

	ids, err := env.reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testID}, ids, "merge must not duplicate the index entry")

	evs := env.drainEvents()
	require.Len(t, evs, 2)
	assert.IsType(t, domain.AddedEvent{}, evs[0])
	updated, ok := evs[1].(domain.UpdatedEvent)
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, updated.Tweet.SubmittedBy)
}

func TestSubmitWithoutPosterUsesUnknown(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.reg.Submit(context.Background(), testID, "  ")
	require.NoError(t, err)
	assert.Equal(t, []string{domain.DefaultPosterName}, rec.PosterNames())
}

func TestSubmitRejectsMalformedIDBeforeAnyWrite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"abc", "12", "", "12345678901234567890" /* 20 digits */} {
		_, err := env.reg.Submit(ctx, id, "alice")
		assert.ErrorIs(t, err, domain.ErrInvalidID, "id %q", id)
	}

	assert.Zero(t, env.store.writeCount(), "validation failures must not write to the store")
	assert.Empty(t, env.drainEvents())
}

func TestListOrdersNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, b, c := "1000000000000000001", "1000000000000000002", "1000000000000000003"
	_, err := env.reg.Submit(ctx, a, "alice")
	require.NoError(t, err)
	env.advance(time.Minute)
	_, err = env.reg.Submit(ctx, b, "alice")
	require.NoError(t, err)
	env.advance(time.Minute)
	_, err = env.reg.Submit(ctx, c, "alice")
	require.NoError(t, err)

	ids, err := env.reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{c, b, a}, ids)
}

func TestRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	removed, err := env.reg.Remove(ctx, testID)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, env.drainEvents(), "removing a missing tweet emits nothing")

	_, err = env.reg.Submit(ctx, testID, "alice")
	require.NoError(t, err)
	env.drainEvents()

	removed, err = env.reg.Remove(ctx, testID)
	require.NoError(t, err)
	assert.True(t, removed)

	rec, err := env.reg.GetMetadata(ctx, testID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	ids, err := env.reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	evs := env.drainEvents()
	require.Len(t, evs, 1)
	assert.Equal(t, domain.RemovedEvent{ID: testID}, evs[0])
}

func TestSetSeen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.reg.SetSeen(ctx, testID, true)
	require.NoError(t, err)
	assert.Nil(t, rec, "unknown id returns absent")
	assert.Empty(t, env.drainEvents())

	_, err = env.reg.Submit(ctx, testID, "alice")
	require.NoError(t, err)
	env.drainEvents()

	ids, err := env.reg.List(ctx)
	require.NoError(t, err)

	rec, err = env.reg.SetSeen(ctx, testID, true)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Seen)

	evs := env.drainEvents()
	require.Len(t, evs, 1)
	assert.Equal(t, domain.SeenEvent{ID: testID, Seen: true}, evs[0])

	after, err := env.reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids, after, "seen changes never affect ordering")
}

func TestLastUpdatedAdvancesOnMutation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	initial, err := env.reg.LastUpdated(ctx)
	require.NoError(t, err)
	assert.Zero(t, initial)

	_, err = env.reg.Submit(ctx, testID, "alice")
	require.NoError(t, err)

	after, err := env.reg.LastUpdated(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.clock.UnixMilli(), after)
}

func TestCleanupExpiredRemovesOldTweets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.reg.Submit(ctx, testID, "alice")
	require.NoError(t, err)

	env.advance(80 * time.Hour)
	_, err = env.reg.Submit(ctx, testIDOther, "bob")
	require.NoError(t, err)
	env.drainEvents()

	preview, err := env.reg.ExpiredPreview(ctx)
	require.NoError(t, err)
	require.Len(t, preview, 1)
	assert.Equal(t, testID, preview[0].ID)

	result, err := env.reg.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeletedCount)
	assert.Equal(t, []string{testID}, result.DeletedTweetIDs)
	assert.Empty(t, result.Errors)

	ids, err := env.reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{testIDOther}, ids)

	evs := env.drainEvents()
	require.Len(t, evs, 1)
	assert.Equal(t, domain.RemovedEvent{ID: testID}, evs[0])
}

func TestViewsSkipsMissingMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.reg.Submit(ctx, testID, "alice")
	require.NoError(t, err)

	views, err := env.reg.Views(ctx, []string{testID, testIDOther})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, testID, views[0].ID)
}

func TestStorageErrorsSurfaceAsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.reg.Submit(ctx, testID, "alice")
	require.NoError(t, err)

	// Swap in a store whose reads fail the way the real backends do.
	env.reg.store = &failingStore{fakeStore: env.store}

	_, err = env.reg.List(ctx)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)

	_, err = env.reg.Submit(ctx, testIDOther, "bob")
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.False(t, strings.Contains(err.Error(), "retry"), "registry must not retry internally")
}

type failingStore struct {
	*fakeStore
}

func (f *failingStore) ZScore(context.Context, string, string) (float64, bool, error) {
	return 0, false, domain.StorageError("fake", context.DeadlineExceeded)
}

func (f *failingStore) ZRangeRev(context.Context, string, int64, int64) ([]string, error) {
	return nil, domain.StorageError("fake", context.DeadlineExceeded)
}
