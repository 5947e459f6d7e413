package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaobinji/RSSHub/internal/cache"
	"github.com/xiaobinji/RSSHub/internal/paginate"
	"github.com/xiaobinji/RSSHub/internal/twitter"
)

type fakeSource struct {
	name  string
	mu    sync.Mutex
	items []twitter.Item
	err   error
	calls atomic.Int32
	gate  chan struct{}
	last  twitter.Query
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, q twitter.Query) (twitter.Page, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return twitter.Page{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = q
	if f.err != nil {
		return twitter.Page{}, f.err
	}

	return twitter.Page{Items: append([]twitter.Item(nil), f.items...)}, nil
}

func (f *fakeSource) set(items []twitter.Item, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
	f.err = err
}

type fakeResolver struct {
	idents map[string]twitter.Identity
	purged []string
}

func (f *fakeResolver) Resolve(_ context.Context, handle string) (twitter.Identity, error) {
	ident, ok := f.idents[handle]
	if !ok {
		return twitter.Identity{}, twitter.ErrNotFound
	}
	return ident, nil
}

func (f *fakeResolver) Purge(_ context.Context, handle string) error {
	f.purged = append(f.purged, handle)
	return nil
}

type fixture struct {
	svc      *Service
	cache    *cache.Cache
	tweets   *fakeSource
	media    *fakeSource
	replies  *fakeSource
	resolver *fakeResolver
}

func newFixture(t *testing.T, routeTTL time.Duration) fixture {
	t.Helper()

	store, err := cache.NewMemoryStore(256)
	require.NoError(t, err)
	c := cache.New(store)

	f := fixture{
		cache:   c,
		tweets:  &fakeSource{name: "tweets"},
		media:   &fakeSource{name: "media"},
		replies: &fakeSource{name: "replies"},
		resolver: &fakeResolver{idents: map[string]twitter.Identity{
			"abc": {ID: 111, ScreenName: "abc"},
		}},
	}
	f.svc = NewService(Config{RouteTTL: routeTTL}, c, f.resolver, paginate.Walker{}, Sources{
		Tweets:  f.tweets,
		Media:   f.media,
		Replies: f.replies,
	})

	return f
}

func tweets(ids ...twitter.ID) []twitter.Item {
	out := make([]twitter.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, twitter.Item{ID: id, Author: twitter.Author{ID: 111}})
	}
	return out
}

func keys(items []twitter.Item) []twitter.ID {
	out := make([]twitter.ID, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestUserTimeline_FailingRepliesContributeNothing(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.tweets.set(tweets(50, 40, 30), nil)
	f.media.set(tweets(45), nil)
	f.replies.set(nil, errors.New("replies endpoint is gone"))

	got, err := f.svc.UserTimeline(context.Background(), "abc", twitter.Params{})
	require.NoError(t, err)
	assert.Equal(t, []twitter.ID{50, 45, 40, 30}, keys(got))
}

func TestUserTimeline_EverySourceFailing(t *testing.T) {
	f := newFixture(t, time.Minute)
	for _, src := range []*fakeSource{f.tweets, f.media, f.replies} {
		src.set(nil, errors.New("down"))
	}

	got, err := f.svc.UserTimeline(context.Background(), "abc", twitter.Params{})
	require.NoError(t, err)
	assert.Empty(t, got)

	// The empty result is still written through
	byts, ok, err := f.cache.Get(context.Background(), AccumulationKey(111))
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[]`, string(byts))
}

func TestUserTimeline_NotFound(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.svc.UserTimeline(context.Background(), "doesnotexist", twitter.Params{})
	assert.ErrorIs(t, err, twitter.ErrNotFound)
	assert.Zero(t, f.tweets.calls.Load())
}

func TestAggregate_Backfill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)

	stored, err := json.Marshal(tweets(30, 20))
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(ctx, AccumulationKey(111), stored, 0))

	f.tweets.set(tweets(50, 30), nil)

	got, err := f.svc.Aggregate(ctx, 111, twitter.Params{})
	require.NoError(t, err)
	assert.Equal(t, []twitter.ID{50, 30, 20}, keys(got))

	byts, ok, err := f.cache.Get(ctx, AccumulationKey(111))
	require.NoError(t, err)
	require.True(t, ok)
	var written []twitter.Item
	require.NoError(t, json.Unmarshal(byts, &written))
	assert.Equal(t, []twitter.ID{50, 30, 20}, keys(written))
}

func TestAggregate_BackfillSurvivesOutage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)

	f.tweets.set(tweets(3, 2, 1), nil)
	first, err := f.svc.Aggregate(ctx, 111, twitter.Params{})
	require.NoError(t, err)

	// Drop the memoized walk so the next aggregate goes upstream again.
	key, err := routeKey(111, "tweets", twitter.Params{})
	require.NoError(t, err)
	require.NoError(t, f.cache.Delete(ctx, key))

	f.tweets.set(nil, errors.New("rate limited"))
	second, err := f.svc.Aggregate(ctx, 111, twitter.Params{})
	require.NoError(t, err)
	assert.Equal(t, keys(first), keys(second))
	assert.Equal(t, int32(2), f.tweets.calls.Load())
}

func TestAggregate_CorruptAccumulationIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	require.NoError(t, f.cache.Set(ctx, AccumulationKey(111), []byte("{garbage"), 0))

	f.tweets.set(tweets(7), nil)

	got, err := f.svc.Aggregate(ctx, 111, twitter.Params{})
	require.NoError(t, err)
	assert.Equal(t, []twitter.ID{7}, keys(got))
}

func TestAggregate_ReplyFilter(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.tweets.set([]twitter.Item{
		{ID: 10},
		{ID: 11, InReplyToUserID: 111, InReplyToStatusID: 10},
		{ID: 12, InReplyToUserID: 999, InReplyToStatusID: 5},
		{ConversationID: 9},
		{},
	}, nil)

	got, err := f.svc.Aggregate(context.Background(), 111, twitter.Params{})
	require.NoError(t, err)
	assert.Equal(t, []twitter.ID{11, 10}, keys(got))
	for _, it := range got {
		assert.True(t, it.InReplyToUserID.IsZero() || it.InReplyToUserID == 111)
	}
}

func TestOrder_DropsItemsWithoutID(t *testing.T) {
	got := order([]twitter.Item{
		{ID: 50, ConversationID: 50},
		{ConversationID: 10},
		{ConversationID: 20},
		{ConversationID: 50, Text: "tombstone"},
	}, DefaultPageSize)

	require.Len(t, got, 1)
	assert.Equal(t, twitter.ID(50), got[0].ID)
	assert.Empty(t, got[0].Text)
}

func TestAggregate_DropsItemsWithoutID(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.tweets.set([]twitter.Item{{ID: 50}, {ConversationID: 10}, {ConversationID: 20}}, nil)
	f.media.set([]twitter.Item{{ConversationID: 50}}, nil)

	got, err := f.svc.Aggregate(context.Background(), 111, twitter.Params{})
	require.NoError(t, err)
	assert.Equal(t, []twitter.ID{50}, keys(got))
}

func TestAggregate_DedupeKeepsFirstOccurrence(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.tweets.set([]twitter.Item{{ID: 5, Text: "from tweets"}}, nil)
	f.media.set([]twitter.Item{{ID: 5, Text: "from media"}, {ID: 6}}, nil)

	got, err := f.svc.Aggregate(context.Background(), 111, twitter.Params{})
	require.NoError(t, err)
	require.Equal(t, []twitter.ID{6, 5}, keys(got))
	assert.Equal(t, "from tweets", got[1].Text)
}

func TestAggregate_OrdersBeyondFloatPrecision(t *testing.T) {
	f := newFixture(t, time.Minute)
	// Both round to the same float64
	f.tweets.set(tweets(9007199254740992, 9007199254740993), nil)

	got, err := f.svc.Aggregate(context.Background(), 111, twitter.Params{})
	require.NoError(t, err)
	assert.Equal(t, []twitter.ID{9007199254740993, 9007199254740992}, keys(got))
}

func TestAggregate_TruncatesToPageSize(t *testing.T) {
	f := newFixture(t, time.Minute)

	var ids []twitter.ID
	for i := range 30 {
		ids = append(ids, twitter.ID(i+1))
	}
	f.tweets.set(tweets(ids...), nil)

	got, err := f.svc.Aggregate(context.Background(), 111, twitter.Params{})
	require.NoError(t, err)
	require.Len(t, got, DefaultPageSize)
	assert.Equal(t, twitter.ID(30), got[0].ID)
	assert.Equal(t, twitter.ID(11), got[DefaultPageSize-1].ID)
}

func TestAggregate_CountTrimsResponseOnly(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.tweets.set(tweets(9, 7, 5, 3), nil)

	got, err := f.svc.Aggregate(context.Background(), 111, twitter.Params{Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []twitter.ID{9, 7}, keys(got))

	byts, ok, err := f.cache.Get(context.Background(), AccumulationKey(111))
	require.NoError(t, err)
	require.True(t, ok)

	var stored []twitter.Item
	require.NoError(t, json.Unmarshal(byts, &stored))
	assert.Equal(t, []twitter.ID{9, 7, 5, 3}, keys(stored))
}

func TestAggregate_FetchesFullPagesWhateverTheCount(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.tweets.set(tweets(9, 7, 5), nil)

	_, err := f.svc.Aggregate(context.Background(), 111, twitter.Params{Count: 1})
	require.NoError(t, err)
	assert.Zero(t, f.tweets.last.Params.Count)

	// Another count is served from the same route entry
	got, err := f.svc.Aggregate(context.Background(), 111, twitter.Params{Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []twitter.ID{9, 7}, keys(got))
	assert.Equal(t, int32(1), f.tweets.calls.Load())
}

func TestAggregate_Idempotent(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.tweets.set(tweets(8, 3), nil)
	f.media.set(tweets(5), nil)

	first, err := f.svc.Aggregate(context.Background(), 111, twitter.Params{})
	require.NoError(t, err)
	second, err := f.svc.Aggregate(context.Background(), 111, twitter.Params{})
	require.NoError(t, err)

	assert.Equal(t, keys(first), keys(second))
	// The second run came out of the route cache
	assert.Equal(t, int32(1), f.tweets.calls.Load())
}

func TestAggregate_CanceledWritesNothing(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.tweets.gate = make(chan struct{})
	defer close(f.tweets.gate)
	f.tweets.set(tweets(1), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.svc.Aggregate(ctx, 111, twitter.Params{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, ok, err := f.cache.Get(context.Background(), AccumulationKey(111))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetch_ConcurrentCallersShareOneWalk(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.tweets.gate = make(chan struct{})
	f.tweets.set(tweets(1), nil)

	const n = 5
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := f.svc.fetch(context.Background(), f.tweets, 111, twitter.Params{})
			assert.NoError(t, err)
			assert.Len(t, items, 1)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(f.tweets.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.tweets.calls.Load())
}

func TestFetch_ParamsArePartOfTheKey(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.tweets.set(tweets(1), nil)

	_, err := f.svc.fetch(context.Background(), f.tweets, 111, twitter.Params{Count: 10})
	require.NoError(t, err)
	_, err = f.svc.fetch(context.Background(), f.tweets, 111, twitter.Params{Count: 20})
	require.NoError(t, err)

	assert.Equal(t, int32(2), f.tweets.calls.Load())
}

func TestFetch_ErrorsAreRetried(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.tweets.set(nil, errors.New("flaky"))

	_, err := f.svc.fetch(context.Background(), f.tweets, 111, twitter.Params{})
	require.Error(t, err)

	f.tweets.set(tweets(1), nil)
	items, err := f.svc.fetch(context.Background(), f.tweets, 111, twitter.Params{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
