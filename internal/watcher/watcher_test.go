package watcher_test

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/ninthbyte/threadwatch/internal/cache"
	"github.com/ninthbyte/threadwatch/internal/database/models"
	"github.com/ninthbyte/threadwatch/internal/database/types"
	"github.com/ninthbyte/threadwatch/internal/ipc"
	"github.com/ninthbyte/threadwatch/internal/setup/config"
	"github.com/ninthbyte/threadwatch/internal/threads"
	"github.com/ninthbyte/threadwatch/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFetcher serves canned posts per account and can run a hook before
// answering, so tests can interleave removals with a running cycle.
type fakeFetcher struct {
	mu     sync.Mutex
	posts  map[string]*threads.Post
	errs   map[string]error
	onPoll func(userID string)
}

func (f *fakeFetcher) LastPost(_ context.Context, userID, _ string) (*threads.Post, error) {
	f.mu.Lock()
	hook := f.onPoll
	post, okPost := f.posts[userID]
	err, okErr := f.errs[userID]
	f.mu.Unlock()

	if hook != nil {
		hook(userID)
	}

	if okErr {
		return nil, err
	}

	if !okPost {
		return nil, threads.ErrNotFound
	}

	return post, nil
}

// fakeStore is the minimal durable store behind the cache in these tests.
type fakeStore struct {
	mu     sync.Mutex
	guilds map[string]*types.Guild
}

func (s *fakeStore) Get(_ context.Context, guildID string) (*types.Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.guilds[guildID]
	if !ok {
		return nil, models.ErrGuildNotFound
	}

	return g.Clone(), nil
}

func (s *fakeStore) Create(_ context.Context, guild *types.Guild) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.guilds[guild.GuildID] = guild.Clone()

	return nil
}

func (s *fakeStore) Update(_ context.Context, guild *types.Guild) (*types.Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.guilds[guild.GuildID]; !ok {
		return nil, models.ErrGuildNotFound
	}

	s.guilds[guild.GuildID] = guild.Clone()

	return guild.Clone(), nil
}

func (s *fakeStore) Delete(_ context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.guilds, guildID)

	return nil
}

func (s *fakeStore) List(_ context.Context, excludeIDs []string) ([]*types.Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}

	guilds := make([]*types.Guild, 0, len(s.guilds))

	for id, g := range s.guilds {
		if _, skip := excluded[id]; skip {
			continue
		}

		guilds = append(guilds, g.Clone())
	}

	return guilds, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

// pushSink records pushed batches per cluster.
type pushSink struct {
	mu      sync.Mutex
	batches map[int][]ipc.PushBatch
}

func newPushSink() *pushSink {
	return &pushSink{batches: make(map[int][]ipc.PushBatch)}
}

func (p *pushSink) Push(clusterID int, batch ipc.PushBatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batches[clusterID] = append(p.batches[clusterID], batch)

	return nil
}

func (p *pushSink) all() map[int][]ipc.PushBatch {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[int][]ipc.PushBatch, len(p.batches))
	for k, v := range p.batches {
		out[k] = append([]ipc.PushBatch(nil), v...)
	}

	return out
}

func setupWatcher(t *testing.T) (*watcher.Watcher, *fakeFetcher, *fakeStore, *pushSink) {
	t.Helper()

	logger := zap.NewNop()
	store := &fakeStore{guilds: make(map[string]*types.Guild)}

	guildCache := cache.New(store, &config.Cache{
		Enabled:       true,
		SweepInterval: 60,
		StaleFactor:   5,
		ProbeInterval: 30,
	}, logger)

	fetcher := &fakeFetcher{
		posts: make(map[string]*threads.Post),
		errs:  make(map[string]error),
	}

	w := watcher.New(
		guildCache,
		watcher.NewPoller(fetcher, 0, logger),
		&config.Watcher{Interval: 900, BatchSize: 2, MaxWorkers: 2, FetchDelay: 0},
		&config.Sharding{TotalShards: 16, TotalClusters: 4},
		logger,
	)

	sink := newPushSink()
	w.SetSender(sink)

	return w, fetcher, store, sink
}

// guildIDForCluster builds a snowflake whose shard lands on the given
// cluster under the 16-shard, 4-cluster test topology.
func guildIDForCluster(clusterID int) string {
	shard := uint64(clusterID * 4)
	return strconv.FormatUint(shard<<22, 10)
}

func TestRunCycleDetectsNewPost(t *testing.T) {
	t.Parallel()

	w, fetcher, store, sink := setupWatcher(t)
	ctx := t.Context()

	guildID := guildIDForCluster(1)
	store.guilds[guildID] = &types.Guild{GuildID: guildID, FollowedUsers: []types.FollowedUser{
		{ID: "u1", Username: "alice", LastPostID: "p1", ChannelID: "c1"},
	}}

	w.AddFollowedUser(guildID, "u1", "alice", "c1", "")
	fetcher.posts["u1"] = &threads.Post{UserID: "u1", PostID: "p2", Username: "alice", Content: "hi"}

	w.RunCycle(ctx)

	batches := sink.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[1], 1, "change should route to cluster 1")

	updates := batches[1][0][guildID]
	require.Len(t, updates, 1)
	assert.Equal(t, "p2", updates[0].PostID)
	assert.Equal(t, "c1", updates[0].ChannelID)

	// New post ID is persisted through the cache.
	store.mu.Lock()
	persisted := store.guilds[guildID].FollowedUsers[0].LastPostID
	store.mu.Unlock()
	assert.Equal(t, "p2", persisted)
}

func TestRunCycleNoChangeNoPush(t *testing.T) {
	t.Parallel()

	w, fetcher, _, sink := setupWatcher(t)
	ctx := t.Context()

	w.AddFollowedUser(guildIDForCluster(0), "u1", "alice", "c1", "")
	fetcher.posts["u1"] = &threads.Post{UserID: "u1", PostID: "p1"}

	// Seed the known post ID, then poll again with the same post.
	w.RunCycle(ctx)
	fetcherPostUnchanged := sink.all()

	w.RunCycle(ctx)

	assert.Equal(t, fetcherPostUnchanged, sink.all(), "unchanged post must not push again")
}

func TestRunCycleSwallowsFetchErrors(t *testing.T) {
	t.Parallel()

	w, fetcher, store, sink := setupWatcher(t)
	ctx := t.Context()

	guildID := guildIDForCluster(0)
	store.guilds[guildID] = &types.Guild{GuildID: guildID, FollowedUsers: []types.FollowedUser{
		{ID: "u1", Username: "alice", LastPostID: "p1", ChannelID: "c1"},
		{ID: "u2", Username: "bob", LastPostID: "q1", ChannelID: "c1"},
	}}

	w.AddFollowedUser(guildID, "u1", "alice", "c1", "")
	w.AddFollowedUser(guildID, "u2", "bob", "c1", "")

	fetcher.errs["u1"] = threads.ErrRateLimited
	fetcher.posts["u2"] = &threads.Post{UserID: "u2", PostID: "q2", Username: "bob"}

	w.RunCycle(ctx)

	batches := sink.all()
	require.Len(t, batches[0], 1, "healthy account still reported despite sibling failure")

	updates := batches[0][0][guildID]
	require.Len(t, updates, 1)
	assert.Equal(t, "u2", updates[0].ID)
}

func TestRunCycleIgnoresAccountRemovedMidCycle(t *testing.T) {
	t.Parallel()

	w, fetcher, store, sink := setupWatcher(t)
	ctx := t.Context()

	guildID := guildIDForCluster(0)
	store.guilds[guildID] = &types.Guild{GuildID: guildID, FollowedUsers: []types.FollowedUser{
		{ID: "u1", Username: "alice", LastPostID: "p1", ChannelID: "c1"},
	}}

	w.AddFollowedUser(guildID, "u1", "alice", "c1", "")
	fetcher.posts["u1"] = &threads.Post{UserID: "u1", PostID: "p2"}

	// The account is unfollowed while its fetch is in flight.
	fetcher.onPoll = func(userID string) {
		w.RemoveFollowedUser(userID)
	}

	w.RunCycle(ctx)

	assert.Empty(t, sink.all(), "result for a removed account must be dropped")
}

func TestRunCyclePartitionsByCluster(t *testing.T) {
	t.Parallel()

	w, fetcher, store, sink := setupWatcher(t)
	ctx := t.Context()

	guildA := guildIDForCluster(0)
	guildB := guildIDForCluster(3)

	store.guilds[guildA] = &types.Guild{GuildID: guildA, FollowedUsers: []types.FollowedUser{
		{ID: "u1", Username: "alice", LastPostID: "p1", ChannelID: "c1"},
	}}
	store.guilds[guildB] = &types.Guild{GuildID: guildB, FollowedUsers: []types.FollowedUser{
		{ID: "u2", Username: "bob", LastPostID: "q1", ChannelID: "c2"},
	}}

	w.AddFollowedUser(guildA, "u1", "alice", "c1", "")
	w.AddFollowedUser(guildB, "u2", "bob", "c2", "")

	fetcher.posts["u1"] = &threads.Post{UserID: "u1", PostID: "p2"}
	fetcher.posts["u2"] = &threads.Post{UserID: "u2", PostID: "q2"}

	w.RunCycle(ctx)

	batches := sink.all()
	require.Len(t, batches, 2)
	assert.Contains(t, batches, 0)
	assert.Contains(t, batches, 3)
}

func TestAddFollowedUserIdempotent(t *testing.T) {
	t.Parallel()

	w, _, _, _ := setupWatcher(t)

	existed := w.AddFollowedUser("g1", "u1", "alice", "c1", "")
	assert.False(t, existed)
	assert.Equal(t, 1, w.Monitored())

	// Re-add with missing fields keeps the known ones.
	existed = w.AddFollowedUser("g1", "u1", "", "", "")
	assert.True(t, existed)
	assert.Equal(t, 1, w.Monitored())
}

func TestRemoveFollowedUser(t *testing.T) {
	t.Parallel()

	w, _, _, _ := setupWatcher(t)

	w.AddFollowedUser("g1", "u1", "alice", "c1", "")

	assert.True(t, w.RemoveFollowedUser("u1"))
	assert.False(t, w.RemoveFollowedUser("u1"))
	assert.Zero(t, w.Monitored())
}
