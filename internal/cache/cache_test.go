package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ninthbyte/threadwatch/internal/cache"
	"github.com/ninthbyte/threadwatch/internal/database/models"
	"github.com/ninthbyte/threadwatch/internal/database/types"
	"github.com/ninthbyte/threadwatch/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore is an in-memory stand-in for the durable store that counts
// calls so tests can assert when the cache reached through.
type fakeStore struct {
	mu     sync.Mutex
	guilds map[string]*types.Guild

	gets    int
	lists   int
	updates int

	lastExcludeIDs []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{guilds: make(map[string]*types.Guild)}
}

func (s *fakeStore) Get(_ context.Context, guildID string) (*types.Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gets++

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

	s.updates++

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

	s.lists++
	s.lastExcludeIDs = excludeIDs

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

func (s *fakeStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.gets
}

func setupCache(t *testing.T) (*cache.Cache, *fakeStore) {
	t.Helper()

	store := newFakeStore()
	c := cache.New(store, &config.Cache{
		Enabled:       true,
		SweepInterval: 60,
		StaleFactor:   5,
		ProbeInterval: 30,
	}, zap.NewNop())

	return c, store
}

func TestGetServesFromCacheAfterDurableRead(t *testing.T) {
	t.Parallel()

	c, store := setupCache(t)
	ctx := t.Context()

	store.guilds["g1"] = &types.Guild{GuildID: "g1", FollowedUsers: []types.FollowedUser{
		{ID: "u1", Username: "alice"},
	}}

	first, err := c.Get(ctx, "g1", false)
	require.NoError(t, err)
	require.Equal(t, "g1", first.GuildID)
	assert.Equal(t, 1, store.getCount())

	second, err := c.Get(ctx, "g1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, store.getCount(), "second read should be a cache hit")
	assert.Equal(t, first.FollowedUsers, second.FollowedUsers)
}

func TestGetReturnsClones(t *testing.T) {
	t.Parallel()

	c, store := setupCache(t)
	ctx := t.Context()

	store.guilds["g1"] = &types.Guild{GuildID: "g1", FollowedUsers: []types.FollowedUser{
		{ID: "u1", Username: "alice"},
	}}

	first, err := c.Get(ctx, "g1", false)
	require.NoError(t, err)

	first.FollowedUsers[0].Username = "mutated"

	second, err := c.Get(ctx, "g1", false)
	require.NoError(t, err)
	assert.Equal(t, "alice", second.FollowedUsers[0].Username,
		"mutating a returned record must not alias cached state")
}

func TestGetNegativeCacheShortCircuits(t *testing.T) {
	t.Parallel()

	c, store := setupCache(t)
	ctx := t.Context()

	_, err := c.Get(ctx, "missing", false)
	require.ErrorIs(t, err, cache.ErrNotFound)
	assert.Equal(t, 1, store.getCount())

	_, err = c.Get(ctx, "missing", false)
	require.ErrorIs(t, err, cache.ErrNotFound)
	assert.Equal(t, 1, store.getCount(), "negative-cached miss must not reach the store")
}

func TestCreateClearsNegativeCache(t *testing.T) {
	t.Parallel()

	c, store := setupCache(t)
	ctx := t.Context()

	_, err := c.Get(ctx, "g1", false)
	require.ErrorIs(t, err, cache.ErrNotFound)

	_, err = c.Create(ctx, &types.Guild{GuildID: "g1"})
	require.NoError(t, err)

	got, err := c.Get(ctx, "g1", false)
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GuildID)
	assert.Equal(t, 1, store.getCount(), "created record should be served from cache")
}

func TestGetCreateOnFail(t *testing.T) {
	t.Parallel()

	c, store := setupCache(t)
	ctx := t.Context()

	got, err := c.Get(ctx, "g1", true)
	require.NoError(t, err)
	require.Equal(t, "g1", got.GuildID)
	assert.Empty(t, got.FollowedUsers)

	store.mu.Lock()
	_, exists := store.guilds["g1"]
	store.mu.Unlock()
	assert.True(t, exists, "create-on-fail must insert durably")
}

func TestGetCreateOnFailBypassesNegativeCache(t *testing.T) {
	t.Parallel()

	c, _ := setupCache(t)
	ctx := t.Context()

	_, err := c.Get(ctx, "g1", false)
	require.ErrorIs(t, err, cache.ErrNotFound)

	got, err := c.Get(ctx, "g1", true)
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GuildID)
}

func TestUpdateNegativeCachedIsNoOp(t *testing.T) {
	t.Parallel()

	c, store := setupCache(t)
	ctx := t.Context()

	_, err := c.Get(ctx, "g1", false)
	require.ErrorIs(t, err, cache.ErrNotFound)

	_, err = c.Update(ctx, &types.Guild{GuildID: "g1"})
	require.ErrorIs(t, err, cache.ErrNotFound)
	assert.Zero(t, store.updates, "negative-cached update must not reach the store")
}

func TestDeleteWithRecreate(t *testing.T) {
	t.Parallel()

	c, store := setupCache(t)
	ctx := t.Context()

	_, err := c.Create(ctx, &types.Guild{GuildID: "g1", FollowedUsers: []types.FollowedUser{
		{ID: "u1", Username: "alice"},
	}})
	require.NoError(t, err)

	got, err := c.Delete(ctx, "g1", true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.FollowedUsers)

	store.mu.Lock()
	stored := store.guilds["g1"]
	store.mu.Unlock()
	require.NotNil(t, stored)
	assert.Empty(t, stored.FollowedUsers)
}

func TestUnavailableFailsFast(t *testing.T) {
	t.Parallel()

	c, store := setupCache(t)
	ctx := t.Context()

	c.SetAvailable(false)

	_, err := c.Get(ctx, "g1", false)
	assert.ErrorIs(t, err, cache.ErrUnavailable)

	_, err = c.Create(ctx, &types.Guild{GuildID: "g1"})
	assert.ErrorIs(t, err, cache.ErrUnavailable)

	_, err = c.Update(ctx, &types.Guild{GuildID: "g1"})
	assert.ErrorIs(t, err, cache.ErrUnavailable)

	_, err = c.Delete(ctx, "g1", false)
	assert.ErrorIs(t, err, cache.ErrUnavailable)

	_, err = c.GetAll(ctx, nil, false, false)
	assert.ErrorIs(t, err, cache.ErrUnavailable)

	assert.Zero(t, store.getCount(), "unavailable store must not be called")
}

func TestSweepEvictsStaleEntriesOnly(t *testing.T) {
	t.Parallel()

	c, store := setupCache(t)
	ctx := t.Context()

	_, err := c.Create(ctx, &types.Guild{GuildID: "g1"})
	require.NoError(t, err)
	require.Equal(t, 1, c.Size())

	assert.Zero(t, c.Sweep(time.Now()), "fresh entries survive a sweep")
	assert.Equal(t, 1, c.Size())

	// Staleness window is sweep interval times stale factor.
	stale := time.Now().Add(60*5*time.Second + time.Second)
	assert.Equal(t, 1, c.Sweep(stale))
	assert.Zero(t, c.Size())

	// Sweeping never touches the negative cache.
	_, err = c.Get(ctx, "missing", false)
	require.ErrorIs(t, err, cache.ErrNotFound)

	before := store.getCount()
	c.Sweep(stale.Add(time.Hour))

	_, err = c.Get(ctx, "missing", false)
	require.ErrorIs(t, err, cache.ErrNotFound)
	assert.Equal(t, before, store.getCount())
}

func TestGetAllCacheOnly(t *testing.T) {
	t.Parallel()

	c, store := setupCache(t)
	ctx := t.Context()

	_, err := c.Create(ctx, &types.Guild{GuildID: "cached", FollowedUsers: []types.FollowedUser{
		{ID: "u1"},
	}})
	require.NoError(t, err)

	// Durable-only record the cache has never seen.
	store.guilds["durable"] = &types.Guild{GuildID: "durable", FollowedUsers: []types.FollowedUser{
		{ID: "u2"},
	}}

	lists := store.lists

	guilds, err := c.GetAll(ctx, cache.HasFollows(), false, false)
	require.NoError(t, err)
	require.Len(t, guilds, 1)
	assert.Equal(t, "cached", guilds[0].GuildID)
	assert.Equal(t, lists, store.lists, "cache-only scan must not query the store")
}

func TestGetAllPartialMergesStore(t *testing.T) {
	t.Parallel()

	c, store := setupCache(t)
	ctx := t.Context()

	_, err := c.Create(ctx, &types.Guild{GuildID: "cached", FollowedUsers: []types.FollowedUser{
		{ID: "u1"},
	}})
	require.NoError(t, err)

	store.guilds["durable"] = &types.Guild{GuildID: "durable", FollowedUsers: []types.FollowedUser{
		{ID: "u2"},
	}}

	guilds, err := c.GetAll(ctx, cache.HasFollows(), true, false)
	require.NoError(t, err)
	require.Len(t, guilds, 2)
	assert.Equal(t, []string{"cached"}, store.lastExcludeIDs,
		"store half must exclude ids the cache satisfied")
}

func TestGetAllForceDurableBypassesCache(t *testing.T) {
	t.Parallel()

	c, store := setupCache(t)
	ctx := t.Context()

	_, err := c.Create(ctx, &types.Guild{GuildID: "cached", FollowedUsers: []types.FollowedUser{
		{ID: "u1"},
	}})
	require.NoError(t, err)

	store.guilds["durable"] = &types.Guild{GuildID: "durable", FollowedUsers: []types.FollowedUser{
		{ID: "u2"},
	}}

	guilds, err := c.GetAll(ctx, cache.HasFollows(), false, true)
	require.NoError(t, err)
	require.Len(t, guilds, 2)
	assert.Nil(t, store.lastExcludeIDs)
}
