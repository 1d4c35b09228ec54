// Package watcher owns the monitored-account set and the periodic poll
// cycle that detects new posts and routes them to the owning clusters.
package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ninthbyte/threadwatch/internal/cache"
	"github.com/ninthbyte/threadwatch/internal/ipc"
	"github.com/ninthbyte/threadwatch/internal/setup/config"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// MonitoredUser is the manager's in-memory working copy of one followed
// account. It is a projection over guild records, rebuilt on startup and
// mutated only by poll results and explicit add/remove requests.
type MonitoredUser struct {
	ID          string
	GuildID     string
	Username    string
	LastPostID  string
	ChannelID   string
	RoleMention string
}

// PushSender routes a per-guild change batch to one cluster. The IPC server
// satisfies it.
type PushSender interface {
	Push(clusterID int, batch ipc.PushBatch) error
}

// Watcher runs the fixed-interval poll cycle over the monitored-account
// set, fanning batches out to a bounded worker pool and routing detected
// changes to the owning clusters.
type Watcher struct {
	cache  *cache.Cache
	poller *Poller
	sender PushSender
	logger *zap.Logger

	interval   time.Duration
	batchSize  int
	maxWorkers int

	totalShards   int
	totalClusters int

	mu        sync.Mutex
	monitored map[string]*MonitoredUser

	// Cycles never overlap; a tick arriving while the previous cycle still
	// runs is skipped.
	cycling atomic.Bool
}

// New creates a watcher. The monitored set starts empty until Start seeds
// it from the store; the push sender must be set before Start.
func New(
	guildCache *cache.Cache, poller *Poller,
	watcherCfg *config.Watcher, shardingCfg *config.Sharding, logger *zap.Logger,
) *Watcher {
	return &Watcher{
		cache:         guildCache,
		poller:        poller,
		logger:        logger.Named("watcher"),
		interval:      time.Duration(watcherCfg.Interval) * time.Second,
		batchSize:     watcherCfg.BatchSize,
		maxWorkers:    watcherCfg.MaxWorkers,
		totalShards:   shardingCfg.TotalShards,
		totalClusters: shardingCfg.TotalClusters,
		monitored:     make(map[string]*MonitoredUser),
	}
}

// SetSender wires the push sender. The IPC server and the watcher reference
// each other, so the sender arrives after construction and before Start.
func (w *Watcher) SetSender(sender PushSender) {
	w.sender = sender
}

// Start seeds the monitored set from guild records and runs poll cycles
// until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	if err := w.seed(ctx); err != nil {
		w.logger.Warn("Failed to seed monitored accounts, starting empty", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.cycling.CompareAndSwap(false, true) {
				w.logger.Warn("Previous poll cycle still running, skipping tick")
				continue
			}

			w.RunCycle(ctx)
			w.cycling.Store(false)
		}
	}
}

// seed rebuilds the monitored set from every guild with a non-empty follow
// list. This is the only bulk resync point; afterwards the set reconciles
// lazily through add/remove requests.
func (w *Watcher) seed(ctx context.Context) error {
	guilds, err := w.cache.GetAll(ctx, cache.HasFollows(), true, false)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, guild := range guilds {
		for _, followed := range guild.FollowedUsers {
			// An account is monitored once even when several guilds could
			// follow it; the first seeding guild wins.
			if _, exists := w.monitored[followed.ID]; exists {
				continue
			}

			w.monitored[followed.ID] = &MonitoredUser{
				ID:          followed.ID,
				GuildID:     guild.GuildID,
				Username:    followed.Username,
				LastPostID:  followed.LastPostID,
				ChannelID:   followed.ChannelID,
				RoleMention: followed.RoleMention,
			}
		}
	}

	w.logger.Info("Seeded monitored accounts", zap.Int("count", len(w.monitored)))

	return nil
}

// RunCycle executes one poll cycle: batch the snapshot, poll batches on the
// worker pool, merge results, persist new post IDs, and push per-guild
// changes to the owning clusters.
func (w *Watcher) RunCycle(ctx context.Context) {
	snapshot := w.snapshot()
	if len(snapshot) == 0 {
		return
	}

	start := time.Now()

	results := make(chan []ipc.PostUpdate, (len(snapshot)+w.batchSize-1)/w.batchSize)

	p := pool.New().WithMaxGoroutines(w.maxWorkers)
	for i := 0; i < len(snapshot); i += w.batchSize {
		batch := snapshot[i:min(i+w.batchSize, len(snapshot))]
		batchIndex := i / w.batchSize

		p.Go(func() {
			results <- w.poller.Poll(ctx, batch, batchIndex)
		})
	}

	p.Wait()
	close(results)

	// Merge is serialized here; workers share nothing.
	guildChanges := make(map[string][]ipc.PostUpdate)

	for updates := range results {
		for _, update := range updates {
			if guildID, ok := w.commit(update); ok {
				guildChanges[guildID] = append(guildChanges[guildID], update)
			}
		}
	}

	if len(guildChanges) == 0 {
		w.logger.Debug("Poll cycle found no changes",
			zap.Int("accounts", len(snapshot)),
			zap.Duration("took", time.Since(start)))

		return
	}

	w.persist(ctx, guildChanges)
	w.route(guildChanges)

	w.logger.Info("Poll cycle complete",
		zap.Int("accounts", len(snapshot)),
		zap.Int("guildsChanged", len(guildChanges)),
		zap.Duration("took", time.Since(start)))
}

// snapshot copies the monitored set for one cycle.
func (w *Watcher) snapshot() []MonitoredUser {
	w.mu.Lock()
	defer w.mu.Unlock()

	users := make([]MonitoredUser, 0, len(w.monitored))
	for _, user := range w.monitored {
		users = append(users, *user)
	}

	return users
}

// commit applies one poll result to the in-memory set, returning the owning
// guild. Accounts removed mid-cycle are ignored.
func (w *Watcher) commit(update ipc.PostUpdate) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	user, ok := w.monitored[update.ID]
	if !ok {
		return "", false
	}

	user.LastPostID = update.PostID

	return user.GuildID, true
}

// persist writes the changed accounts' new post IDs and avatars back
// through the data cache, one update per affected guild. The in-memory
// commit already happened; the durable write is the source of truth and a
// failure here is caught by the next cycle's diff.
func (w *Watcher) persist(ctx context.Context, guildChanges map[string][]ipc.PostUpdate) {
	for guildID, updates := range guildChanges {
		guild, err := w.cache.Get(ctx, guildID, false)
		if err != nil || guild == nil {
			w.logger.Warn("Skipping persist for guild without record", zap.String("guildID", guildID))
			continue
		}

		for _, update := range updates {
			if followed := guild.FollowedUser(update.ID); followed != nil {
				followed.LastPostID = update.PostID

				if update.AvatarURL != "" {
					followed.AvatarURL = update.AvatarURL
				}
			}
		}

		if _, err := w.cache.Update(ctx, guild); err != nil {
			w.logger.Warn("Failed to persist post updates",
				zap.String("guildID", guildID),
				zap.Error(err))
		}
	}
}

// route partitions the per-guild changes by owning cluster and pushes one
// batch per affected cluster.
func (w *Watcher) route(guildChanges map[string][]ipc.PostUpdate) {
	if w.sender == nil {
		return
	}

	clusterBatches := make(map[int]ipc.PushBatch)

	for guildID, updates := range guildChanges {
		clusterID := ClusterIDForGuild(guildID, w.totalShards, w.totalClusters)

		if clusterBatches[clusterID] == nil {
			clusterBatches[clusterID] = make(ipc.PushBatch)
		}

		clusterBatches[clusterID][guildID] = updates
	}

	for clusterID, batch := range clusterBatches {
		if err := w.sender.Push(clusterID, batch); err != nil {
			// Best-effort; the durable record already carries the new post
			// ID so nothing re-fires next cycle.
			w.logger.Warn("Failed to push batch to cluster",
				zap.Int("clusterID", clusterID),
				zap.Error(err))
		}
	}
}

// AddFollowedUser upserts a monitored account, filling missing fields from
// any existing entry. Idempotent by account ID; reports whether the account
// was already monitored.
func (w *Watcher) AddFollowedUser(guildID, userID, username, channelID, roleMention string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.monitored[userID]

	user := &MonitoredUser{
		ID:          userID,
		GuildID:     guildID,
		Username:    username,
		ChannelID:   channelID,
		RoleMention: roleMention,
	}

	if current != nil {
		user.LastPostID = current.LastPostID

		if user.Username == "" {
			user.Username = current.Username
		}

		if user.ChannelID == "" {
			user.ChannelID = current.ChannelID
		}

		if user.RoleMention == "" {
			user.RoleMention = current.RoleMention
		}
	}

	w.monitored[userID] = user

	return current != nil
}

// RemoveFollowedUser deletes the in-memory entry, reporting whether it
// existed. The caller persists the guild's follow list separately.
func (w *Watcher) RemoveFollowedUser(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.monitored[userID]; !ok {
		return false
	}

	delete(w.monitored, userID)

	return true
}

// Monitored returns the current size of the monitored set.
func (w *Watcher) Monitored() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.monitored)
}
