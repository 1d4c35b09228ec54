package bot_test

import (
	"strconv"
	"testing"

	"github.com/ninthbyte/threadwatch/internal/bot"
	"github.com/ninthbyte/threadwatch/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardIDsForCluster(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		clusterID     int
		totalShards   int
		totalClusters int
		want          []int
	}{
		{"even split first", 0, 16, 4, []int{0, 1, 2, 3}},
		{"even split last", 3, 16, 4, []int{12, 13, 14, 15}},
		{"uneven split middle", 1, 10, 3, []int{4, 5, 6, 7}},
		{"uneven split short tail", 2, 10, 3, []int{8, 9}},
		{"single cluster", 0, 4, 1, []int{0, 1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, bot.ShardIDsForCluster(tt.clusterID, tt.totalShards, tt.totalClusters))
		})
	}
}

// Every shard must be owned by exactly the cluster the manager routes its
// guilds to; the fleet disagrees on delivery otherwise.
func TestShardOwnershipAgreesWithRouting(t *testing.T) {
	t.Parallel()

	const (
		totalShards   = 10
		totalClusters = 3
	)

	owners := make(map[int]int)

	for clusterID := range totalClusters {
		for _, shardID := range bot.ShardIDsForCluster(clusterID, totalShards, totalClusters) {
			_, taken := owners[shardID]
			require.False(t, taken, "shard %d owned twice", shardID)
			owners[shardID] = clusterID
		}
	}

	require.Len(t, owners, totalShards)

	for shardID := range totalShards {
		guildID := strconv.FormatUint(uint64(shardID)<<22, 10)
		assert.Equal(t, owners[shardID],
			watcher.ClusterIDForGuild(guildID, totalShards, totalClusters),
			"routing and ownership disagree for shard %d", shardID)
	}
}
