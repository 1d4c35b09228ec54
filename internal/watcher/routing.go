package watcher

import "github.com/disgoorg/snowflake/v2"

// ShardIDForGuild maps a guild to its gateway shard using Discord's
// standard sharding formula.
func ShardIDForGuild(guildID string, totalShards int) int {
	id, err := snowflake.Parse(guildID)
	if err != nil {
		return 0
	}

	return int((uint64(id) >> 22) % uint64(totalShards))
}

// ClusterIDForGuild maps a guild to the cluster that owns its shard.
// Clusters own contiguous shard ranges of size ceil(totalShards /
// totalClusters); every process in the fleet must use the same topology for
// the mapping to agree.
func ClusterIDForGuild(guildID string, totalShards, totalClusters int) int {
	shardID := ShardIDForGuild(guildID, totalShards)
	perCluster := (totalShards + totalClusters - 1) / totalClusters

	return shardID / perCluster
}
