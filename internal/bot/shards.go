package bot

// ShardIDsForCluster returns the contiguous shard range one cluster owns.
// Clusters own ceil(totalShards / totalClusters) shards each; the mapping
// must agree with the manager's guild-to-cluster routing.
func ShardIDsForCluster(clusterID, totalShards, totalClusters int) []int {
	perCluster := (totalShards + totalClusters - 1) / totalClusters

	first := clusterID * perCluster

	last := first + perCluster
	if last > totalShards {
		last = totalShards
	}

	ids := make([]int, 0, perCluster)
	for shardID := first; shardID < last; shardID++ {
		ids = append(ids, shardID)
	}

	return ids
}
