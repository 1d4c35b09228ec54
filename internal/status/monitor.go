// Package status tracks cluster liveness through Redis heartbeats.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// HeartbeatTTL is how long a cluster's status remains valid in Redis.
	HeartbeatTTL = 10 * time.Minute

	// StaleThreshold is how long before a cluster is considered offline.
	StaleThreshold = 1 * time.Minute
)

// Status represents one cluster's last reported state.
type Status struct {
	ClusterID  int       `json:"clusterId"`
	ShardIDs   []int     `json:"shardIds"`
	GuildCount int       `json:"guildCount"`
	LastSeen   time.Time `json:"lastSeen"`
	IsHealthy  bool      `json:"isHealthy"`
}

// Stale reports whether the status is older than StaleThreshold.
func (s Status) Stale(now time.Time) bool {
	return now.Sub(s.LastSeen) > StaleThreshold
}

// Monitor reads and writes cluster statuses in Redis.
type Monitor struct {
	client rueidis.Client
	logger *zap.Logger
}

// NewMonitor creates a cluster status monitor.
func NewMonitor(client rueidis.Client, logger *zap.Logger) *Monitor {
	return &Monitor{
		client: client,
		logger: logger,
	}
}

// ReportStatus updates a cluster's status in Redis.
func (m *Monitor) ReportStatus(ctx context.Context, status Status) error {
	status.LastSeen = time.Now()

	data, err := sonic.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := fmt.Sprintf("cluster:%d", status.ClusterID)

	err = m.client.Do(ctx, m.client.B().Set().Key(key).Value(string(data)).Ex(HeartbeatTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to store status: %w", err)
	}

	return nil
}

// GetAllStatuses retrieves every cluster's last reported status.
func (m *Monitor) GetAllStatuses(ctx context.Context) ([]Status, error) {
	keys, err := m.client.Do(ctx, m.client.B().Keys().Pattern("cluster:*").Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster keys: %w", err)
	}

	statuses := make([]Status, 0, len(keys))

	for _, key := range keys {
		data, err := m.client.Do(ctx, m.client.B().Get().Key(key).Build()).AsBytes()
		if err != nil {
			m.logger.Error("Failed to get cluster status", zap.String("key", key), zap.Error(err))
			continue
		}

		var status Status
		if err := sonic.Unmarshal(data, &status); err != nil {
			m.logger.Error("Failed to unmarshal cluster status", zap.String("key", key), zap.Error(err))
			continue
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// StaleClusters returns the clusters whose last heartbeat is older than
// StaleThreshold.
func (m *Monitor) StaleClusters(ctx context.Context) ([]Status, error) {
	statuses, err := m.GetAllStatuses(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	stale := make([]Status, 0)

	for _, status := range statuses {
		if status.Stale(now) {
			stale = append(stale, status)
		}
	}

	return stale, nil
}
