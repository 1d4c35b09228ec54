package status_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ninthbyte/threadwatch/internal/status"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMonitor(t *testing.T) (*status.Monitor, rueidis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return status.NewMonitor(client, zap.NewNop()), client
}

func TestReportAndGetStatuses(t *testing.T) {
	t.Parallel()

	monitor, _ := setupMonitor(t)
	ctx := t.Context()

	require.NoError(t, monitor.ReportStatus(ctx, status.Status{
		ClusterID:  0,
		ShardIDs:   []int{0, 1, 2, 3},
		GuildCount: 42,
		IsHealthy:  true,
	}))
	require.NoError(t, monitor.ReportStatus(ctx, status.Status{
		ClusterID: 1,
		ShardIDs:  []int{4, 5, 6, 7},
		IsHealthy: false,
	}))

	statuses, err := monitor.GetAllStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byID := make(map[int]status.Status, len(statuses))
	for _, s := range statuses {
		byID[s.ClusterID] = s
	}

	assert.Equal(t, 42, byID[0].GuildCount)
	assert.True(t, byID[0].IsHealthy)
	assert.False(t, byID[1].IsHealthy)
	assert.WithinDuration(t, time.Now(), byID[0].LastSeen, time.Minute)
}

func TestReportOverwritesPrevious(t *testing.T) {
	t.Parallel()

	monitor, _ := setupMonitor(t)
	ctx := t.Context()

	require.NoError(t, monitor.ReportStatus(ctx, status.Status{ClusterID: 2, GuildCount: 1}))
	require.NoError(t, monitor.ReportStatus(ctx, status.Status{ClusterID: 2, GuildCount: 9}))

	statuses, err := monitor.GetAllStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, 9, statuses[0].GuildCount)
}

func TestStaleDetection(t *testing.T) {
	t.Parallel()

	now := time.Now()

	fresh := status.Status{ClusterID: 0, LastSeen: now.Add(-10 * time.Second)}
	stale := status.Status{ClusterID: 1, LastSeen: now.Add(-2 * time.Minute)}

	assert.False(t, fresh.Stale(now))
	assert.True(t, stale.Stale(now))
}

func TestReporterHeartbeats(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	reporter := status.NewReporter(client, 5, []int{20, 21}, 10*time.Millisecond, zap.NewNop())
	reporter.SetGuildCount(7)

	ctx := t.Context()
	reporter.Start(ctx)
	t.Cleanup(reporter.Stop)

	monitor := status.NewMonitor(client, zap.NewNop())

	require.Eventually(t, func() bool {
		statuses, err := monitor.GetAllStatuses(ctx)
		return err == nil && len(statuses) == 1 && statuses[0].ClusterID == 5
	}, time.Second, 10*time.Millisecond)

	statuses, err := monitor.GetAllStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, statuses[0].GuildCount)
	assert.Equal(t, []int{20, 21}, statuses[0].ShardIDs)
}
