package status

import (
	"context"
	"sync"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// Reporter handles automatic heartbeat reporting for one cluster.
type Reporter struct {
	monitor  *Monitor
	interval time.Duration
	status   Status
	stopChan chan struct{}
	stopped  bool
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewReporter creates a heartbeat reporter for the given cluster.
func NewReporter(
	client rueidis.Client, clusterID int, shardIDs []int,
	interval time.Duration, logger *zap.Logger,
) *Reporter {
	return &Reporter{
		monitor:  NewMonitor(client, logger),
		interval: interval,
		status: Status{
			ClusterID: clusterID,
			ShardIDs:  shardIDs,
			IsHealthy: true,
		},
		stopChan: make(chan struct{}),
		logger:   logger.Named("status_reporter"),
	}
}

// Start begins periodic heartbeat reporting.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()

	if r.stopped {
		r.mu.Unlock()
		return
	}

	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		if err := r.monitor.ReportStatus(ctx, r.snapshot()); err != nil {
			r.logger.Error("Failed to report initial status", zap.Error(err))
		}

		for {
			select {
			case <-ticker.C:
				if err := r.monitor.ReportStatus(ctx, r.snapshot()); err != nil {
					r.logger.Error("Failed to report status", zap.Error(err))
				}
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			}
		}
	}()
}

// Stop ends heartbeat reporting.
func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.stopped {
		close(r.stopChan)
		r.stopped = true
	}
}

// SetGuildCount updates the reported guild count.
func (r *Reporter) SetGuildCount(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.GuildCount = count
}

// SetHealthy updates the reported health flag.
func (r *Reporter) SetHealthy(healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.IsHealthy = healthy
}

func (r *Reporter) snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status
}
