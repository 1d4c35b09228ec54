package database

import (
	"context"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// slowQueryThreshold marks queries worth surfacing at warn level.
const slowQueryThreshold = 500 * time.Millisecond

// Hook logs query durations and failures through zap.
type Hook struct {
	logger *zap.Logger
}

// NewHook creates a query hook bound to the given logger.
func NewHook(logger *zap.Logger) *Hook {
	return &Hook{logger: logger.Named("query")}
}

func (h *Hook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *Hook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)

	switch {
	case event.Err != nil:
		h.logger.Debug("Query failed",
			zap.String("operation", event.Operation()),
			zap.Duration("duration", duration),
			zap.Error(event.Err))
	case duration >= slowQueryThreshold:
		h.logger.Warn("Slow query",
			zap.String("operation", event.Operation()),
			zap.Duration("duration", duration),
			zap.String("query", event.Query))
	}
}
