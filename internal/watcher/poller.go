package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/ninthbyte/threadwatch/internal/ipc"
	"github.com/ninthbyte/threadwatch/internal/threads"
	"go.uber.org/zap"
)

// Fetcher is the slice of the Threads client a poll batch needs.
type Fetcher interface {
	LastPost(ctx context.Context, userID, username string) (*threads.Post, error)
}

// Poller fetches one batch of monitored accounts and reports which of them
// have a new post. It holds no shared state and never touches the store;
// it is a pure fetch-and-diff over its input batch.
type Poller struct {
	fetcher Fetcher
	delay   time.Duration
	logger  *zap.Logger
}

// NewPoller creates a poller with the given inter-request delay.
func NewPoller(fetcher Fetcher, delay time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		fetcher: fetcher,
		delay:   delay,
		logger:  logger.Named("poller"),
	}
}

// Poll fetches the batch sequentially with a fixed delay between accounts
// and returns a change record for every account whose latest post differs
// from its known post ID. Individual fetch failures yield no change record
// and never abort the batch. The batch index is diagnostic only.
func (p *Poller) Poll(ctx context.Context, batch []MonitoredUser, batchIndex int) []ipc.PostUpdate {
	p.logger.Debug("Polling batch",
		zap.Int("batchIndex", batchIndex),
		zap.Int("accounts", len(batch)))

	updates := make([]ipc.PostUpdate, 0, len(batch))

	for i, user := range batch {
		if i > 0 {
			select {
			case <-ctx.Done():
				return updates
			case <-time.After(p.delay):
			}
		}

		post, err := p.fetcher.LastPost(ctx, user.ID, user.Username)
		if err != nil {
			switch {
			case errors.Is(err, threads.ErrRateLimited):
				p.logger.Warn("Rate limited while polling, will retry next cycle",
					zap.String("userID", user.ID))
			case errors.Is(err, threads.ErrNotFound):
				p.logger.Debug("No posts for account", zap.String("userID", user.ID))
			default:
				p.logger.Debug("Fetch failed for account",
					zap.String("userID", user.ID),
					zap.Error(err))
			}

			continue
		}

		if post.PostID == user.LastPostID {
			continue
		}

		updates = append(updates, ipc.PostUpdate{
			ID:          user.ID,
			PostID:      post.PostID,
			Username:    user.Username,
			Content:     post.Content,
			AvatarURL:   post.AvatarURL,
			ImageURL:    post.ImageURL,
			PostURL:     post.PostURL,
			ChannelID:   user.ChannelID,
			RoleMention: user.RoleMention,
		})
	}

	return updates
}
