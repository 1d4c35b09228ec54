package database

import (
	"context"

	"github.com/ninthbyte/threadwatch/internal/database/models"
)

// GuildStore pairs the guild model with the connection's ping so it can
// serve as the cache's durable boundary.
type GuildStore struct {
	*models.GuildModel

	client Client
}

// NewGuildStore wraps an established connection.
func NewGuildStore(client Client) *GuildStore {
	return &GuildStore{
		GuildModel: client.Model().Guild(),
		client:     client,
	}
}

// Ping reports whether the store is reachable.
func (s *GuildStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
