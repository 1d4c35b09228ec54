package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ninthbyte/threadwatch/internal/database/dbretry"
	"github.com/ninthbyte/threadwatch/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ErrGuildNotFound is returned when a guild record does not exist durably.
var ErrGuildNotFound = errors.New("guild record not found")

// GuildModel handles database operations for guild follow-list records.
type GuildModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewGuild creates a GuildModel for managing guild records.
func NewGuild(db *bun.DB, logger *zap.Logger) *GuildModel {
	return &GuildModel{
		db:     db,
		logger: logger.Named("db_guild"),
	}
}

// Get retrieves a single guild record by ID.
func (r *GuildModel) Get(ctx context.Context, guildID string) (*types.Guild, error) {
	guild, err := dbretry.Operation(ctx, func(ctx context.Context) (*types.Guild, error) {
		var g types.Guild

		err := r.db.NewSelect().
			Model(&g).
			Where("guild_id = ?", guildID).
			Scan(ctx)
		if err != nil {
			return nil, err
		}

		return &g, nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGuildNotFound
		}

		return nil, fmt.Errorf("failed to get guild %s: %w", guildID, err)
	}

	return guild, nil
}

// Create inserts a new guild record. Inserting an existing ID fails.
func (r *GuildModel) Create(ctx context.Context, guild *types.Guild) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		if guild.FollowedUsers == nil {
			guild.FollowedUsers = []types.FollowedUser{}
		}

		_, err := r.db.NewInsert().
			Model(guild).
			Exec(ctx)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create guild %s: %w", guild.GuildID, err)
	}

	r.logger.Debug("Created guild record", zap.String("guildID", guild.GuildID))

	return nil
}

// Update replaces a guild's follow list, returning the stored record.
// Returns ErrGuildNotFound when no row matched.
func (r *GuildModel) Update(ctx context.Context, guild *types.Guild) (*types.Guild, error) {
	updated, err := dbretry.Operation(ctx, func(ctx context.Context) (*types.Guild, error) {
		res, err := r.db.NewUpdate().
			Model(guild).
			Column("followed_users").
			Set("updated_at = now()").
			Where("guild_id = ?", guild.GuildID).
			Returning("*").
			Exec(ctx)
		if err != nil {
			return nil, err
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}

		if rows == 0 {
			return nil, sql.ErrNoRows
		}

		return guild, nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGuildNotFound
		}

		return nil, fmt.Errorf("failed to update guild %s: %w", guild.GuildID, err)
	}

	r.logger.Debug("Updated guild record",
		zap.String("guildID", guild.GuildID),
		zap.Int("followedUsers", len(guild.FollowedUsers)))

	return updated, nil
}

// Delete removes a guild record by ID. Deleting a missing record is not an
// error.
func (r *GuildModel) Delete(ctx context.Context, guildID string) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewDelete().
			Model((*types.Guild)(nil)).
			Where("guild_id = ?", guildID).
			Exec(ctx)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete guild %s: %w", guildID, err)
	}

	r.logger.Debug("Deleted guild record", zap.String("guildID", guildID))

	return nil
}

// List scans all guild records, skipping the given IDs. A nil excludeIDs
// returns every record.
func (r *GuildModel) List(ctx context.Context, excludeIDs []string) ([]*types.Guild, error) {
	guilds, err := dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Guild, error) {
		var gs []*types.Guild

		q := r.db.NewSelect().Model(&gs)
		if len(excludeIDs) > 0 {
			q = q.Where("guild_id NOT IN (?)", bun.In(excludeIDs))
		}

		if err := q.Scan(ctx); err != nil {
			return nil, err
		}

		return gs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list guilds: %w", err)
	}

	return guilds, nil
}
