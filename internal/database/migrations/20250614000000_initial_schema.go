package migrations

import (
	"context"
	"fmt"

	"github.com/ninthbyte/threadwatch/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewCreateTable().
			Model((*types.Guild)(nil)).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create guilds table: %w", err)
		}

		// Scans filter on follow-list emptiness; index the expression the
		// watcher seed query uses.
		_, err = db.NewRaw(
			`CREATE INDEX IF NOT EXISTS idx_guilds_has_follows
			 ON guilds ((jsonb_array_length(followed_users) > 0))`,
		).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create follow index: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewDropTable().
			Model((*types.Guild)(nil)).
			IfExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop guilds table: %w", err)
		}

		return nil
	})
}
