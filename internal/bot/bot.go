// Package bot runs one cluster of the Discord fleet: a sharded gateway
// client, slash commands backed by the IPC channel, and delivery of pushed
// post notifications.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/sharding"
	"github.com/ninthbyte/threadwatch/internal/bot/promise"
	"github.com/ninthbyte/threadwatch/internal/ipc"
	"github.com/ninthbyte/threadwatch/internal/setup/config"
	"github.com/ninthbyte/threadwatch/internal/status"
	"go.uber.org/zap"
)

const (
	followCommandName    = "follow"
	unfollowCommandName  = "unfollow"
	followingCommandName = "following"
)

// Bot owns the gateway client and the cluster-local services around it.
type Bot struct {
	client     bot.Client
	ipc        *ipc.Client
	promises   *promise.Handler
	reporter   *status.Reporter
	logger     *zap.Logger
	embedColor int
}

// New builds the cluster bot for its shard range. The IPC client must
// already be connected; the reporter may be nil when heartbeats are
// disabled.
func New(
	cfg *config.Config, clusterID int, ipcClient *ipc.Client,
	reporter *status.Reporter, logger *zap.Logger,
) (*Bot, error) {
	b := &Bot{
		ipc:        ipcClient,
		promises:   promise.NewHandler(promise.DefaultTimeout, logger),
		reporter:   reporter,
		logger:     logger.Named("bot"),
		embedColor: cfg.Cluster.EmbedColor,
	}

	shardIDs := ShardIDsForCluster(
		clusterID, cfg.Common.Sharding.TotalShards, cfg.Common.Sharding.TotalClusters,
	)

	client, err := disgo.New(cfg.Cluster.Token,
		bot.WithShardManagerConfigOpts(
			sharding.WithShardIDs(shardIDs...),
			sharding.WithShardCount(cfg.Common.Sharding.TotalShards),
			sharding.WithAutoScaling(false),
			sharding.WithGatewayConfigOpts(
				gateway.WithIntents(
					gateway.IntentGuilds,
					gateway.IntentGuildMessages,
					gateway.IntentMessageContent,
				),
			),
		),
		bot.WithEventListeners(&events.ListenerAdapter{
			OnApplicationCommandInteraction: b.handleApplicationCommandInteraction,
			OnMessageCreate:                 b.handleMessageCreate,
		}),
	)
	if err != nil {
		return nil, err
	}

	b.client = client

	return b, nil
}

// Start registers the slash commands, opens the gateway shards, and begins
// consuming pushed notification batches.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Registering commands")

	_, err := b.client.Rest().SetGlobalCommands(b.client.ApplicationID(), commands())
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	go b.consumePushes(ctx)

	if b.reporter != nil {
		b.reporter.Start(ctx)
		go b.trackGuildCount(ctx)
	}

	b.logger.Info("Opening gateway shards")

	if err := b.client.OpenShardManager(ctx); err != nil {
		return fmt.Errorf("failed to open shards: %w", err)
	}

	return nil
}

// Close shuts down the gateway connection and heartbeat reporting.
func (b *Bot) Close() {
	b.logger.Info("Closing bot")

	if b.reporter != nil {
		b.reporter.Stop()
	}

	b.client.Close(context.Background())
}

// commands defines the slash command surface. The commands stay thin; every
// state change goes through the IPC channel to the manager.
func commands() []discord.ApplicationCommandCreate {
	return []discord.ApplicationCommandCreate{
		discord.SlashCommandCreate{
			Name:        followCommandName,
			Description: "Follow a Threads account in this server",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "username",
					Description: "The Threads username to follow",
					Required:    false,
				},
				discord.ApplicationCommandOptionChannel{
					Name:        "channel",
					Description: "Channel for new post notifications",
					Required:    false,
				},
				discord.ApplicationCommandOptionRole{
					Name:        "role",
					Description: "Role to mention on new posts",
					Required:    false,
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        unfollowCommandName,
			Description: "Stop following a Threads account",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "username",
					Description: "The Threads username to unfollow",
					Required:    true,
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        followingCommandName,
			Description: "List the Threads accounts this server follows",
		},
	}
}

// handleApplicationCommandInteraction dispatches slash commands. Each runs
// in its own goroutine so a slow IPC round trip never blocks the gateway
// read loop.
func (b *Bot) handleApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	go func() {
		if err := event.DeferCreateMessage(true); err != nil {
			b.logger.Error("Failed to defer create message", zap.Error(err))
			return
		}

		start := time.Now()
		name := event.SlashCommandInteractionData().CommandName()

		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Panic in command handler", zap.Any("panic", r))
				b.respond(event, "Internal error. Please try again later.")
			}

			b.logger.Debug("Command handled",
				zap.String("command", name),
				zap.Duration("duration", time.Since(start)))
		}()

		if event.GuildID() == nil {
			b.respond(event, "This command only works in a server.")
			return
		}

		switch name {
		case followCommandName:
			b.handleFollow(event)
		case unfollowCommandName:
			b.handleUnfollow(event)
		case followingCommandName:
			b.handleFollowing(event)
		default:
			b.respond(event, "This command is not available.")
		}
	}()
}

// handleMessageCreate feeds inbound messages to the promise handler so a
// command waiting on follow-up input can resume. Correlation is by channel;
// only the prompting user may satisfy it.
func (b *Bot) handleMessageCreate(event *events.MessageCreate) {
	if event.Message.Author.Bot || event.Message.Content == "" {
		return
	}

	// Most messages are not replies to a prompt; both sentinels are normal.
	_ = b.promises.Resolve(
		event.ChannelID.String(),
		event.Message.Content,
		event.Message.Author.ID.String(),
	)
}

// respond replaces the deferred interaction response with a plain message.
func (b *Bot) respond(event *events.ApplicationCommandInteractionCreate, content string) {
	_, err := event.Client().Rest().UpdateInteractionResponse(
		event.ApplicationID(), event.Token(),
		discord.NewMessageUpdateBuilder().SetContent(content).Build(),
	)
	if err != nil {
		b.logger.Error("Failed to update interaction response", zap.Error(err))
	}
}

// trackGuildCount refreshes the reported guild count on a slow tick.
func (b *Bot) trackGuildCount(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.reporter.SetGuildCount(b.client.Caches().GuildsLen())
		}
	}
}
