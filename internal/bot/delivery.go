package bot

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/ninthbyte/threadwatch/internal/ipc"
	"go.uber.org/zap"
)

// consumePushes drains the IPC push channel and delivers each batch.
// Delivery is best-effort and at-most-once; a failed send is logged and
// never retried.
func (b *Bot) consumePushes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-b.ipc.Pushes():
			if !ok {
				return
			}

			b.deliverBatch(batch)
		}
	}
}

// deliverBatch sends one notification message per post update.
func (b *Bot) deliverBatch(batch ipc.PushBatch) {
	for guildID, updates := range batch {
		for _, update := range updates {
			if err := b.deliver(update); err != nil {
				b.logger.Warn("Failed to deliver post notification",
					zap.String("guildID", guildID),
					zap.String("userID", update.ID),
					zap.Error(err))
			}
		}
	}
}

// deliver renders and sends one post notification. Channels this cluster
// cannot see are skipped; the next follow in a visible channel re-points
// the destination.
func (b *Bot) deliver(update ipc.PostUpdate) error {
	channelID, err := snowflake.Parse(update.ChannelID)
	if err != nil {
		return fmt.Errorf("invalid channel id %q: %w", update.ChannelID, err)
	}

	if _, ok := b.client.Caches().GuildMessageChannel(channelID); !ok {
		b.logger.Debug("Skipping delivery to invisible channel",
			zap.String("channelID", update.ChannelID))

		return nil
	}

	embed := discord.NewEmbedBuilder().
		SetAuthor(update.Username, update.PostURL, update.AvatarURL).
		SetDescription(update.Content).
		SetColor(b.embedColor)

	if update.ImageURL != "" {
		embed.SetImage(update.ImageURL)
	}

	builder := discord.NewMessageCreateBuilder().
		SetEmbeds(embed.Build()).
		AddActionRow(discord.NewLinkButton("View Post", update.PostURL))

	if update.RoleMention != "" {
		builder.SetContent(fmt.Sprintf("<@&%s>", update.RoleMention)).
			SetAllowedMentions(&discord.AllowedMentions{
				Parse: []discord.AllowedMentionType{discord.AllowedMentionTypeRoles},
			})
	}

	_, err = b.client.Rest().CreateMessage(channelID, builder.Build())
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	return nil
}
