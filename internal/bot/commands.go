package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/events"
	"github.com/ninthbyte/threadwatch/internal/database/types"
	"github.com/ninthbyte/threadwatch/internal/ipc"
	"github.com/ninthbyte/threadwatch/internal/threads"
)

// commandTimeout bounds the IPC round trips behind one slash command.
const commandTimeout = 30 * time.Second

// handleFollow resolves the username, registers the account with the
// manager, and persists it on the guild's follow list. A missing username
// option prompts the user and waits for their next message in the channel.
func (b *Bot) handleFollow(event *events.ApplicationCommandInteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	data := event.SlashCommandInteractionData()
	guildID := event.GuildID().String()
	channelID := event.Channel().ID()

	username, ok := data.OptString("username")
	if !ok {
		b.respond(event, "Reply with the Threads username to follow.")

		value, resolved := b.promises.Create(ctx, channelID.String(), event.User().ID.String())
		if !resolved {
			b.respond(event, "No username received in time.")
			return
		}

		username = value
	}

	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		b.respond(event, "That doesn't look like a username.")
		return
	}

	if target, ok := data.OptChannel("channel"); ok {
		channelID = target.ID
	}

	var roleMention string
	if role, ok := data.OptRole("role"); ok {
		roleMention = role.ID.String()
	}

	lookup, err := ipc.Do[threads.Lookup](ctx, b.ipc, ipc.ActionUserLookup, ipc.UserLookupRequest{
		Username: username,
	})
	if err != nil || lookup == nil {
		b.respond(event, fmt.Sprintf("Couldn't find a Threads account named `%s`.", username))
		return
	}

	guild, err := ipc.Do[types.Guild](ctx, b.ipc, ipc.ActionGuildGet, ipc.GuildGetRequest{
		GuildID:      guildID,
		CreateOnFail: true,
	})
	if err != nil || guild == nil {
		b.respond(event, "Couldn't load this server's settings. Try again later.")
		return
	}

	if guild.FollowedUser(lookup.ID) != nil {
		b.respond(event, fmt.Sprintf("Already following `%s`.", lookup.Username))
		return
	}

	if len(guild.FollowedUsers) >= types.MaxFollowedUsers {
		b.respond(event, fmt.Sprintf("This server already follows %d accounts.", types.MaxFollowedUsers))
		return
	}

	// Seed the last-seen post so the first poll cycle only reports posts
	// made after the follow. Best effort; an account with no posts starts
	// from empty.
	var lastPostID string
	if post, err := ipc.Do[threads.Post](ctx, b.ipc, ipc.ActionLastPost, ipc.PostRequest{
		UserID:   lookup.ID,
		Username: lookup.Username,
	}); err == nil && post != nil {
		lastPostID = post.PostID
	}

	guild.FollowedUsers = append(guild.FollowedUsers, types.FollowedUser{
		ID:          lookup.ID,
		Username:    lookup.Username,
		LastPostID:  lastPostID,
		RoleMention: roleMention,
		ChannelID:   channelID.String(),
	})

	if updated, err := ipc.Do[types.Guild](ctx, b.ipc, ipc.ActionGuildUpdate, ipc.GuildUpdateRequest{
		Guild: *guild,
	}); err != nil || updated == nil {
		b.respond(event, "Couldn't save the follow. Try again later.")
		return
	}

	if _, err := ipc.Do[ipc.WatchResult](ctx, b.ipc, ipc.ActionWatchAdd, ipc.WatchAddRequest{
		GuildID:     guildID,
		UserID:      lookup.ID,
		Username:    lookup.Username,
		ChannelID:   channelID.String(),
		RoleMention: roleMention,
	}); err != nil {
		b.respond(event, "Saved, but watching may not start until the next restart.")
		return
	}

	b.respond(event, fmt.Sprintf("Now following `%s`. New posts will land in <#%s>.",
		lookup.Username, channelID))
}

// handleUnfollow removes the account from the guild's follow list and stops
// watching it.
func (b *Bot) handleUnfollow(event *events.ApplicationCommandInteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	guildID := event.GuildID().String()
	username := strings.TrimPrefix(strings.TrimSpace(event.SlashCommandInteractionData().String("username")), "@")

	guild, err := ipc.Do[types.Guild](ctx, b.ipc, ipc.ActionGuildGet, ipc.GuildGetRequest{
		GuildID: guildID,
	})
	if err != nil || guild == nil {
		b.respond(event, "This server isn't following any accounts.")
		return
	}

	index := -1

	for i, followed := range guild.FollowedUsers {
		if strings.EqualFold(followed.Username, username) {
			index = i
			break
		}
	}

	if index < 0 {
		b.respond(event, fmt.Sprintf("This server isn't following `%s`.", username))
		return
	}

	removed := guild.FollowedUsers[index]
	guild.FollowedUsers = append(guild.FollowedUsers[:index], guild.FollowedUsers[index+1:]...)

	if updated, err := ipc.Do[types.Guild](ctx, b.ipc, ipc.ActionGuildUpdate, ipc.GuildUpdateRequest{
		Guild: *guild,
	}); err != nil || updated == nil {
		b.respond(event, "Couldn't save the change. Try again later.")
		return
	}

	if _, err := ipc.Do[ipc.WatchResult](ctx, b.ipc, ipc.ActionWatchRemove, ipc.WatchRemoveRequest{
		UserID: removed.ID,
	}); err != nil {
		b.logger.Warn("Failed to stop watching removed account")
	}

	b.respond(event, fmt.Sprintf("Stopped following `%s`.", removed.Username))
}

// handleFollowing lists the guild's followed accounts.
func (b *Bot) handleFollowing(event *events.ApplicationCommandInteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	guild, err := ipc.Do[types.Guild](ctx, b.ipc, ipc.ActionGuildGet, ipc.GuildGetRequest{
		GuildID: event.GuildID().String(),
	})
	if err != nil || guild == nil || len(guild.FollowedUsers) == 0 {
		b.respond(event, "This server isn't following any accounts.")
		return
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "Following %d account(s):\n", len(guild.FollowedUsers))

	for _, followed := range guild.FollowedUsers {
		fmt.Fprintf(&sb, "- `%s` in <#%s>\n", followed.Username, followed.ChannelID)
	}

	b.respond(event, sb.String())
}
