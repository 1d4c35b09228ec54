package types

import (
	"time"

	"github.com/uptrace/bun"
)

// MaxFollowedUsers is the follow-list size callers are expected to enforce.
// The store itself does not reject larger lists.
const MaxFollowedUsers = 20

// FollowedUser is one external Threads account a guild follows, embedded in
// the guild's follow list.
type FollowedUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	LastPostID string `json:"lastPostId"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
	Bio        string `json:"bio,omitempty"`

	// RoleMention is the notification role ID, empty when the guild opted
	// out of pings.
	RoleMention string `json:"roleMention,omitempty"`
	ChannelID   string `json:"channelId"`
}

// Guild is the durable record of one guild's follow list.
type Guild struct {
	bun.BaseModel `bun:"table:guilds"`

	GuildID       string         `bun:"guild_id,pk"           json:"guildId"`
	FollowedUsers []FollowedUser `bun:"followed_users,type:jsonb" json:"followedUsers"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,default:current_timestamp" json:"updatedAt"`
}

// FollowedUser returns the follow entry for the given account ID, or nil.
func (g *Guild) FollowedUser(accountID string) *FollowedUser {
	for i := range g.FollowedUsers {
		if g.FollowedUsers[i].ID == accountID {
			return &g.FollowedUsers[i]
		}
	}

	return nil
}

// Clone returns a deep copy so cache readers never alias cached state.
func (g *Guild) Clone() *Guild {
	if g == nil {
		return nil
	}

	clone := *g
	clone.FollowedUsers = make([]FollowedUser, len(g.FollowedUsers))
	copy(clone.FollowedUsers, g.FollowedUsers)

	return &clone
}
