// Package ipc implements the manager <-> cluster channel: a single duplex
// connection per cluster carrying interleaved typed requests, correlated
// responses, and unsolicited push notifications.
package ipc

import (
	"encoding/json"

	"github.com/ninthbyte/threadwatch/internal/cache"
	"github.com/ninthbyte/threadwatch/internal/database/types"
)

// Action tags a request with one of the closed set of operations the
// manager dispatches.
type Action string

const (
	ActionGuildCreate Action = "guild.create"
	ActionGuildGet    Action = "guild.get"
	ActionGuildUpdate Action = "guild.update"
	ActionGuildDelete Action = "guild.delete"
	ActionGuildList   Action = "guild.list"
	ActionUserLookup  Action = "user.lookup"
	ActionLastPost    Action = "user.lastpost"
	ActionProfile     Action = "user.profile"
	ActionWatchAdd    Action = "watch.add"
	ActionWatchRemove Action = "watch.remove"
)

// Kind discriminates frames on the wire.
type Kind string

const (
	KindHello    Kind = "hello"
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindPush     Kind = "push"
)

// Frame is the wire envelope. Exactly one of the optional field groups is
// populated depending on Kind: hello carries Cluster, requests carry
// Token/Action/Payload, responses carry Token/Data (null Data when the
// handler failed), pushes carry Data only.
type Frame struct {
	Kind    Kind            `json:"kind"`
	Cluster int             `json:"cluster,omitempty"`
	Token   string          `json:"token,omitempty"`
	Action  Action          `json:"action,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// GuildCreateRequest creates a guild record.
type GuildCreateRequest struct {
	Guild types.Guild `json:"guild"`
}

// GuildGetRequest reads a guild record, optionally creating a blank one on
// a durable miss.
type GuildGetRequest struct {
	GuildID      string `json:"guildId"`
	CreateOnFail bool   `json:"createOnFail,omitempty"`
}

// GuildUpdateRequest replaces a guild's follow list.
type GuildUpdateRequest struct {
	Guild types.Guild `json:"guild"`
}

// GuildDeleteRequest deletes a guild record, optionally recreating a blank
// one.
type GuildDeleteRequest struct {
	GuildID  string `json:"guildId"`
	Recreate bool   `json:"recreate,omitempty"`
}

// GuildListRequest scans guild records with an optional predicate.
type GuildListRequest struct {
	Predicate    *cache.Predicate `json:"predicate,omitempty"`
	AllowPartial bool             `json:"allowPartial,omitempty"`
	ForceDurable bool             `json:"forceDurable,omitempty"`
}

// UserLookupRequest resolves a Threads username to an account ID, optionally
// fetching the full profile.
type UserLookupRequest struct {
	Username    string `json:"username"`
	FullProfile bool   `json:"fullProfile,omitempty"`
}

// PostRequest fetches the latest post or profile for an account.
type PostRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// WatchAddRequest upserts a monitored account.
type WatchAddRequest struct {
	GuildID     string `json:"guildId"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	ChannelID   string `json:"channelId"`
	RoleMention string `json:"roleMention,omitempty"`
}

// WatchRemoveRequest removes a monitored account.
type WatchRemoveRequest struct {
	UserID string `json:"userId"`
}

// WatchResult reports the outcome of a watch.add / watch.remove request.
type WatchResult struct {
	Existed bool `json:"existed"`
}

// PostUpdate is one detected new post, carrying everything the receiving
// cluster needs to deliver the notification without further lookups.
type PostUpdate struct {
	ID          string `json:"id"`
	PostID      string `json:"postId"`
	Username    string `json:"username"`
	Content     string `json:"content,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	PostURL     string `json:"postUrl"`
	ChannelID   string `json:"channelId"`
	RoleMention string `json:"roleMention,omitempty"`
}

// PushBatch maps guild IDs to their detected post updates. One batch is
// pushed per affected cluster per poll cycle.
type PushBatch map[string][]PostUpdate
