// Package manager wires the data cache, watch scheduler, and fetch client
// behind the IPC action set.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/ninthbyte/threadwatch/internal/cache"
	"github.com/ninthbyte/threadwatch/internal/ipc"
	"github.com/ninthbyte/threadwatch/internal/threads"
	"github.com/ninthbyte/threadwatch/internal/watcher"
	"go.uber.org/zap"
)

// ErrUnknownAction is returned for actions outside the closed set.
var ErrUnknownAction = errors.New("unknown action")

// Handler dispatches cluster requests to the manager's operations. Cache
// misses and store failures both reply with no data; the distinction stays
// inside the manager's logs.
type Handler struct {
	cache   *cache.Cache
	watcher *watcher.Watcher
	threads *threads.Client
	logger  *zap.Logger
}

// NewHandler creates the manager-side request handler.
func NewHandler(
	guildCache *cache.Cache, w *watcher.Watcher, t *threads.Client, logger *zap.Logger,
) *Handler {
	return &Handler{
		cache:   guildCache,
		watcher: w,
		threads: t,
		logger:  logger.Named("handler"),
	}
}

// Handle implements ipc.Handler.
func (h *Handler) Handle(ctx context.Context, action ipc.Action, payload json.RawMessage) (any, error) {
	switch action {
	case ipc.ActionGuildCreate:
		var req ipc.GuildCreateRequest
		if err := sonic.Unmarshal(payload, &req); err != nil {
			return nil, err
		}

		return h.cache.Create(ctx, &req.Guild)

	case ipc.ActionGuildGet:
		var req ipc.GuildGetRequest
		if err := sonic.Unmarshal(payload, &req); err != nil {
			return nil, err
		}

		return h.cache.Get(ctx, req.GuildID, req.CreateOnFail)

	case ipc.ActionGuildUpdate:
		var req ipc.GuildUpdateRequest
		if err := sonic.Unmarshal(payload, &req); err != nil {
			return nil, err
		}

		return h.cache.Update(ctx, &req.Guild)

	case ipc.ActionGuildDelete:
		var req ipc.GuildDeleteRequest
		if err := sonic.Unmarshal(payload, &req); err != nil {
			return nil, err
		}

		return h.cache.Delete(ctx, req.GuildID, req.Recreate)

	case ipc.ActionGuildList:
		var req ipc.GuildListRequest
		if err := sonic.Unmarshal(payload, &req); err != nil {
			return nil, err
		}

		return h.cache.GetAll(ctx, req.Predicate, req.AllowPartial, req.ForceDurable)

	case ipc.ActionUserLookup:
		var req ipc.UserLookupRequest
		if err := sonic.Unmarshal(payload, &req); err != nil {
			return nil, err
		}

		return h.threads.LookupUser(ctx, req.Username, req.FullProfile)

	case ipc.ActionLastPost:
		var req ipc.PostRequest
		if err := sonic.Unmarshal(payload, &req); err != nil {
			return nil, err
		}

		return h.threads.LastPost(ctx, req.UserID, req.Username)

	case ipc.ActionProfile:
		var req ipc.PostRequest
		if err := sonic.Unmarshal(payload, &req); err != nil {
			return nil, err
		}

		return h.threads.Profile(ctx, req.UserID, req.Username)

	case ipc.ActionWatchAdd:
		var req ipc.WatchAddRequest
		if err := sonic.Unmarshal(payload, &req); err != nil {
			return nil, err
		}

		existed := h.watcher.AddFollowedUser(req.GuildID, req.UserID, req.Username, req.ChannelID, req.RoleMention)

		return &ipc.WatchResult{Existed: existed}, nil

	case ipc.ActionWatchRemove:
		var req ipc.WatchRemoveRequest
		if err := sonic.Unmarshal(payload, &req); err != nil {
			return nil, err
		}

		return &ipc.WatchResult{Existed: h.watcher.RemoveFollowedUser(req.UserID)}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
}
