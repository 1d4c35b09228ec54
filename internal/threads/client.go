// Package threads wraps the external fetch boundary: resolving usernames,
// fetching latest posts, and fetching profiles from the Threads API.
package threads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jaxron/axonet/middleware/circuitbreaker"
	axonetRedis "github.com/jaxron/axonet/middleware/redis"
	"github.com/jaxron/axonet/middleware/retry"
	"github.com/jaxron/axonet/middleware/singleflight"
	"github.com/jaxron/axonet/pkg/client"
	"github.com/jaxron/axonet/pkg/client/middleware"
	"github.com/ninthbyte/threadwatch/internal/redis"
	"github.com/ninthbyte/threadwatch/internal/setup/config"
	"github.com/ninthbyte/threadwatch/internal/setup/telemetry/logger"
	"go.uber.org/zap"
)

var (
	// ErrRateLimited signals the source throttled us; retryable on a later
	// cycle, never treated as not-found.
	ErrRateLimited = errors.New("rate limited by threads")
	// ErrNotFound signals the account or post does not exist.
	ErrNotFound = errors.New("threads resource not found")
	// ErrFetchFailed wraps any other fetch failure.
	ErrFetchFailed = errors.New("threads fetch failed")
)

const defaultBaseURL = "https://i.instagram.com/api/v1"

// PostURL builds the public permalink for a post code.
func PostURL(code string) string {
	return "https://www.threads.net/t/" + code
}

// Client fetches Threads data through an axonet client with a reliability
// middleware chain.
type Client struct {
	http    *client.Client
	baseURL string
	logger  *zap.Logger
}

// NewClient builds the fetch client: circuit breaker, retry, request
// deduplication, and a Redis response cache, in that order.
func NewClient(
	cfg *config.CommonConfig, redisManager *redis.Manager,
	requestTimeout time.Duration, zapLogger *zap.Logger,
) (*Client, error) {
	cacheClient, err := redisManager.GetClient(redis.FetchCacheDBIndex)
	if err != nil {
		return nil, err
	}

	middlewares := []middleware.Middleware{
		circuitbreaker.New(
			cfg.CircuitBreaker.MaxRequests,
			time.Duration(cfg.CircuitBreaker.Interval)*time.Millisecond,
			time.Duration(cfg.CircuitBreaker.Timeout)*time.Millisecond,
		),
		retry.New(
			cfg.Retry.MaxRetries,
			time.Duration(cfg.Retry.Delay)*time.Millisecond,
			time.Duration(cfg.Retry.MaxDelay)*time.Millisecond,
		),
		singleflight.New(),
		axonetRedis.New(cacheClient, time.Duration(cfg.Threads.CacheTTL)*time.Second),
	}

	httpClient := client.NewClient(
		client.WithMarshalFunc(sonic.Marshal),
		client.WithUnmarshalFunc(sonic.Unmarshal),
		client.WithLogger(logger.New(zapLogger)),
		client.WithTimeout(requestTimeout),
		client.WithMiddleware(middlewares...),
	)

	return &Client{
		http:    httpClient,
		baseURL: defaultBaseURL,
		logger:  zapLogger.Named("threads"),
	}, nil
}

// LookupUser resolves a username to an account ID, optionally fetching the
// full profile.
func (c *Client) LookupUser(ctx context.Context, username string, fullProfile bool) (*Lookup, error) {
	var info userInfoResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/users/%s/usernameinfo/", c.baseURL, username), &info); err != nil {
		return nil, err
	}

	userID := info.User.PK.String()
	c.logger.Debug("Resolved username",
		zap.String("username", username),
		zap.String("userID", userID))

	lookup := &Lookup{ID: userID, Username: info.User.Username}

	if fullProfile {
		profile, err := c.Profile(ctx, userID, username)
		if err != nil {
			return nil, err
		}

		lookup.Profile = profile
	}

	return lookup, nil
}

// LastPost fetches the most recent post for an account. Returns ErrNotFound
// when the account has no posts.
func (c *Client) LastPost(ctx context.Context, userID, username string) (*Post, error) {
	var feed feedResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/feed/user/%s/threads/", c.baseURL, userID), &feed); err != nil {
		return nil, err
	}

	if len(feed.Threads) == 0 || len(feed.Threads[0].ThreadItems) == 0 {
		return nil, ErrNotFound
	}

	thread := feed.Threads[0]
	post := thread.ThreadItems[0].Post

	result := &Post{
		UserID:    userID,
		PostID:    thread.ID,
		Username:  post.User.Username,
		Content:   post.Caption.Text,
		AvatarURL: post.User.ProfilePicURL,
		PostURL:   PostURL(post.Code),
	}

	if result.Username == "" {
		result.Username = username
	}

	if len(post.ImageVersions.Candidates) > 0 {
		result.ImageURL = post.ImageVersions.Candidates[0].URL
	}

	return result, nil
}

// Profile fetches a user profile by account ID.
func (c *Client) Profile(ctx context.Context, userID, username string) (*Profile, error) {
	var info userInfoResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/users/%s/info/", c.baseURL, userID), &info); err != nil {
		return nil, err
	}

	profile := &Profile{
		ID:        userID,
		Username:  info.User.Username,
		Verified:  info.User.IsVerified,
		AvatarURL: info.User.ProfilePicURL,
		Private:   info.User.IsPrivate,
		Bio:       info.User.Biography,
	}

	if profile.Username == "" {
		profile.Username = username
	}

	return profile, nil
}

// getJSON performs one GET and decodes the body, mapping HTTP status to the
// package's error taxonomy.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	resp, err := c.http.NewRequest().
		Method(http.MethodGet).
		URL(url).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: HTTP %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read body: %w", ErrFetchFailed, err)
	}

	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: failed to decode body: %w", ErrFetchFailed, err)
	}

	return nil
}
