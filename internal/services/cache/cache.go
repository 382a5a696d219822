package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/platform"
)

// StatusLookup resolves a user's role in a chat
type StatusLookup interface {
	GetMemberStatus(ctx context.Context, chatID, userID int64) (platform.MemberStatus, error)
}

// MemberCache caches member statuses for a short TTL so admin checks do not
// hit the platform for every message. A nil cache means every check asks
// the platform.
type MemberCache struct {
	lookup StatusLookup
	cache  *cache.Cache
	logger *logrus.Logger
}

// NewMemberCache creates a member status cache. A zero TTL disables caching.
func NewMemberCache(lookup StatusLookup, cfg *config.MemberCacheConfig, logger *logrus.Logger) *MemberCache {
	c := &MemberCache{
		lookup: lookup,
		logger: logger,
	}
	if cfg.TTL > 0 {
		c.cache = cache.New(cfg.TTL, cleanupInterval(cfg.TTL))
	}
	return c
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if interval := 2 * ttl; interval > time.Minute {
		return interval
	}
	return time.Minute
}

// Status returns the cached status, asking the platform on a miss.
// Lookup errors are not cached.
func (c *MemberCache) Status(ctx context.Context, chatID, userID int64) (platform.MemberStatus, error) {
	if c.cache == nil {
		return c.lookup.GetMemberStatus(ctx, chatID, userID)
	}

	key := generateKey(chatID, userID)
	if val, found := c.cache.Get(key); found {
		return val.(platform.MemberStatus), nil
	}

	status, err := c.lookup.GetMemberStatus(ctx, chatID, userID)
	if err != nil {
		return "", err
	}

	c.cache.SetDefault(key, status)
	c.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"user_id": userID,
		"status":  status,
	}).Debug("Member status cached")

	return status, nil
}

// IsAdmin reports whether the user is an administrator or the creator.
// A failed lookup counts as not an administrator.
func (c *MemberCache) IsAdmin(ctx context.Context, chatID, userID int64) bool {
	status, err := c.Status(ctx, chatID, userID)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"chat_id": chatID,
			"user_id": userID,
		}).Warn("Failed to get member status")
		return false
	}
	return status.IsAdmin()
}

// Invalidate forgets one user's status
func (c *MemberCache) Invalidate(chatID, userID int64) {
	if c.cache == nil {
		return
	}
	c.cache.Delete(generateKey(chatID, userID))
}

// generateKey creates a unique cache key
func generateKey(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}
