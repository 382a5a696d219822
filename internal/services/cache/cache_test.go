package cache

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/platform"
	"github.com/tg-antispam-go/internal/platform/platformtest"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestMemberCacheCachesStatus(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	chat := platformtest.NewChat()
	chat.SetStatus(1, 10, platform.StatusAdministrator)
	c := NewMemberCache(chat, &config.MemberCacheConfig{TTL: time.Minute}, quietLogger())

	assert.True(c.IsAdmin(ctx, 1, 10))
	assert.True(c.IsAdmin(ctx, 1, 10))
	assert.Equal(1, chat.StatusCalls)

	// demotion is seen only after invalidation
	chat.SetStatus(1, 10, platform.StatusMember)
	assert.True(c.IsAdmin(ctx, 1, 10))
	c.Invalidate(1, 10)
	assert.False(c.IsAdmin(ctx, 1, 10))
	assert.Equal(2, chat.StatusCalls)
}

func TestMemberCacheZeroTTLAlwaysLooksUp(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	chat := platformtest.NewChat()
	chat.SetStatus(1, 10, platform.StatusAdministrator)
	c := NewMemberCache(chat, &config.MemberCacheConfig{TTL: 0}, quietLogger())

	assert.Nil(c.cache)
	assert.True(c.IsAdmin(ctx, 1, 10))
	assert.True(c.IsAdmin(ctx, 1, 10))
	assert.Equal(2, chat.StatusCalls)

	// demotion is seen on the next check
	chat.SetStatus(1, 10, platform.StatusMember)
	assert.False(c.IsAdmin(ctx, 1, 10))
	assert.Equal(3, chat.StatusCalls)

	c.Invalidate(1, 10)
}

func TestCleanupInterval(t *testing.T) {
	assert.Equal(t, time.Minute, cleanupInterval(time.Second))
	assert.Equal(t, 20*time.Minute, cleanupInterval(10*time.Minute))
}

func TestMemberCacheCreatorIsAdmin(t *testing.T) {
	chat := platformtest.NewChat()
	chat.SetStatus(1, 10, platform.StatusCreator)
	c := NewMemberCache(chat, &config.MemberCacheConfig{TTL: time.Minute}, quietLogger())

	assert.True(t, c.IsAdmin(context.Background(), 1, 10))
	assert.False(t, c.IsAdmin(context.Background(), 1, 11))
}

func TestMemberCacheLookupFailure(t *testing.T) {
	ctx := context.Background()
	chat := platformtest.NewChat()
	chat.SetStatus(1, 10, platform.StatusAdministrator)
	chat.StatusErr = errors.New("timeout")
	c := NewMemberCache(chat, &config.MemberCacheConfig{TTL: time.Minute}, quietLogger())

	assert.False(t, c.IsAdmin(ctx, 1, 10))

	// errors are not cached
	chat.StatusErr = nil
	assert.True(t, c.IsAdmin(ctx, 1, 10))
	assert.Equal(t, 2, chat.StatusCalls)
}
