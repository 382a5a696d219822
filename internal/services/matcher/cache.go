package matcher

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/models"
)

// Source provides the persisted keyword sets and their epochs
type Source interface {
	GetKeywordEpoch(ctx context.Context, chatID int64) (uint64, error)
	GetKeywords(ctx context.Context, chatID int64) (*models.KeywordSet, error)
}

// Recorder receives rebuild events
type Recorder interface {
	RecordMatcherRebuild(degraded bool)
}

type entry struct {
	epoch   uint64
	matcher *Matcher
}

// Cache holds one compiled matcher per chat, tagged with the keyword epoch it
// was built from. A matcher is served only while its epoch equals the stored one.
type Cache struct {
	source   Source
	entries  *cache.Cache
	mu       sync.Mutex
	recorder Recorder
	logger   *logrus.Logger
}

// NewCache creates an empty matcher cache
func NewCache(source Source, logger *logrus.Logger, recorder Recorder) *Cache {
	return &Cache{
		source:   source,
		entries:  cache.New(cache.NoExpiration, 0),
		recorder: recorder,
		logger:   logger,
	}
}

func cacheKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func (c *Cache) lookup(chatID int64) (*entry, bool) {
	if val, found := c.entries.Get(cacheKey(chatID)); found {
		return val.(*entry), true
	}
	return nil, false
}

// Ensure returns the chat's matcher, recompiling when the persisted epoch has
// moved past the cached one. Returns nil when the chat has no keywords.
func (c *Cache) Ensure(ctx context.Context, chatID int64) (*Matcher, error) {
	epoch, err := c.source.GetKeywordEpoch(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyword epoch: %w", err)
	}

	if e, ok := c.lookup(chatID); ok && e.epoch == epoch {
		return e.matcher, nil
	}

	return c.Rebuild(ctx, chatID)
}

// Rebuild loads the chat's keywords and compiles them unconditionally
func (c *Cache) Rebuild(ctx context.Context, chatID int64) (*Matcher, error) {
	set, err := c.source.GetKeywords(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load keywords: %w", err)
	}

	m := Compile(set.Keywords)

	c.mu.Lock()
	// Never replace a matcher built from a newer epoch.
	if e, ok := c.lookup(chatID); !ok || e.epoch <= set.Epoch {
		c.entries.Set(cacheKey(chatID), &entry{epoch: set.Epoch, matcher: m}, cache.NoExpiration)
	}
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.RecordMatcherRebuild(m.Degraded())
	}

	log := c.logger.WithFields(logrus.Fields{
		"chat_id":  chatID,
		"epoch":    set.Epoch,
		"keywords": len(set.Keywords),
		"cached":   c.Len(),
	})
	if m.Degraded() {
		log.Warn("Keyword regex failed to compile, matching literally")
	} else {
		log.WithField("pattern", m.String()).Debug("Matcher rebuilt")
	}

	return m, nil
}

// Drop forgets a chat's matcher; the next Ensure recompiles it
func (c *Cache) Drop(chatID int64) {
	c.entries.Delete(cacheKey(chatID))
}

// Len returns the number of cached matchers
func (c *Cache) Len() int {
	return c.entries.ItemCount()
}
