package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/models"
)

type memoryKeywords struct {
	epoch    uint64
	keywords map[string]struct{}
}

// MemoryStorage implements storage using in-memory caches.
// Nothing survives a restart; meant for development and tests.
type MemoryStorage struct {
	mu        sync.Mutex
	keywords  *cache.Cache
	warnings  *cache.Cache
	settings  *cache.Cache
	samples   *cache.Cache
	sampleCap int
	logger    *logrus.Logger
}

func NewMemoryStorage(cfg *config.Config, logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		keywords:  cache.New(cache.NoExpiration, cache.NoExpiration),
		warnings:  cache.New(cache.NoExpiration, cache.NoExpiration),
		settings:  cache.New(cache.NoExpiration, cache.NoExpiration),
		samples:   cache.New(cache.NoExpiration, cache.NoExpiration),
		sampleCap: cfg.Storage.SampleCap,
		logger:    logger,
	}
}

func chatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func warningKey(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}

// chatKeywords must be called with mu held
func (m *MemoryStorage) chatKeywords(chatID int64) *memoryKeywords {
	if val, found := m.keywords.Get(chatKey(chatID)); found {
		return val.(*memoryKeywords)
	}
	kw := &memoryKeywords{keywords: make(map[string]struct{})}
	m.keywords.Set(chatKey(chatID), kw, cache.NoExpiration)
	return kw
}

func (m *MemoryStorage) AddKeywords(ctx context.Context, chatID int64, keywords []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kw := m.chatKeywords(chatID)
	added := 0
	for _, k := range keywords {
		if _, exists := kw.keywords[k]; exists {
			continue
		}
		kw.keywords[k] = struct{}{}
		added++
	}
	if added > 0 {
		kw.epoch++
	}
	return added, nil
}

func (m *MemoryStorage) RemoveKeywords(ctx context.Context, chatID int64, keywords []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kw := m.chatKeywords(chatID)
	removed := 0
	for _, k := range keywords {
		if _, exists := kw.keywords[k]; !exists {
			continue
		}
		delete(kw.keywords, k)
		removed++
	}
	if removed > 0 {
		kw.epoch++
	}
	return removed, nil
}

func (m *MemoryStorage) ClearKeywords(ctx context.Context, chatID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kw := m.chatKeywords(chatID)
	removed := len(kw.keywords)
	if removed > 0 {
		kw.keywords = make(map[string]struct{})
		kw.epoch++
	}
	return removed, nil
}

func (m *MemoryStorage) GetKeywords(ctx context.Context, chatID int64) (*models.KeywordSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kw := m.chatKeywords(chatID)
	set := &models.KeywordSet{
		ChatID:   chatID,
		Epoch:    kw.epoch,
		Keywords: make([]string, 0, len(kw.keywords)),
	}
	for k := range kw.keywords {
		set.Keywords = append(set.Keywords, k)
	}
	sort.Strings(set.Keywords)
	return set, nil
}

func (m *MemoryStorage) GetKeywordEpoch(ctx context.Context, chatID int64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatKeywords(chatID).epoch, nil
}

func (m *MemoryStorage) IncrementWarning(ctx context.Context, chatID, userID int64) (int, error) {
	key := warningKey(chatID, userID)
	// Add is a no-op when the counter exists; IncrementInt is atomic under the cache lock.
	m.warnings.Add(key, 0, cache.NoExpiration)
	return m.warnings.IncrementInt(key, 1)
}

func (m *MemoryStorage) GetWarning(ctx context.Context, chatID, userID int64) (int, error) {
	if val, found := m.warnings.Get(warningKey(chatID, userID)); found {
		return val.(int), nil
	}
	return 0, nil
}

func (m *MemoryStorage) ListWarnings(ctx context.Context, chatID int64) ([]models.WarningRecord, error) {
	prefix := chatKey(chatID) + ":"
	records := []models.WarningRecord{}
	for key, item := range m.warnings.Items() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		userID, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
		if err != nil {
			continue
		}
		records = append(records, models.WarningRecord{
			ChatID: chatID,
			UserID: userID,
			Count:  item.Object.(int),
		})
	}
	sortWarnings(records)
	return records, nil
}

func (m *MemoryStorage) ResetWarnings(ctx context.Context, chatID int64) error {
	prefix := chatKey(chatID) + ":"
	for key := range m.warnings.Items() {
		if strings.HasPrefix(key, prefix) {
			m.warnings.Delete(key)
		}
	}
	return nil
}

func (m *MemoryStorage) ResetUserWarning(ctx context.Context, chatID, userID int64) error {
	m.warnings.Delete(warningKey(chatID, userID))
	return nil
}

func (m *MemoryStorage) LoadSettings(ctx context.Context, chatID int64, defaults models.ModerationSetting) (*models.ModerationSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	setting := m.settingsLocked(chatID, defaults)
	copied := *setting
	return &copied, nil
}

func (m *MemoryStorage) UpdateSettings(ctx context.Context, chatID int64, defaults models.ModerationSetting, mutate func(*models.ModerationSetting)) (*models.ModerationSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := *m.settingsLocked(chatID, defaults)
	mutate(&updated)
	updated.ChatID = chatID
	updated.UpdatedAt = time.Now()
	m.settings.Set(chatKey(chatID), &updated, cache.NoExpiration)

	copied := updated
	return &copied, nil
}

func (m *MemoryStorage) settingsLocked(chatID int64, defaults models.ModerationSetting) *models.ModerationSetting {
	if val, found := m.settings.Get(chatKey(chatID)); found {
		return val.(*models.ModerationSetting)
	}
	setting := defaults
	setting.ChatID = chatID
	setting.UpdatedAt = time.Now()
	m.settings.Set(chatKey(chatID), &setting, cache.NoExpiration)
	return &setting
}

func (m *MemoryStorage) AppendSample(ctx context.Context, sample *models.AiSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var samples []models.AiSample
	if val, found := m.samples.Get(chatKey(sample.ChatID)); found {
		samples = val.([]models.AiSample)
	}

	stored := *sample
	stored.ID = int64(len(samples)) + 1
	if n := len(samples); n > 0 {
		stored.ID = samples[n-1].ID + 1
	}
	samples = append(samples, stored)
	if m.sampleCap > 0 && len(samples) > m.sampleCap {
		samples = append([]models.AiSample(nil), samples[len(samples)-m.sampleCap:]...)
	}
	m.samples.Set(chatKey(sample.ChatID), samples, cache.NoExpiration)
	sample.ID = stored.ID
	return nil
}

func (m *MemoryStorage) RecentSamples(ctx context.Context, chatID int64, limit int) ([]models.AiSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := []models.AiSample{}
	val, found := m.samples.Get(chatKey(chatID))
	if !found {
		return result, nil
	}
	samples := val.([]models.AiSample)
	for i := len(samples) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, samples[i])
	}
	return result, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func sortWarnings(records []models.WarningRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Count != records[j].Count {
			return records[i].Count > records[j].Count
		}
		return records[i].UserID < records[j].UserID
	})
}
