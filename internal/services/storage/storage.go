package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/models"
)

// Storage is the persistence contract shared by every backend.
// Backends mark transient contention with ErrBusy; everything else is permanent.
type Storage interface {
	// Keyword operations. Add and remove are idempotent and report how many
	// entries actually changed; the chat's epoch moves only when something changed.
	AddKeywords(ctx context.Context, chatID int64, keywords []string) (int, error)
	RemoveKeywords(ctx context.Context, chatID int64, keywords []string) (int, error)
	ClearKeywords(ctx context.Context, chatID int64) (int, error)
	GetKeywords(ctx context.Context, chatID int64) (*models.KeywordSet, error)
	GetKeywordEpoch(ctx context.Context, chatID int64) (uint64, error)

	// Warning operations
	IncrementWarning(ctx context.Context, chatID, userID int64) (int, error)
	GetWarning(ctx context.Context, chatID, userID int64) (int, error)
	ListWarnings(ctx context.Context, chatID int64) ([]models.WarningRecord, error)
	ResetWarnings(ctx context.Context, chatID int64) error
	ResetUserWarning(ctx context.Context, chatID, userID int64) error

	// Settings operations. Both create the row from defaults when it is missing.
	// mutate may run more than once and must not have side effects.
	LoadSettings(ctx context.Context, chatID int64, defaults models.ModerationSetting) (*models.ModerationSetting, error)
	UpdateSettings(ctx context.Context, chatID int64, defaults models.ModerationSetting, mutate func(*models.ModerationSetting)) (*models.ModerationSetting, error)

	// Classifier audit trail
	AppendSample(ctx context.Context, sample *models.AiSample) error
	RecentSamples(ctx context.Context, chatID int64, limit int) ([]models.AiSample, error)

	Close() error
}

// Recorder receives per-operation timings
type Recorder interface {
	RecordStorageOperation(operation, status string, duration time.Duration)
}

// Manager wraps a backend with bounded retry and metrics
type Manager struct {
	storage  Storage
	retry    config.RetryConfig
	recorder Recorder
	logger   *logrus.Logger
}

// NewManager opens the backend selected by the configuration
func NewManager(cfg *config.Config, logger *logrus.Logger, recorder Recorder) (*Manager, error) {
	var storage Storage

	switch cfg.Storage.Type {
	case "sqlite":
		sqliteStorage, err := NewSQLiteStorage(cfg, logger)
		if err != nil {
			return nil, err
		}
		storage = sqliteStorage
	case "redis":
		redisStorage, err := NewRedisStorage(cfg, logger)
		if err != nil {
			return nil, err
		}
		storage = redisStorage
	case "memory":
		storage = NewMemoryStorage(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	logger.WithField("type", cfg.Storage.Type).Info("Storage initialized")

	return NewManagerWithStorage(storage, cfg.Storage.Retry, logger, recorder), nil
}

// NewManagerWithStorage wraps an already constructed backend
func NewManagerWithStorage(storage Storage, retry config.RetryConfig, logger *logrus.Logger, recorder Recorder) *Manager {
	return &Manager{
		storage:  storage,
		retry:    retry,
		recorder: recorder,
		logger:   logger,
	}
}

func (m *Manager) AddKeywords(ctx context.Context, chatID int64, keywords []string) (int, error) {
	return withRetry(ctx, m, "add_keywords", func() (int, error) {
		return m.storage.AddKeywords(ctx, chatID, keywords)
	})
}

func (m *Manager) RemoveKeywords(ctx context.Context, chatID int64, keywords []string) (int, error) {
	return withRetry(ctx, m, "remove_keywords", func() (int, error) {
		return m.storage.RemoveKeywords(ctx, chatID, keywords)
	})
}

func (m *Manager) ClearKeywords(ctx context.Context, chatID int64) (int, error) {
	return withRetry(ctx, m, "clear_keywords", func() (int, error) {
		return m.storage.ClearKeywords(ctx, chatID)
	})
}

func (m *Manager) GetKeywords(ctx context.Context, chatID int64) (*models.KeywordSet, error) {
	return withRetry(ctx, m, "get_keywords", func() (*models.KeywordSet, error) {
		return m.storage.GetKeywords(ctx, chatID)
	})
}

func (m *Manager) GetKeywordEpoch(ctx context.Context, chatID int64) (uint64, error) {
	return withRetry(ctx, m, "get_keyword_epoch", func() (uint64, error) {
		return m.storage.GetKeywordEpoch(ctx, chatID)
	})
}

func (m *Manager) IncrementWarning(ctx context.Context, chatID, userID int64) (int, error) {
	return withRetry(ctx, m, "increment_warning", func() (int, error) {
		return m.storage.IncrementWarning(ctx, chatID, userID)
	})
}

func (m *Manager) GetWarning(ctx context.Context, chatID, userID int64) (int, error) {
	return withRetry(ctx, m, "get_warning", func() (int, error) {
		return m.storage.GetWarning(ctx, chatID, userID)
	})
}

func (m *Manager) ListWarnings(ctx context.Context, chatID int64) ([]models.WarningRecord, error) {
	return withRetry(ctx, m, "list_warnings", func() ([]models.WarningRecord, error) {
		return m.storage.ListWarnings(ctx, chatID)
	})
}

func (m *Manager) ResetWarnings(ctx context.Context, chatID int64) error {
	_, err := withRetry(ctx, m, "reset_warnings", func() (struct{}, error) {
		return struct{}{}, m.storage.ResetWarnings(ctx, chatID)
	})
	return err
}

func (m *Manager) ResetUserWarning(ctx context.Context, chatID, userID int64) error {
	_, err := withRetry(ctx, m, "reset_user_warning", func() (struct{}, error) {
		return struct{}{}, m.storage.ResetUserWarning(ctx, chatID, userID)
	})
	return err
}

func (m *Manager) LoadSettings(ctx context.Context, chatID int64, defaults models.ModerationSetting) (*models.ModerationSetting, error) {
	return withRetry(ctx, m, "load_settings", func() (*models.ModerationSetting, error) {
		return m.storage.LoadSettings(ctx, chatID, defaults)
	})
}

func (m *Manager) UpdateSettings(ctx context.Context, chatID int64, defaults models.ModerationSetting, mutate func(*models.ModerationSetting)) (*models.ModerationSetting, error) {
	return withRetry(ctx, m, "update_settings", func() (*models.ModerationSetting, error) {
		return m.storage.UpdateSettings(ctx, chatID, defaults, mutate)
	})
}

func (m *Manager) AppendSample(ctx context.Context, sample *models.AiSample) error {
	_, err := withRetry(ctx, m, "append_sample", func() (struct{}, error) {
		return struct{}{}, m.storage.AppendSample(ctx, sample)
	})
	return err
}

func (m *Manager) RecentSamples(ctx context.Context, chatID int64, limit int) ([]models.AiSample, error) {
	return withRetry(ctx, m, "recent_samples", func() ([]models.AiSample, error) {
		return m.storage.RecentSamples(ctx, chatID, limit)
	})
}

// Close releases the backend
func (m *Manager) Close() error {
	return m.storage.Close()
}
