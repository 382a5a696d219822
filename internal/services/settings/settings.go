package settings

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/models"
)

// Store is the persistence needed by the settings service
type Store interface {
	LoadSettings(ctx context.Context, chatID int64, defaults models.ModerationSetting) (*models.ModerationSetting, error)
	UpdateSettings(ctx context.Context, chatID int64, defaults models.ModerationSetting, mutate func(*models.ModerationSetting)) (*models.ModerationSetting, error)
}

// Service exposes per-chat classifier toggles. Rows are created from the
// process defaults on first access.
type Service struct {
	store    Store
	defaults models.ModerationSetting
	logger   *logrus.Logger
}

// NewService creates a settings service with defaults from configuration
func NewService(store Store, cfg *config.ClassifierConfig, logger *logrus.Logger) *Service {
	return &Service{
		store: store,
		defaults: models.ModerationSetting{
			ClassifierEnabled: cfg.EnabledByDefault,
			ScoreThreshold:    cfg.DefaultThreshold,
		},
		logger: logger,
	}
}

// Get returns the chat's settings, persisting the defaults when absent
func (s *Service) Get(ctx context.Context, chatID int64) (*models.ModerationSetting, error) {
	setting, err := s.store.LoadSettings(ctx, chatID, s.defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return setting, nil
}

// SetEnabled turns the classifier on or off for a chat
func (s *Service) SetEnabled(ctx context.Context, chatID int64, enabled bool) (*models.ModerationSetting, error) {
	setting, err := s.store.UpdateSettings(ctx, chatID, s.defaults, func(m *models.ModerationSetting) {
		m.ClassifierEnabled = enabled
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"enabled": enabled,
	}).Info("Classifier toggled")

	return setting, nil
}

// SetThreshold sets the minimum classifier score that counts as a violation.
// Values outside [0,1] return a *models.ValidationError and change nothing.
func (s *Service) SetThreshold(ctx context.Context, chatID int64, value float64) (*models.ModerationSetting, error) {
	if err := ValidateThreshold(value); err != nil {
		return nil, err
	}

	setting, err := s.store.UpdateSettings(ctx, chatID, s.defaults, func(m *models.ModerationSetting) {
		m.ScoreThreshold = value
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id":   chatID,
		"threshold": value,
	}).Info("Classifier threshold updated")

	return setting, nil
}

// ValidateThreshold checks that value lies in the closed interval [0,1]
func ValidateThreshold(value float64) error {
	if math.IsNaN(value) || value < 0 || value > 1 {
		return &models.ValidationError{
			Field:   "threshold",
			Message: fmt.Sprintf("%v is outside [0, 1]", value),
		}
	}
	return nil
}
