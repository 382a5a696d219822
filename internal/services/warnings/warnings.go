package warnings

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/models"
)

// Store is the persistence needed by the ledger. IncrementWarning must be
// atomic for concurrent callers on the same (chat, user).
type Store interface {
	IncrementWarning(ctx context.Context, chatID, userID int64) (int, error)
	GetWarning(ctx context.Context, chatID, userID int64) (int, error)
	ListWarnings(ctx context.Context, chatID int64) ([]models.WarningRecord, error)
	ResetWarnings(ctx context.Context, chatID int64) error
	ResetUserWarning(ctx context.Context, chatID, userID int64) error
}

// Ledger counts violations per user and chat
type Ledger struct {
	store  Store
	logger *logrus.Logger
}

// NewLedger creates a warning ledger
func NewLedger(store Store, logger *logrus.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Increment records a violation and returns the user's new count
func (l *Ledger) Increment(ctx context.Context, chatID, userID int64) (int, error) {
	count, err := l.store.IncrementWarning(ctx, chatID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to increment warning: %w", err)
	}
	return count, nil
}

// Get returns the user's count, zero when none was recorded
func (l *Ledger) Get(ctx context.Context, chatID, userID int64) (int, error) {
	count, err := l.store.GetWarning(ctx, chatID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get warning: %w", err)
	}
	return count, nil
}

// List returns the chat's counters, highest first
func (l *Ledger) List(ctx context.Context, chatID int64) ([]models.WarningRecord, error) {
	records, err := l.store.ListWarnings(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list warnings: %w", err)
	}
	return records, nil
}

// ResetChat clears every counter of a chat
func (l *Ledger) ResetChat(ctx context.Context, chatID int64) error {
	if err := l.store.ResetWarnings(ctx, chatID); err != nil {
		return fmt.Errorf("failed to reset warnings: %w", err)
	}
	l.logger.WithField("chat_id", chatID).Info("Warnings reset")
	return nil
}

// ResetUser clears one user's counter
func (l *Ledger) ResetUser(ctx context.Context, chatID, userID int64) error {
	if err := l.store.ResetUserWarning(ctx, chatID, userID); err != nil {
		return fmt.Errorf("failed to reset warning: %w", err)
	}
	l.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"user_id": userID,
	}).Info("User warnings reset")
	return nil
}
