package keywords

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/models"
	"github.com/tg-antispam-go/internal/services/matcher"
)

// Store is the persistence needed by the keyword service
type Store interface {
	AddKeywords(ctx context.Context, chatID int64, keywords []string) (int, error)
	RemoveKeywords(ctx context.Context, chatID int64, keywords []string) (int, error)
	ClearKeywords(ctx context.Context, chatID int64) (int, error)
	GetKeywords(ctx context.Context, chatID int64) (*models.KeywordSet, error)
}

// Service manages per-chat keyword sets and keeps the matcher cache in step
// with every mutation.
type Service struct {
	store    Store
	matchers *matcher.Cache
	logger   *logrus.Logger
}

// NewService creates a keyword service
func NewService(store Store, matchers *matcher.Cache, logger *logrus.Logger) *Service {
	return &Service{
		store:    store,
		matchers: matchers,
		logger:   logger,
	}
}

// Normalize trims keywords and drops empty and repeated entries, keeping order
func Normalize(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	result := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		result = append(result, kw)
	}
	return result
}

// Add stores keywords for a chat and returns how many were new
func (s *Service) Add(ctx context.Context, chatID int64, keywords []string) (int, error) {
	keywords = Normalize(keywords)
	if len(keywords) == 0 {
		return 0, nil
	}

	added, err := s.store.AddKeywords(ctx, chatID, keywords)
	if err != nil {
		return 0, fmt.Errorf("failed to add keywords: %w", err)
	}
	if added > 0 {
		s.rebuild(ctx, chatID)
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id":   chatID,
		"requested": len(keywords),
		"added":     added,
	}).Info("Keywords added")

	return added, nil
}

// Remove deletes keywords from a chat and returns how many existed
func (s *Service) Remove(ctx context.Context, chatID int64, keywords []string) (int, error) {
	keywords = Normalize(keywords)
	if len(keywords) == 0 {
		return 0, nil
	}

	removed, err := s.store.RemoveKeywords(ctx, chatID, keywords)
	if err != nil {
		return 0, fmt.Errorf("failed to remove keywords: %w", err)
	}
	if removed > 0 {
		s.rebuild(ctx, chatID)
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id":   chatID,
		"requested": len(keywords),
		"removed":   removed,
	}).Info("Keywords removed")

	return removed, nil
}

// Clear deletes every keyword of a chat
func (s *Service) Clear(ctx context.Context, chatID int64) (int, error) {
	removed, err := s.store.ClearKeywords(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear keywords: %w", err)
	}
	if removed > 0 {
		s.rebuild(ctx, chatID)
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"removed": removed,
	}).Info("Keywords cleared")

	return removed, nil
}

// List returns the chat's keywords in lexicographic order
func (s *Service) List(ctx context.Context, chatID int64) ([]string, error) {
	set, err := s.store.GetKeywords(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	return set.Keywords, nil
}

// Export renders the chat's keyword set as an indented JSON document and
// returns how many keywords it holds
func (s *Service) Export(ctx context.Context, chatID int64) ([]byte, int, error) {
	keywords, err := s.List(ctx, chatID)
	if err != nil {
		return nil, 0, err
	}

	data, err := json.MarshalIndent(models.KeywordExport{
		ChatID:     chatID,
		Keywords:   keywords,
		ExportedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return nil, 0, err
	}
	return data, len(keywords), nil
}

// Import merges keywords from a JSON document into the chat's set.
// Malformed input returns a *models.ValidationError and changes nothing.
func (s *Service) Import(ctx context.Context, chatID int64, data []byte) (int, error) {
	keywords, err := ParseImport(data)
	if err != nil {
		return 0, err
	}
	return s.Add(ctx, chatID, keywords)
}

// ParseImport accepts either a JSON array of strings or an object with a
// "keywords" array, the format produced by Export.
func ParseImport(data []byte) ([]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &models.ValidationError{Field: "import", Message: "empty document"}
	}

	var keywords []string
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &keywords); err != nil {
			return nil, &models.ValidationError{Field: "import", Message: "expected a JSON array of strings"}
		}
	case '{':
		var doc struct {
			Keywords *[]string `json:"keywords"`
		}
		if err := json.Unmarshal(data, &doc); err != nil || doc.Keywords == nil {
			return nil, &models.ValidationError{Field: "import", Message: `expected an object with a "keywords" array`}
		}
		keywords = *doc.Keywords
	default:
		return nil, &models.ValidationError{Field: "import", Message: "not a JSON document"}
	}

	keywords = Normalize(keywords)
	if len(keywords) == 0 {
		return nil, &models.ValidationError{Field: "import", Message: "no keywords found"}
	}
	return keywords, nil
}

// rebuild recompiles the chat's matcher right after a mutation. A failed
// rebuild drops the entry so the next message recompiles from storage.
func (s *Service) rebuild(ctx context.Context, chatID int64) {
	if s.matchers == nil {
		return
	}
	if _, err := s.matchers.Rebuild(ctx, chatID); err != nil {
		s.matchers.Drop(chatID)
		s.logger.WithError(err).WithField("chat_id", chatID).Warn("Failed to rebuild matcher after keyword change")
	}
}
