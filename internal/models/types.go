package models

import (
	"fmt"
	"time"
)

// KeywordSet is a chat's keyword patterns together with the epoch they were read at.
// The epoch increases after every mutation that changes the set.
type KeywordSet struct {
	ChatID   int64
	Epoch    uint64
	Keywords []string // sorted
}

// WarningRecord is the violation counter of one user in one chat
type WarningRecord struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
	Count  int   `json:"count"`
}

// ModerationSetting holds the per-chat classifier toggles
type ModerationSetting struct {
	ChatID            int64     `json:"chat_id"`
	ClassifierEnabled bool      `json:"classifier_enabled"`
	ScoreThreshold    float64   `json:"score_threshold"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// AiSample is one audit row written per classifier invocation
type AiSample struct {
	ID        int64     `json:"id,omitempty"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	Text      string    `json:"text"`
	Flagged   bool      `json:"is_ad"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// KeywordExport is the JSON document produced by /exportkw and accepted by /importkw
type KeywordExport struct {
	ChatID     int64     `json:"chat_id,omitempty"`
	Keywords   []string  `json:"keywords"`
	ExportedAt time.Time `json:"exported_at,omitempty"`
}

// ValidationError reports malformed admin input. It never changes state.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
