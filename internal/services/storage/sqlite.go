package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStorage implements storage on a local SQLite file
type SQLiteStorage struct {
	db        *sqlx.DB
	sampleCap int
	logger    *logrus.Logger
}

type settingsRow struct {
	ChatID            int64   `db:"chat_id"`
	ClassifierEnabled bool    `db:"classifier_enabled"`
	ScoreThreshold    float64 `db:"score_threshold"`
	UpdatedAt         int64   `db:"updated_at"`
}

func (r settingsRow) toModel() *models.ModerationSetting {
	return &models.ModerationSetting{
		ChatID:            r.ChatID,
		ClassifierEnabled: r.ClassifierEnabled,
		ScoreThreshold:    r.ScoreThreshold,
		UpdatedAt:         time.UnixMilli(r.UpdatedAt),
	}
}

type sampleRow struct {
	ID        int64   `db:"id"`
	ChatID    int64   `db:"chat_id"`
	UserID    int64   `db:"user_id"`
	Text      string  `db:"text"`
	Flagged   bool    `db:"is_flagged"`
	Score     float64 `db:"score"`
	Reason    string  `db:"reason"`
	CreatedAt int64   `db:"created_at"`
}

type warningRow struct {
	UserID int64 `db:"user_id"`
	Count  int   `db:"count"`
}

func NewSQLiteStorage(cfg *config.Config, logger *logrus.Logger) (*SQLiteStorage, error) {
	dbPath := cfg.Storage.SQLite.Path

	// Ensure directory exists
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	busyTimeout := cfg.Storage.SQLite.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 2 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
		dbPath, busyTimeout.Milliseconds())

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrateSQLite(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithField("path", dbPath).Info("SQLite storage ready")

	return &SQLiteStorage{
		db:        db,
		sampleCap: cfg.Storage.SampleCap,
		logger:    logger,
	}, nil
}

func migrateSQLite(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to get database instance for migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run database migration: %w", err)
	}
	return nil
}

// sqliteError marks BUSY and LOCKED results as retryable
func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
	}
	return err
}

// inTx runs fn in a write transaction and commits when it returns nil
func (s *SQLiteStorage) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sqliteError(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return sqliteError(err)
	}
	return sqliteError(tx.Commit())
}

func bumpEpochTx(ctx context.Context, tx *sqlx.Tx, chatID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO keyword_epochs (chat_id, epoch) VALUES (?, 1)
		ON CONFLICT (chat_id) DO UPDATE SET epoch = epoch + 1`, chatID)
	return err
}

func (s *SQLiteStorage) AddKeywords(ctx context.Context, chatID int64, keywords []string) (int, error) {
	added := 0
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		added = 0
		now := time.Now().UnixMilli()
		for _, k := range keywords {
			res, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO keywords (chat_id, keyword, created_at) VALUES (?, ?, ?)`,
				chatID, k, now)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			added += int(n)
		}
		if added > 0 {
			return bumpEpochTx(ctx, tx, chatID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (s *SQLiteStorage) RemoveKeywords(ctx context.Context, chatID int64, keywords []string) (int, error) {
	removed := 0
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		removed = 0
		for _, k := range keywords {
			res, err := tx.ExecContext(ctx, `DELETE FROM keywords WHERE chat_id = ? AND keyword = ?`, chatID, k)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			removed += int(n)
		}
		if removed > 0 {
			return bumpEpochTx(ctx, tx, chatID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *SQLiteStorage) ClearKeywords(ctx context.Context, chatID int64) (int, error) {
	removed := 0
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM keywords WHERE chat_id = ?`, chatID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = int(n)
		if removed > 0 {
			return bumpEpochTx(ctx, tx, chatID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *SQLiteStorage) GetKeywords(ctx context.Context, chatID int64) (*models.KeywordSet, error) {
	set := &models.KeywordSet{ChatID: chatID, Keywords: []string{}}

	// Epoch first: a concurrent mutation can then only pair newer rows with an
	// older epoch, which costs one extra recompile and never a stale match.
	if err := s.db.GetContext(ctx, &set.Epoch, `SELECT epoch FROM keyword_epochs WHERE chat_id = ?`, chatID); err != nil && err != sql.ErrNoRows {
		return nil, sqliteError(err)
	}
	if err := s.db.SelectContext(ctx, &set.Keywords, `SELECT keyword FROM keywords WHERE chat_id = ? ORDER BY keyword`, chatID); err != nil {
		return nil, sqliteError(err)
	}
	return set, nil
}

func (s *SQLiteStorage) GetKeywordEpoch(ctx context.Context, chatID int64) (uint64, error) {
	var epoch uint64
	err := s.db.GetContext(ctx, &epoch, `SELECT epoch FROM keyword_epochs WHERE chat_id = ?`, chatID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return epoch, sqliteError(err)
}

func (s *SQLiteStorage) IncrementWarning(ctx context.Context, chatID, userID int64) (int, error) {
	var count int
	// A single upsert statement is atomic, so concurrent increments never share a count.
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO warnings (chat_id, user_id, count, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at
		RETURNING count`, chatID, userID, time.Now().UnixMilli()).Scan(&count)
	if err != nil {
		return 0, sqliteError(err)
	}
	return count, nil
}

func (s *SQLiteStorage) GetWarning(ctx context.Context, chatID, userID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT count FROM warnings WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, sqliteError(err)
}

func (s *SQLiteStorage) ListWarnings(ctx context.Context, chatID int64) ([]models.WarningRecord, error) {
	var rows []warningRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT user_id, count FROM warnings
		WHERE chat_id = ? AND count > 0
		ORDER BY count DESC, user_id`, chatID)
	if err != nil {
		return nil, sqliteError(err)
	}

	records := make([]models.WarningRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, models.WarningRecord{ChatID: chatID, UserID: row.UserID, Count: row.Count})
	}
	return records, nil
}

func (s *SQLiteStorage) ResetWarnings(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM warnings WHERE chat_id = ?`, chatID)
	return sqliteError(err)
}

func (s *SQLiteStorage) ResetUserWarning(ctx context.Context, chatID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM warnings WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return sqliteError(err)
}

func insertDefaultSettingsTx(ctx context.Context, tx *sqlx.Tx, chatID int64, defaults models.ModerationSetting) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO moderation_settings (chat_id, classifier_enabled, score_threshold, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (chat_id) DO NOTHING`,
		chatID, defaults.ClassifierEnabled, defaults.ScoreThreshold, time.Now().UnixMilli())
	return err
}

func (s *SQLiteStorage) LoadSettings(ctx context.Context, chatID int64, defaults models.ModerationSetting) (*models.ModerationSetting, error) {
	var row settingsRow
	err := s.db.GetContext(ctx, &row, `
		SELECT chat_id, classifier_enabled, score_threshold, updated_at
		FROM moderation_settings WHERE chat_id = ?`, chatID)
	if err == nil {
		return row.toModel(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, sqliteError(err)
	}

	// First sight of this chat: persist the defaults
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertDefaultSettingsTx(ctx, tx, chatID, defaults); err != nil {
			return err
		}
		return tx.GetContext(ctx, &row, `
			SELECT chat_id, classifier_enabled, score_threshold, updated_at
			FROM moderation_settings WHERE chat_id = ?`, chatID)
	})
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (s *SQLiteStorage) UpdateSettings(ctx context.Context, chatID int64, defaults models.ModerationSetting, mutate func(*models.ModerationSetting)) (*models.ModerationSetting, error) {
	var updated *models.ModerationSetting
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertDefaultSettingsTx(ctx, tx, chatID, defaults); err != nil {
			return err
		}
		var row settingsRow
		if err := tx.GetContext(ctx, &row, `
			SELECT chat_id, classifier_enabled, score_threshold, updated_at
			FROM moderation_settings WHERE chat_id = ?`, chatID); err != nil {
			return err
		}

		setting := row.toModel()
		mutate(setting)
		setting.ChatID = chatID
		setting.UpdatedAt = time.Now()

		_, err := tx.ExecContext(ctx, `
			UPDATE moderation_settings
			SET classifier_enabled = ?, score_threshold = ?, updated_at = ?
			WHERE chat_id = ?`,
			setting.ClassifierEnabled, setting.ScoreThreshold, setting.UpdatedAt.UnixMilli(), chatID)
		if err != nil {
			return err
		}
		updated = setting
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLiteStorage) AppendSample(ctx context.Context, sample *models.AiSample) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ai_samples (chat_id, user_id, text, is_flagged, score, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sample.ChatID, sample.UserID, sample.Text, sample.Flagged, sample.Score, sample.Reason,
			sample.CreatedAt.UnixMilli())
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil {
			sample.ID = id
		}

		if s.sampleCap > 0 {
			_, err = tx.ExecContext(ctx, `
				DELETE FROM ai_samples WHERE chat_id = ? AND id <= (
					SELECT id FROM ai_samples WHERE chat_id = ? ORDER BY id DESC LIMIT 1 OFFSET ?
				)`, sample.ChatID, sample.ChatID, s.sampleCap)
		}
		return err
	})
}

func (s *SQLiteStorage) RecentSamples(ctx context.Context, chatID int64, limit int) ([]models.AiSample, error) {
	var rows []sampleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, chat_id, user_id, text, is_flagged, score, reason, created_at
		FROM ai_samples WHERE chat_id = ?
		ORDER BY id DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, sqliteError(err)
	}

	samples := make([]models.AiSample, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, models.AiSample{
			ID:        row.ID,
			ChatID:    row.ChatID,
			UserID:    row.UserID,
			Text:      row.Text,
			Flagged:   row.Flagged,
			Score:     row.Score,
			Reason:    row.Reason,
			CreatedAt: time.UnixMilli(row.CreatedAt),
		})
	}
	return samples, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
