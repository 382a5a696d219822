package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/i18n"
	"github.com/tg-antispam-go/internal/middleware"
	"github.com/tg-antispam-go/internal/models"
	"github.com/tg-antispam-go/internal/platform"
	"github.com/tg-antispam-go/internal/platform/platformtest"
	"github.com/tg-antispam-go/internal/services/cache"
	"github.com/tg-antispam-go/internal/services/keywords"
	"github.com/tg-antispam-go/internal/services/matcher"
	"github.com/tg-antispam-go/internal/services/settings"
	"github.com/tg-antispam-go/internal/services/storage"
	"github.com/tg-antispam-go/internal/services/warnings"
)

const (
	testChat   = int64(-100200)
	testAdmin  = int64(7)
	testMember = int64(42)
	testBot    = "antispam_bot"
)

type classifierState bool

func (c classifierState) Available() bool { return bool(c) }

type brokenWarnings struct{}

var errStoreDown = errors.New("store down")

func (brokenWarnings) IncrementWarning(ctx context.Context, chatID, userID int64) (int, error) {
	return 0, errStoreDown
}
func (brokenWarnings) GetWarning(ctx context.Context, chatID, userID int64) (int, error) {
	return 0, errStoreDown
}
func (brokenWarnings) ListWarnings(ctx context.Context, chatID int64) ([]models.WarningRecord, error) {
	return nil, errStoreDown
}
func (brokenWarnings) ResetWarnings(ctx context.Context, chatID int64) error { return errStoreDown }
func (brokenWarnings) ResetUserWarning(ctx context.Context, chatID, userID int64) error {
	return errStoreDown
}

type commandHarness struct {
	handler  *CommandHandler
	chat     *platformtest.Chat
	store    *storage.MemoryStorage
	keywords *keywords.Service
	matchers *matcher.Cache
	settings *settings.Service
	ledger   *warnings.Ledger
	cfg      *config.Config
	logger   *logrus.Logger
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Moderation = config.ModerationConfig{
		WarnThreshold: 3,
		MuteDuration:  time.Hour,
		DeleteNotice:  true,
		DedupeTTL:     time.Minute,
	}
	cfg.Classifier = config.ClassifierConfig{DefaultThreshold: 0.7, SampleTextLength: 100}
	cfg.Storage.SampleCap = 100
	cfg.MemberCache.TTL = time.Minute
	return cfg
}

func newCommandHarness(t *testing.T, available bool) *commandHarness {
	logger := quietLogger()
	cfg := testConfig()

	localizer, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "en", Languages: []string{"en"}})
	require.NoError(t, err)

	chat := platformtest.NewChat()
	chat.SetStatus(testChat, testAdmin, platform.StatusAdministrator)

	store := storage.NewMemoryStorage(cfg, logger)
	h := &commandHarness{
		chat:     chat,
		store:    store,
		matchers: matcher.NewCache(store, logger, nil),
		cfg:      cfg,
		logger:   logger,
	}
	h.keywords = keywords.NewService(store, h.matchers, logger)
	h.settings = settings.NewService(store, &cfg.Classifier, logger)
	h.ledger = warnings.NewLedger(store, logger)

	h.handler = NewCommandHandler(
		chat,
		cfg,
		cache.NewMemberCache(chat, &cfg.MemberCache, logger),
		h.keywords,
		h.ledger,
		h.settings,
		store,
		classifierState(available),
		localizer,
		middleware.NewMetrics(),
		logger,
		testBot,
	)
	return h
}

func commandMessage(userID int64, text string) *tgbotapi.Message {
	name := text
	if i := strings.IndexByte(text, ' '); i >= 0 {
		name = text[:i]
	}
	return &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: userID, FirstName: "Alice"},
		Chat:      &tgbotapi.Chat{ID: testChat, Type: "supergroup", Title: "Group"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func (h *commandHarness) run(t *testing.T, userID int64, text string) string {
	t.Helper()
	handled, err := h.handler.HandleCommand(context.Background(), commandMessage(userID, text))
	require.NoError(t, err)
	require.True(t, handled)
	return h.chat.LastText()
}

func TestCommandRequiresAdmin(t *testing.T) {
	h := newCommandHarness(t, false)

	handled, err := h.handler.HandleCommand(context.Background(), commandMessage(testMember, "/addkw spam"))
	require.NoError(t, err)
	assert.False(t, handled, "rejected commands are still moderated")
	assert.Equal(t, "Only chat administrators can use this command.", h.chat.LastText())

	list, err := h.keywords.List(context.Background(), testChat)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCommandAnonymousAdmin(t *testing.T) {
	h := newCommandHarness(t, false)

	msg := commandMessage(1087968824, "/addkw spam")
	msg.SenderChat = &tgbotapi.Chat{ID: testChat, Type: "supergroup", Title: "Group"}

	handled, err := h.handler.HandleCommand(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "✅ Added 1 keywords.", h.chat.LastText())
	// the anonymous sender is never looked up
	assert.Equal(t, 0, h.chat.StatusCalls)
}

func TestCommandRouting(t *testing.T) {
	h := newCommandHarness(t, false)
	ctx := context.Background()

	handled, err := h.handler.HandleCommand(ctx, commandMessage(testMember, "/addkw@other_bot spam"))
	require.NoError(t, err)
	assert.False(t, handled, "commands for other bots fall through to moderation")
	assert.Empty(t, h.chat.Messages)

	handled, err = h.handler.HandleCommand(ctx, commandMessage(testMember, "/start"))
	require.NoError(t, err)
	assert.False(t, handled, "unknown commands fall through to moderation")

	handled, err = h.handler.HandleCommand(ctx, commandMessage(testAdmin, "/ADDKW@Antispam_Bot spam"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "✅ Added 1 keywords.", h.chat.LastText())
}

func TestCommandHelp(t *testing.T) {
	h := newCommandHarness(t, false)

	reply := h.run(t, testAdmin, "/help")
	last := h.chat.Messages[len(h.chat.Messages)-1]
	assert.True(t, last.HTML)
	assert.Equal(t, 10, last.ReplyTo)
	assert.Contains(t, reply, "<b>AntiSpam Bot</b>")
	assert.Contains(t, reply, "more than 3 warnings")
}

func TestKeywordCommands(t *testing.T) {
	h := newCommandHarness(t, false)
	ctx := context.Background()

	assert.Contains(t, h.run(t, testAdmin, "/addkw"), "Usage: /addkw")
	assert.Equal(t, "✅ Added 3 keywords.", h.run(t, testAdmin, "/addkw spam  casino /free\\s+gift/ spam"))

	m, err := h.matchers.Ensure(ctx, testChat)
	require.NoError(t, err)
	assert.True(t, matches(m, "FREE   gift inside"))

	reply := h.run(t, testAdmin, "/listkw")
	assert.Contains(t, reply, "casino")
	assert.Contains(t, reply, "/free\\s+gift/")
	assert.NotContains(t, reply, "in total")

	assert.Contains(t, h.run(t, testAdmin, "/rmkw"), "Usage: /rmkw")
	assert.Equal(t, "🧹 Removed 1 keywords.", h.run(t, testAdmin, "/rmkw casino nothing"))

	m, err = h.matchers.Ensure(ctx, testChat)
	require.NoError(t, err)
	assert.False(t, matches(m, "casino night"))

	assert.Equal(t, "🧽 Cleared 2 keywords.", h.run(t, testAdmin, "/clearkw"))
	assert.Equal(t, "No keywords yet. Use /addkw to add some.", h.run(t, testAdmin, "/listkw"))
}

func TestListKeywordsTruncates(t *testing.T) {
	h := newCommandHarness(t, false)

	words := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		words = append(words, "kw"+strings.Repeat("x", i+1))
	}
	_, err := h.keywords.Add(context.Background(), testChat, words)
	require.NoError(t, err)

	reply := h.run(t, testAdmin, "/listkw")
	assert.Contains(t, reply, "60 in total")
	assert.Equal(t, 50, strings.Count(reply, "kwx"))
}

func TestWarningCommands(t *testing.T) {
	h := newCommandHarness(t, false)
	ctx := context.Background()

	assert.Equal(t, "Warnings:\nnone", h.run(t, testAdmin, "/warns"))

	for i := 0; i < 2; i++ {
		_, err := h.ledger.Increment(ctx, testChat, testMember)
		require.NoError(t, err)
	}
	_, err := h.ledger.Increment(ctx, testChat, 99)
	require.NoError(t, err)

	assert.Equal(t, "Warnings:\nuser_id 42 -> warns 2\nuser_id 99 -> warns 1", h.run(t, testAdmin, "/warns"))

	msg := commandMessage(testAdmin, "/warns")
	msg.ReplyToMessage = &tgbotapi.Message{MessageID: 5, From: &tgbotapi.User{ID: testMember, FirstName: "Mallory"}}
	_, err = h.handler.HandleCommand(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, "Mallory has 2 warnings.", h.chat.LastText())

	msg = commandMessage(testAdmin, "/resetwarns")
	msg.ReplyToMessage = &tgbotapi.Message{MessageID: 5, From: &tgbotapi.User{ID: testMember, FirstName: "Mallory"}}
	_, err = h.handler.HandleCommand(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, "Warnings for Mallory were reset.", h.chat.LastText())

	count, err := h.ledger.Get(ctx, testChat, 99)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, "Warnings for this chat were reset.", h.run(t, testAdmin, "/resetwarns"))
	count, err = h.ledger.Get(ctx, testChat, 99)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestClassifierCommands(t *testing.T) {
	h := newCommandHarness(t, false)
	ctx := context.Background()

	assert.Equal(t, "AI detection: off\nThreshold: 0.70\nService: not configured", h.run(t, testAdmin, "/aistatus"))

	reply := h.run(t, testAdmin, "/aion")
	assert.Contains(t, reply, "AI detection enabled.")
	assert.Contains(t, reply, "No AI service is configured")

	setting, err := h.settings.Get(ctx, testChat)
	require.NoError(t, err)
	assert.True(t, setting.ClassifierEnabled)

	assert.Equal(t, "AI detection disabled.", h.run(t, testAdmin, "/aioff"))
}

func TestClassifierOnWhenAvailable(t *testing.T) {
	h := newCommandHarness(t, true)

	assert.Equal(t, "🤖 AI detection enabled.", h.run(t, testAdmin, "/aion"))
	assert.Equal(t, "AI detection: on\nThreshold: 0.70\nService: available", h.run(t, testAdmin, "/aistatus"))
}

func TestThresholdCommand(t *testing.T) {
	h := newCommandHarness(t, true)
	ctx := context.Background()

	assert.Contains(t, h.run(t, testAdmin, "/aithreshold"), "Usage: /aithreshold")
	assert.Equal(t, "✅ AI threshold set to 0.85.", h.run(t, testAdmin, "/aithreshold 0.85"))

	for _, bad := range []string{"1.5", "-0.1", "abc", "NaN"} {
		assert.Equal(t, "❌ The threshold must be between 0 and 1.", h.run(t, testAdmin, "/aithreshold "+bad), bad)
	}

	setting, err := h.settings.Get(ctx, testChat)
	require.NoError(t, err)
	assert.Equal(t, 0.85, setting.ScoreThreshold)
}

func TestExportImportKeywords(t *testing.T) {
	h := newCommandHarness(t, false)
	ctx := context.Background()

	_, err := h.keywords.Add(ctx, testChat, []string{"spam", "/v(x|y)/"})
	require.NoError(t, err)

	_, err = h.handler.HandleCommand(ctx, commandMessage(testAdmin, "/exportkw"))
	require.NoError(t, err)
	require.Len(t, h.chat.Documents, 1)

	doc := h.chat.Documents[0]
	assert.Equal(t, "keywords_-100200.json", doc.Name)
	assert.Equal(t, "2 keywords.", doc.Caption)

	var exported models.KeywordExport
	require.NoError(t, json.Unmarshal(doc.Data, &exported))
	assert.ElementsMatch(t, []string{"spam", "/v(x|y)/"}, exported.Keywords)

	_, err = h.keywords.Clear(ctx, testChat)
	require.NoError(t, err)

	msg := commandMessage(testAdmin, "/importkw")
	msg.ReplyToMessage = &tgbotapi.Message{MessageID: 3, Text: string(doc.Data)}
	_, err = h.handler.HandleCommand(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, "✅ Imported 2 new keywords.", h.chat.LastText())

	assert.Equal(t, "✅ Imported 1 new keywords.", h.run(t, testAdmin, `/importkw ["spam", "lottery"]`))

	list, err := h.keywords.List(ctx, testChat)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestImportRejectsMalformed(t *testing.T) {
	h := newCommandHarness(t, false)

	assert.Contains(t, h.run(t, testAdmin, "/importkw"), "Usage: /importkw")
	assert.Equal(t, "❌ Import failed: not a JSON document", h.run(t, testAdmin, "/importkw spam"))
	assert.Equal(t, "❌ Import failed: expected a JSON array of strings", h.run(t, testAdmin, "/importkw [1, 2]"))

	list, err := h.keywords.List(context.Background(), testChat)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestExportSamples(t *testing.T) {
	h := newCommandHarness(t, true)
	ctx := context.Background()

	assert.Equal(t, "No AI verdicts yet.", h.run(t, testAdmin, "/exportai"))
	assert.Equal(t, "Usage: /exportai [1-500]", h.run(t, testAdmin, "/exportai 1000"))

	for i, score := range []float64{0.2, 0.9} {
		require.NoError(t, h.store.AppendSample(ctx, &models.AiSample{
			ChatID:    testChat,
			UserID:    testMember,
			Text:      "sample",
			Flagged:   score > 0.5,
			Score:     score,
			CreatedAt: time.Unix(int64(1000+i), 0),
		}))
	}

	_, err := h.handler.HandleCommand(ctx, commandMessage(testAdmin, "/exportai 1"))
	require.NoError(t, err)
	require.Len(t, h.chat.Documents, 1)

	doc := h.chat.Documents[0]
	assert.Equal(t, "ai_samples_-100200.json", doc.Name)
	assert.Equal(t, "Last 1 AI verdicts.", doc.Caption)

	var exported samplesExport
	require.NoError(t, json.Unmarshal(doc.Data, &exported))
	require.Len(t, exported.Samples, 1)
	assert.Equal(t, 0.9, exported.Samples[0].Score)
}

func TestCommandStoreFailure(t *testing.T) {
	h := newCommandHarness(t, false)
	h.handler.warnings = warnings.NewLedger(brokenWarnings{}, h.logger)

	handled, err := h.handler.HandleCommand(context.Background(), commandMessage(testAdmin, "/warns"))
	assert.True(t, handled)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, "Something went wrong, please try again later.", h.chat.LastText())
}

func matches(m *matcher.Matcher, text string) bool {
	_, ok := m.Search(text)
	return ok
}
