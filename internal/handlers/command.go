package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/i18n"
	"github.com/tg-antispam-go/internal/middleware"
	"github.com/tg-antispam-go/internal/models"
	"github.com/tg-antispam-go/internal/platform"
	"github.com/tg-antispam-go/internal/services/keywords"
	"github.com/tg-antispam-go/internal/services/settings"
	"github.com/tg-antispam-go/internal/services/warnings"
	"github.com/tg-antispam-go/pkg/markdown"
)

const (
	listPreviewLimit   = 50
	defaultSampleCount = 50
	maxSampleCount     = 500
)

// AdminChecker tells whether a user administers a chat
type AdminChecker interface {
	IsAdmin(ctx context.Context, chatID, userID int64) bool
}

// SampleReader reads the classifier audit trail
type SampleReader interface {
	RecentSamples(ctx context.Context, chatID int64, limit int) ([]models.AiSample, error)
}

// ClassifierStatus reports whether a classifier is configured
type ClassifierStatus interface {
	Available() bool
}

type commandFunc func(ctx context.Context, msg *tgbotapi.Message) error

// CommandHandler handles admin commands
type CommandHandler struct {
	chat        platform.Chat
	config      *config.Config
	admins      AdminChecker
	keywords    *keywords.Service
	warnings    *warnings.Ledger
	settings    *settings.Service
	samples     SampleReader
	classifier  ClassifierStatus
	localizer   *i18n.Localizer
	metrics     *middleware.Metrics
	logger      *logrus.Logger
	botUsername string
	commands    map[string]commandFunc
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	chat platform.Chat,
	cfg *config.Config,
	admins AdminChecker,
	keywordService *keywords.Service,
	ledger *warnings.Ledger,
	settingsService *settings.Service,
	samples SampleReader,
	classifier ClassifierStatus,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
	botUsername string,
) *CommandHandler {
	h := &CommandHandler{
		chat:        chat,
		config:      cfg,
		admins:      admins,
		keywords:    keywordService,
		warnings:    ledger,
		settings:    settingsService,
		samples:     samples,
		classifier:  classifier,
		localizer:   localizer,
		metrics:     metrics,
		logger:      logger,
		botUsername: botUsername,
	}

	h.commands = map[string]commandFunc{
		"help":        h.handleHelp,
		"addkw":       h.handleAddKeywords,
		"rmkw":        h.handleRemoveKeywords,
		"listkw":      h.handleListKeywords,
		"clearkw":     h.handleClearKeywords,
		"warns":       h.handleWarnings,
		"resetwarns":  h.handleResetWarnings,
		"aion":        h.handleClassifierOn,
		"aioff":       h.handleClassifierOff,
		"aistatus":    h.handleClassifierStatus,
		"aithreshold": h.handleThreshold,
		"exportkw":    h.handleExportKeywords,
		"importkw":    h.handleImportKeywords,
		"exportai":    h.handleExportSamples,
	}

	return h
}

// HandleCommand runs an admin command. handled is false when no command ran:
// unknown commands, commands addressed to another bot and commands from
// non-admins are then moderated like any other text.
func (h *CommandHandler) HandleCommand(ctx context.Context, msg *tgbotapi.Message) (handled bool, err error) {
	if !msg.IsCommand() {
		return false, nil
	}

	// Commands addressed to another bot
	if target := commandTarget(msg); target != "" && !strings.EqualFold(target, h.botUsername) {
		return false, nil
	}

	command := strings.ToLower(msg.Command())
	run, ok := h.commands[command]
	if !ok {
		return false, nil
	}

	log := h.logger.WithFields(logrus.Fields{
		"chat_id": msg.Chat.ID,
		"command": command,
	})
	if msg.From != nil {
		log = log.WithField("user_id", msg.From.ID)
	}

	if !h.isAdmin(ctx, msg) {
		h.record(command, "rejected")
		log.Info("Admin command rejected")
		if err := h.reply(ctx, msg, h.localizer.T(i18n.MsgAdminOnly, nil)); err != nil {
			log.WithError(err).Warn("Failed to send rejection reply")
		}
		return false, nil
	}

	if err := run(ctx, msg); err != nil {
		h.record(command, "error")
		log.WithError(err).Error("Admin command failed")
		if replyErr := h.reply(ctx, msg, h.localizer.T(i18n.MsgError, nil)); replyErr != nil {
			log.WithError(replyErr).Warn("Failed to send error reply")
		}
		return true, err
	}

	h.record(command, "success")
	log.Debug("Admin command executed")
	return true, nil
}

func commandTarget(msg *tgbotapi.Message) string {
	withAt := msg.CommandWithAt()
	if i := strings.IndexByte(withAt, '@'); i >= 0 {
		return withAt[i+1:]
	}
	return ""
}

func (h *CommandHandler) isAdmin(ctx context.Context, msg *tgbotapi.Message) bool {
	if msg.SenderChat != nil && msg.SenderChat.ID == msg.Chat.ID {
		return true
	}
	if msg.From == nil {
		return false
	}
	return h.admins.IsAdmin(ctx, msg.Chat.ID, msg.From.ID)
}

func (h *CommandHandler) record(command, status string) {
	if h.metrics != nil {
		h.metrics.RecordCommandExecuted(command, status)
	}
}

func (h *CommandHandler) reply(ctx context.Context, msg *tgbotapi.Message, text string) error {
	return h.chat.Reply(ctx, msg.Chat.ID, msg.MessageID, text, false)
}

// handleHelp handles /help command
func (h *CommandHandler) handleHelp(ctx context.Context, msg *tgbotapi.Message) error {
	text := h.localizer.T(i18n.MsgHelp, map[string]interface{}{
		"Threshold": h.config.Moderation.WarnThreshold,
	})
	return h.chat.Reply(ctx, msg.Chat.ID, msg.MessageID, markdown.ToTelegramHTML(text), true)
}

// handleAddKeywords handles /addkw command
func (h *CommandHandler) handleAddKeywords(ctx context.Context, msg *tgbotapi.Message) error {
	items := strings.Fields(msg.CommandArguments())
	if len(items) == 0 {
		return h.reply(ctx, msg, h.localizer.T(i18n.MsgAddKeywordsUsage, nil))
	}

	added, err := h.keywords.Add(ctx, msg.Chat.ID, items)
	if err != nil {
		return err
	}
	return h.reply(ctx, msg, h.localizer.T(i18n.MsgKeywordsAdded, map[string]interface{}{"Count": added}))
}

// handleRemoveKeywords handles /rmkw command
func (h *CommandHandler) handleRemoveKeywords(ctx context.Context, msg *tgbotapi.Message) error {
	items := strings.Fields(msg.CommandArguments())
	if len(items) == 0 {
		return h.reply(ctx, msg, h.localizer.T(i18n.MsgRemoveKeywordsUsage, nil))
	}

	removed, err := h.keywords.Remove(ctx, msg.Chat.ID, items)
	if err != nil {
		return err
	}
	return h.reply(ctx, msg, h.localizer.T(i18n.MsgKeywordsRemoved, map[string]interface{}{"Count": removed}))
}

// handleListKeywords handles /listkw command
func (h *CommandHandler) handleListKeywords(ctx context.Context, msg *tgbotapi.Message) error {
	list, err := h.keywords.List(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return h.reply(ctx, msg, h.localizer.T(i18n.MsgKeywordsEmpty, nil))
	}

	preview := list
	more := ""
	if len(list) > listPreviewLimit {
		preview = list[:listPreviewLimit]
		more = h.localizer.T(i18n.MsgKeywordsMore, map[string]interface{}{"Total": len(list)})
	}

	return h.reply(ctx, msg, h.localizer.T(i18n.MsgKeywordsList, map[string]interface{}{
		"Limit":   listPreviewLimit,
		"Preview": strings.Join(preview, "\n"),
		"More":    more,
	}))
}

// handleClearKeywords handles /clearkw command
func (h *CommandHandler) handleClearKeywords(ctx context.Context, msg *tgbotapi.Message) error {
	removed, err := h.keywords.Clear(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	return h.reply(ctx, msg, h.localizer.T(i18n.MsgKeywordsCleared, map[string]interface{}{"Count": removed}))
}

// handleWarnings handles /warns command; replying to a user narrows it to them
func (h *CommandHandler) handleWarnings(ctx context.Context, msg *tgbotapi.Message) error {
	if target := replyTarget(msg); target != nil {
		count, err := h.warnings.Get(ctx, msg.Chat.ID, target.ID)
		if err != nil {
			return err
		}
		return h.reply(ctx, msg, h.localizer.T(i18n.MsgWarningsUser, map[string]interface{}{
			"Name":  displayName(target),
			"Count": count,
		}))
	}

	records, err := h.warnings.List(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}

	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, h.localizer.T(i18n.MsgWarningsLine, map[string]interface{}{
			"UserID": r.UserID,
			"Count":  r.Count,
		}))
	}
	body := h.localizer.T(i18n.MsgWarningsNone, nil)
	if len(lines) > 0 {
		body = strings.Join(lines, "\n")
	}

	return h.reply(ctx, msg, h.localizer.T(i18n.MsgWarningsList, map[string]interface{}{"Lines": body}))
}

// handleResetWarnings handles /resetwarns command; replying to a user resets only them
func (h *CommandHandler) handleResetWarnings(ctx context.Context, msg *tgbotapi.Message) error {
	if target := replyTarget(msg); target != nil {
		if err := h.warnings.ResetUser(ctx, msg.Chat.ID, target.ID); err != nil {
			return err
		}
		return h.reply(ctx, msg, h.localizer.T(i18n.MsgWarningsUserReset, map[string]interface{}{
			"Name": displayName(target),
		}))
	}

	if err := h.warnings.ResetChat(ctx, msg.Chat.ID); err != nil {
		return err
	}
	return h.reply(ctx, msg, h.localizer.T(i18n.MsgWarningsReset, nil))
}

// handleClassifierOn handles /aion command
func (h *CommandHandler) handleClassifierOn(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := h.settings.SetEnabled(ctx, msg.Chat.ID, true); err != nil {
		return err
	}

	text := h.localizer.T(i18n.MsgClassifierEnabled, nil)
	if !h.classifier.Available() {
		text += "\n" + h.localizer.T(i18n.MsgClassifierOffline, nil)
	}
	return h.reply(ctx, msg, text)
}

// handleClassifierOff handles /aioff command
func (h *CommandHandler) handleClassifierOff(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := h.settings.SetEnabled(ctx, msg.Chat.ID, false); err != nil {
		return err
	}
	return h.reply(ctx, msg, h.localizer.T(i18n.MsgClassifierDisabled, nil))
}

// handleClassifierStatus handles /aistatus command
func (h *CommandHandler) handleClassifierStatus(ctx context.Context, msg *tgbotapi.Message) error {
	setting, err := h.settings.Get(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}

	state := i18n.MsgClassifierStateOff
	if setting.ClassifierEnabled {
		state = i18n.MsgClassifierStateOn
	}
	service := i18n.MsgClassifierStateOffline
	if h.classifier.Available() {
		service = i18n.MsgClassifierStateOnline
	}

	return h.reply(ctx, msg, h.localizer.T(i18n.MsgClassifierStatus, map[string]interface{}{
		"State":     h.localizer.T(state, nil),
		"Threshold": formatScore(setting.ScoreThreshold),
		"Service":   h.localizer.T(service, nil),
	}))
}

// handleThreshold handles /aithreshold command
func (h *CommandHandler) handleThreshold(ctx context.Context, msg *tgbotapi.Message) error {
	arg := strings.TrimSpace(msg.CommandArguments())
	if arg == "" {
		return h.reply(ctx, msg, h.localizer.T(i18n.MsgThresholdUsage, nil))
	}

	value, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return h.reply(ctx, msg, h.localizer.T(i18n.MsgThresholdInvalid, nil))
	}

	setting, err := h.settings.SetThreshold(ctx, msg.Chat.ID, value)
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return h.reply(ctx, msg, h.localizer.T(i18n.MsgThresholdInvalid, nil))
	}
	if err != nil {
		return err
	}

	return h.reply(ctx, msg, h.localizer.T(i18n.MsgThresholdSet, map[string]interface{}{
		"Threshold": formatScore(setting.ScoreThreshold),
	}))
}

// handleExportKeywords handles /exportkw command
func (h *CommandHandler) handleExportKeywords(ctx context.Context, msg *tgbotapi.Message) error {
	data, count, err := h.keywords.Export(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("keywords_%d.json", msg.Chat.ID)
	caption := h.localizer.T(i18n.MsgKeywordsExported, map[string]interface{}{"Count": count})
	return h.chat.SendDocument(ctx, msg.Chat.ID, msg.MessageID, name, data, caption)
}

// handleImportKeywords handles /importkw command. The JSON comes from the
// arguments or from the message being replied to.
func (h *CommandHandler) handleImportKeywords(ctx context.Context, msg *tgbotapi.Message) error {
	payload := strings.TrimSpace(msg.CommandArguments())
	if payload == "" && msg.ReplyToMessage != nil {
		payload = strings.TrimSpace(msg.ReplyToMessage.Text)
		if payload == "" {
			payload = strings.TrimSpace(msg.ReplyToMessage.Caption)
		}
	}
	if payload == "" {
		return h.reply(ctx, msg, h.localizer.T(i18n.MsgImportUsage, nil))
	}

	added, err := h.keywords.Import(ctx, msg.Chat.ID, []byte(payload))
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return h.reply(ctx, msg, h.localizer.T(i18n.MsgImportInvalid, map[string]interface{}{"Error": verr.Message}))
	}
	if err != nil {
		return err
	}

	return h.reply(ctx, msg, h.localizer.T(i18n.MsgImportDone, map[string]interface{}{"Count": added}))
}

type samplesExport struct {
	ChatID     int64             `json:"chat_id"`
	ExportedAt time.Time         `json:"exported_at"`
	Samples    []models.AiSample `json:"samples"`
}

// handleExportSamples handles /exportai command
func (h *CommandHandler) handleExportSamples(ctx context.Context, msg *tgbotapi.Message) error {
	limit := defaultSampleCount
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > maxSampleCount {
			return h.reply(ctx, msg, h.localizer.T(i18n.MsgSamplesUsage, map[string]interface{}{"Max": maxSampleCount}))
		}
		limit = n
	}

	samples, err := h.samples.RecentSamples(ctx, msg.Chat.ID, limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return h.reply(ctx, msg, h.localizer.T(i18n.MsgSamplesEmpty, nil))
	}

	data, err := json.MarshalIndent(samplesExport{
		ChatID:     msg.Chat.ID,
		ExportedAt: time.Now().UTC(),
		Samples:    samples,
	}, "", "  ")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("ai_samples_%d.json", msg.Chat.ID)
	caption := h.localizer.T(i18n.MsgSamplesExported, map[string]interface{}{"Count": len(samples)})
	return h.chat.SendDocument(ctx, msg.Chat.ID, msg.MessageID, name, data, caption)
}

func replyTarget(msg *tgbotapi.Message) *tgbotapi.User {
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		return nil
	}
	return msg.ReplyToMessage.From
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
