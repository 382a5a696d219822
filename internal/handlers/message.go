package handlers

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/middleware"
	"github.com/tg-antispam-go/internal/services/moderation"
	"github.com/tg-antispam-go/pkg/logger"
)

// Moderator decides on one chat message
type Moderator interface {
	Process(ctx context.Context, ev moderation.Event) (moderation.Decision, error)
}

// MessageHandler routes group messages to admin commands or moderation
type MessageHandler struct {
	commands  *CommandHandler
	moderator Moderator
	metrics   *middleware.Metrics
	logger    *logrus.Logger
	botID     int64
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	commands *CommandHandler,
	moderator Moderator,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
	botID int64,
) *MessageHandler {
	return &MessageHandler{
		commands:  commands,
		moderator: moderator,
		metrics:   metrics,
		logger:    logger,
		botID:     botID,
	}
}

// HandleUpdate handles one update from the long poll
func (h *MessageHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}
	if msg.From != nil && msg.From.ID == h.botID {
		return nil
	}

	if h.metrics != nil {
		h.metrics.RecordMessageReceived(msg.Chat.Type)
	}

	// Only groups are moderated
	if !msg.Chat.IsGroup() && !msg.Chat.IsSuperGroup() {
		return nil
	}

	if msg.IsCommand() && h.commands != nil {
		handled, err := h.commands.HandleCommand(ctx, msg)
		if handled {
			return err
		}
	}

	return h.HandleMessage(ctx, msg)
}

// HandleMessage runs a message through moderation
func (h *MessageHandler) HandleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	ev := EventFromMessage(msg)

	decision, err := h.moderator.Process(ctx, ev)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordDecisionDropped()
		}
		return err
	}

	logger.WithMessage(h.logger, ev.ChatID, ev.UserID, ev.MessageID).WithFields(logrus.Fields{
		"outcome": decision.Outcome,
		"reason":  decision.Reason,
	}).Debug("Message moderated")
	return nil
}

// EventFromMessage converts a Telegram message into a moderation event
func EventFromMessage(msg *tgbotapi.Message) moderation.Event {
	ev := moderation.Event{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		Caption:   msg.Caption,
	}
	if msg.From != nil {
		ev.UserID = msg.From.ID
		ev.DisplayName = displayName(msg.From)
	}
	if msg.SenderChat != nil {
		ev.SenderChatID = msg.SenderChat.ID
		if ev.DisplayName == "" || msg.SenderChat.ID == msg.Chat.ID {
			ev.DisplayName = msg.SenderChat.Title
		}
	}
	return ev
}

func displayName(user *tgbotapi.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name != "" {
		return name
	}
	if user.UserName != "" {
		return "@" + user.UserName
	}
	return "user"
}
