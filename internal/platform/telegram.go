package platform

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Telegram implements Chat on top of the Bot API
type Telegram struct {
	bot    *tgbotapi.BotAPI
	logger *logrus.Logger
}

// NewTelegram wraps an authorized bot
func NewTelegram(bot *tgbotapi.BotAPI, logger *logrus.Logger) *Telegram {
	return &Telegram{bot: bot, logger: logger}
}

func (t *Telegram) GetMemberStatus(ctx context.Context, chatID, userID int64) (MemberStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	member, err := t.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: chatID,
			UserID: userID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get chat member: %w", err)
	}
	return MemberStatus(member.Status), nil
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (t *Telegram) RestrictMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	restrict := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: chatID,
			UserID: userID,
		},
		UntilDate:   until.Unix(),
		Permissions: &tgbotapi.ChatPermissions{CanSendMessages: false},
	}
	if _, err := t.bot.Request(restrict); err != nil {
		return fmt.Errorf("failed to restrict member: %w", err)
	}
	return nil
}

func (t *Telegram) RemoveMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ban := tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: chatID,
			UserID: userID,
		},
	}
	if _, err := t.bot.Request(ban); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (t *Telegram) Reply(ctx context.Context, chatID int64, messageID int, text string, html bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = messageID
	if html {
		msg.ParseMode = tgbotapi.ModeHTML
	}

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

func (t *Telegram) SendDocument(ctx context.Context, chatID int64, replyTo int, name string, data []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = caption
	doc.ReplyToMessageID = replyTo

	if _, err := t.bot.Send(doc); err != nil {
		return fmt.Errorf("failed to send document: %w", err)
	}

	t.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"name":    name,
		"bytes":   len(data),
	}).Debug("Document sent")
	return nil
}
