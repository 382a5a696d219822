package platform

import (
	"context"
	"time"
)

// MemberStatus is a user's role in a chat
type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
)

// IsAdmin reports whether the status may run admin commands and bypasses moderation
func (s MemberStatus) IsAdmin() bool {
	return s == StatusCreator || s == StatusAdministrator
}

// Chat is the chat platform capability used by moderation and admin commands
type Chat interface {
	GetMemberStatus(ctx context.Context, chatID, userID int64) (MemberStatus, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// RestrictMember revokes the right to send messages until the given time
	RestrictMember(ctx context.Context, chatID, userID int64, until time.Time) error
	RemoveMember(ctx context.Context, chatID, userID int64) error
	SendMessage(ctx context.Context, chatID int64, text string) error
	Reply(ctx context.Context, chatID int64, messageID int, text string, html bool) error
	SendDocument(ctx context.Context, chatID int64, replyTo int, name string, data []byte, caption string) error
}
