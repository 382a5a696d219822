// Package platformtest provides an in-memory platform.Chat for tests.
package platformtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tg-antispam-go/internal/platform"
)

// ErrForbidden mimics a missing bot privilege
var ErrForbidden = errors.New("forbidden: not enough rights to restrict or ban chat member")

// Sent is one outgoing text
type Sent struct {
	ChatID  int64
	ReplyTo int
	Text    string
	HTML    bool
}

// Document is one outgoing file
type Document struct {
	ChatID  int64
	ReplyTo int
	Name    string
	Data    []byte
	Caption string
}

// Restriction is one RestrictMember call
type Restriction struct {
	ChatID int64
	UserID int64
	Until  time.Time
}

// Member identifies a removed user
type Member struct {
	ChatID int64
	UserID int64
}

// Chat records every call and returns configurable errors
type Chat struct {
	mu sync.Mutex

	statuses map[string]platform.MemberStatus

	StatusErr   error
	DeleteErr   error
	RestrictErr error
	RemoveErr   error
	SendErr     error

	StatusCalls  int
	Deleted      []int
	Restrictions []Restriction
	Removed      []Member
	Messages     []Sent
	Documents    []Document
}

// NewChat creates an empty fake; unknown users are plain members
func NewChat() *Chat {
	return &Chat{statuses: make(map[string]platform.MemberStatus)}
}

func memberKey(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}

// SetStatus sets a user's role in a chat
func (c *Chat) SetStatus(chatID, userID int64, status platform.MemberStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[memberKey(chatID, userID)] = status
}

func (c *Chat) GetMemberStatus(ctx context.Context, chatID, userID int64) (platform.MemberStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StatusCalls++
	if c.StatusErr != nil {
		return "", c.StatusErr
	}
	if status, ok := c.statuses[memberKey(chatID, userID)]; ok {
		return status, nil
	}
	return platform.StatusMember, nil
}

func (c *Chat) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DeleteErr != nil {
		return c.DeleteErr
	}
	c.Deleted = append(c.Deleted, messageID)
	return nil
}

func (c *Chat) RestrictMember(ctx context.Context, chatID, userID int64, until time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RestrictErr != nil {
		return c.RestrictErr
	}
	c.Restrictions = append(c.Restrictions, Restriction{ChatID: chatID, UserID: userID, Until: until})
	return nil
}

func (c *Chat) RemoveMember(ctx context.Context, chatID, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RemoveErr != nil {
		return c.RemoveErr
	}
	c.Removed = append(c.Removed, Member{ChatID: chatID, UserID: userID})
	return nil
}

func (c *Chat) SendMessage(ctx context.Context, chatID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Messages = append(c.Messages, Sent{ChatID: chatID, Text: text})
	return nil
}

func (c *Chat) Reply(ctx context.Context, chatID int64, messageID int, text string, html bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Messages = append(c.Messages, Sent{ChatID: chatID, ReplyTo: messageID, Text: text, HTML: html})
	return nil
}

func (c *Chat) SendDocument(ctx context.Context, chatID int64, replyTo int, name string, data []byte, caption string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Documents = append(c.Documents, Document{
		ChatID:  chatID,
		ReplyTo: replyTo,
		Name:    name,
		Data:    append([]byte(nil), data...),
		Caption: caption,
	})
	return nil
}

// Texts returns the text of every message sent so far
func (c *Chat) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	texts := make([]string, len(c.Messages))
	for i, m := range c.Messages {
		texts[i] = m.Text
	}
	return texts
}

// LastText returns the most recent message text, or ""
func (c *Chat) LastText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Messages) == 0 {
		return ""
	}
	return c.Messages[len(c.Messages)-1].Text
}

var _ platform.Chat = (*Chat)(nil)
