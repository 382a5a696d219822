package enforcement

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/i18n"
	"github.com/tg-antispam-go/internal/platform"
)

// Action is the punishment chosen for a warning count
type Action string

const (
	ActionNone     Action = "none"
	ActionRestrict Action = "restrict"
	ActionRemove   Action = "remove"
)

// Result describes what Apply did. Err is the failure of the punishment
// itself; it has already been reported to the chat and logged.
type Result struct {
	Action    Action
	Until     time.Time
	Err       error
	NoticeErr error
}

// Recorder receives one event per attempted punishment
type Recorder interface {
	RecordEnforcement(action, status string)
}

// Enforcer maps warning counts to restrictions or removals
type Enforcer struct {
	chat      platform.Chat
	threshold int
	mute      time.Duration
	notify    bool
	localizer *i18n.Localizer
	recorder  Recorder
	logger    *logrus.Logger
	now       func() time.Time
}

// NewEnforcer creates an enforcer from the moderation configuration
func NewEnforcer(chat platform.Chat, cfg *config.ModerationConfig, localizer *i18n.Localizer, logger *logrus.Logger, recorder Recorder) *Enforcer {
	return &Enforcer{
		chat:      chat,
		threshold: cfg.WarnThreshold,
		mute:      cfg.MuteDuration,
		notify:    cfg.DeleteNotice,
		localizer: localizer,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Decide returns the action for a warning count
func (e *Enforcer) Decide(count int) Action {
	switch {
	case count <= e.threshold:
		return ActionNone
	case e.mute > 0:
		return ActionRestrict
	default:
		return ActionRemove
	}
}

// Apply punishes the user if count is past the threshold. Failures never
// propagate: they are logged and announced in the chat.
func (e *Enforcer) Apply(ctx context.Context, chatID, userID int64, displayName string, count int) Result {
	result := Result{Action: e.Decide(count)}
	if result.Action == ActionNone {
		return result
	}

	log := e.logger.WithFields(logrus.Fields{
		"chat_id":  chatID,
		"user_id":  userID,
		"warnings": count,
		"action":   result.Action,
	})

	var notice string
	data := map[string]interface{}{
		"Name":  displayName,
		"Count": count,
	}

	switch result.Action {
	case ActionRestrict:
		result.Until = e.now().Add(e.mute)
		result.Err = e.chat.RestrictMember(ctx, chatID, userID, result.Until)
		data["Seconds"] = int64(e.mute / time.Second)
		notice = i18n.MsgNoticeMuted
	case ActionRemove:
		result.Err = e.chat.RemoveMember(ctx, chatID, userID)
		notice = i18n.MsgNoticeRemoved
	}

	status := "success"
	if result.Err != nil {
		status = "failed"
		log.WithError(result.Err).Warn("Enforcement failed")
		result.NoticeErr = e.chat.SendMessage(ctx, chatID, e.localizer.T(i18n.MsgNoticeEnforceFailed, map[string]interface{}{
			"Error": result.Err.Error(),
		}))
	} else {
		log.Info("Enforcement applied")
		if e.notify {
			result.NoticeErr = e.chat.SendMessage(ctx, chatID, e.localizer.T(notice, data))
		}
	}

	if result.NoticeErr != nil {
		log.WithError(result.NoticeErr).Warn("Failed to send enforcement notice")
	}
	if e.recorder != nil {
		e.recorder.RecordEnforcement(string(result.Action), status)
	}

	return result
}
