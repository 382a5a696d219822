package enforcement

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/i18n"
	"github.com/tg-antispam-go/internal/platform/platformtest"
)

type fakeRecorder struct {
	events []string
}

func (f *fakeRecorder) RecordEnforcement(action, status string) {
	f.events = append(f.events, action+":"+status)
}

func newTestEnforcer(t *testing.T, mute time.Duration, notify bool) (*Enforcer, *platformtest.Chat, *fakeRecorder) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	localizer, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "en", Languages: []string{"en"}})
	require.NoError(t, err)

	chat := platformtest.NewChat()
	recorder := &fakeRecorder{}
	e := NewEnforcer(chat, &config.ModerationConfig{
		WarnThreshold: 2,
		MuteDuration:  mute,
		DeleteNotice:  notify,
	}, localizer, logger, recorder)
	return e, chat, recorder
}

func TestDecide(t *testing.T) {
	muting, _, _ := newTestEnforcer(t, time.Hour, true)
	removing, _, _ := newTestEnforcer(t, 0, true)

	assert.Equal(t, ActionNone, muting.Decide(0))
	assert.Equal(t, ActionNone, muting.Decide(2))
	assert.Equal(t, ActionRestrict, muting.Decide(3))
	assert.Equal(t, ActionNone, removing.Decide(2))
	assert.Equal(t, ActionRemove, removing.Decide(3))
}

func TestApplyBelowThresholdDoesNothing(t *testing.T) {
	e, chat, recorder := newTestEnforcer(t, time.Hour, true)

	result := e.Apply(context.Background(), 1, 2, "Bob", 2)
	assert.Equal(t, ActionNone, result.Action)
	assert.Empty(t, chat.Restrictions)
	assert.Empty(t, chat.Messages)
	assert.Empty(t, recorder.events)
}

func TestApplyRestricts(t *testing.T) {
	assert := assert.New(t)
	e, chat, recorder := newTestEnforcer(t, time.Hour, true)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	result := e.Apply(context.Background(), 1, 2, "Bob", 3)
	assert.Equal(ActionRestrict, result.Action)
	assert.NoError(result.Err)
	assert.Equal(now.Add(time.Hour), result.Until)

	require.Len(t, chat.Restrictions, 1)
	assert.Equal(platformtest.Restriction{ChatID: 1, UserID: 2, Until: now.Add(time.Hour)}, chat.Restrictions[0])
	assert.Equal([]string{"🚫 Muted Bob for 3600 seconds (warning 3)."}, chat.Texts())
	assert.Equal([]string{"restrict:success"}, recorder.events)
}

func TestApplyRemoves(t *testing.T) {
	e, chat, _ := newTestEnforcer(t, 0, true)

	result := e.Apply(context.Background(), 1, 2, "Bob", 3)
	assert.Equal(t, ActionRemove, result.Action)
	assert.Equal(t, []platformtest.Member{{ChatID: 1, UserID: 2}}, chat.Removed)
	assert.Equal(t, []string{"🛑 Removed Bob from the chat (warning 3)."}, chat.Texts())
}

func TestApplySilentWithoutNotices(t *testing.T) {
	e, chat, _ := newTestEnforcer(t, time.Hour, false)

	result := e.Apply(context.Background(), 1, 2, "Bob", 5)
	assert.NoError(t, result.Err)
	assert.Len(t, chat.Restrictions, 1)
	assert.Empty(t, chat.Messages)
}

func TestApplyFailureIsReportedNotPropagated(t *testing.T) {
	assert := assert.New(t)
	e, chat, recorder := newTestEnforcer(t, time.Hour, false)
	chat.RestrictErr = platformtest.ErrForbidden

	result := e.Apply(context.Background(), 1, 2, "Bob", 3)
	assert.Equal(ActionRestrict, result.Action)
	assert.True(errors.Is(result.Err, platformtest.ErrForbidden))
	// the failure notice is sent even with notices disabled
	assert.Equal([]string{"⚠️ Punishment failed: " + platformtest.ErrForbidden.Error()}, chat.Texts())
	assert.Equal([]string{"restrict:failed"}, recorder.events)
}
