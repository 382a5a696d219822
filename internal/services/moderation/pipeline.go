package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/config"
	"github.com/tg-antispam-go/internal/i18n"
	"github.com/tg-antispam-go/internal/models"
	"github.com/tg-antispam-go/internal/platform"
	"github.com/tg-antispam-go/internal/services/classifier"
	"github.com/tg-antispam-go/internal/services/enforcement"
	"github.com/tg-antispam-go/internal/services/matcher"
)

// Outcome is the terminal state of one event
type Outcome string

const (
	OutcomeAllowed   Outcome = "allowed"
	OutcomeViolation Outcome = "violation"
	OutcomeAdmin     Outcome = "admin"
	OutcomeNoText    Outcome = "no_text"
	OutcomeDuplicate Outcome = "duplicate"
)

const ReasonKeyword = "keyword"

// Event is one inbound chat message
type Event struct {
	ChatID      int64
	MessageID   int
	UserID      int64
	DisplayName string
	Text        string
	Caption     string
	// SenderChatID is set when the message was posted on behalf of a chat.
	// Anonymous administrators post as the group itself.
	SenderChatID int64
}

// Effect is the result of a best-effort side effect. Failures are logged and
// never abort the pipeline.
type Effect struct {
	Name string
	Err  error
}

// Decision is the full record of what happened to an event
type Decision struct {
	Outcome     Outcome
	Reason      string
	Match       string
	Verdict     *classifier.Verdict
	Warnings    int
	Enforcement enforcement.Result
	Effects     []Effect
}

type AdminChecker interface {
	IsAdmin(ctx context.Context, chatID, userID int64) bool
}

type MatcherSource interface {
	Ensure(ctx context.Context, chatID int64) (*matcher.Matcher, error)
}

type SettingsSource interface {
	Get(ctx context.Context, chatID int64) (*models.ModerationSetting, error)
}

type Classifier interface {
	Available() bool
	Classify(ctx context.Context, text string) classifier.Verdict
}

type SampleStore interface {
	AppendSample(ctx context.Context, sample *models.AiSample) error
}

type Ledger interface {
	Increment(ctx context.Context, chatID, userID int64) (int, error)
}

type Enforcer interface {
	Apply(ctx context.Context, chatID, userID int64, displayName string, count int) enforcement.Result
}

// Limiter bounds classifier calls per chat
type Limiter interface {
	Allow(chatID int64) bool
}

type Recorder interface {
	RecordDecision(outcome, reason string)
}

// Dependencies groups the collaborators of a Pipeline
type Dependencies struct {
	Chat       platform.Chat
	Admins     AdminChecker
	Matchers   MatcherSource
	Settings   SettingsSource
	Classifier Classifier
	Samples    SampleStore
	Ledger     Ledger
	Enforcer   Enforcer
	Limiter    Limiter
	Localizer  *i18n.Localizer
	Recorder   Recorder
}

// Pipeline decides on each message: admin bypass, keyword rules, classifier,
// then warning and enforcement on a violation.
type Pipeline struct {
	Dependencies
	notify     bool
	sampleText int
	dedupe     *cache.Cache
	dedupeTTL  time.Duration
	logger     *logrus.Logger
}

// NewPipeline creates a decision pipeline
func NewPipeline(deps Dependencies, cfg *config.Config, logger *logrus.Logger) *Pipeline {
	p := &Pipeline{
		Dependencies: deps,
		notify:       cfg.Moderation.DeleteNotice,
		sampleText:   cfg.Classifier.SampleTextLength,
		dedupeTTL:    cfg.Moderation.DedupeTTL,
		logger:       logger,
	}
	if p.dedupeTTL > 0 {
		p.dedupe = cache.New(p.dedupeTTL, p.dedupeTTL*2)
	}
	return p
}

// Process runs one event to a terminal state. An error means a store failure
// abandoned the decision; nothing was enforced for the event.
func (p *Pipeline) Process(ctx context.Context, ev Event) (decision Decision, err error) {
	log := p.logger.WithFields(logrus.Fields{
		"chat_id":    ev.ChatID,
		"user_id":    ev.UserID,
		"message_id": ev.MessageID,
	})

	if !p.claim(ev) {
		log.Debug("Duplicate delivery skipped")
		return p.finish(Decision{Outcome: OutcomeDuplicate}), nil
	}
	defer func() {
		if err != nil {
			p.release(ev)
			log.WithError(err).Error("Moderation decision dropped")
		}
	}()

	if p.isAdmin(ctx, ev) {
		return p.finish(Decision{Outcome: OutcomeAdmin}), nil
	}

	text := ev.Text
	if text == "" {
		text = ev.Caption
	}
	if text == "" {
		return p.finish(Decision{Outcome: OutcomeNoText}), nil
	}

	m, err := p.Matchers.Ensure(ctx, ev.ChatID)
	if err != nil {
		return Decision{}, err
	}
	if match, ok := m.Search(text); ok {
		decision = Decision{Outcome: OutcomeViolation, Reason: ReasonKeyword, Match: match}
		return p.violation(ctx, ev, decision, log)
	}

	decision, err = p.classify(ctx, ev, text, log)
	if err != nil {
		return Decision{}, err
	}
	if decision.Outcome == OutcomeViolation {
		return p.violation(ctx, ev, decision, log)
	}
	return p.finish(decision), nil
}

func (p *Pipeline) isAdmin(ctx context.Context, ev Event) bool {
	if ev.SenderChatID != 0 && ev.SenderChatID == ev.ChatID {
		return true
	}
	return p.Admins.IsAdmin(ctx, ev.ChatID, ev.UserID)
}

// classify runs the classifier stage. The sample is written once per call,
// whatever the verdict.
func (p *Pipeline) classify(ctx context.Context, ev Event, text string, log *logrus.Entry) (Decision, error) {
	decision := Decision{Outcome: OutcomeAllowed}
	if p.Classifier == nil || !p.Classifier.Available() {
		return decision, nil
	}

	setting, err := p.Settings.Get(ctx, ev.ChatID)
	if err != nil {
		return Decision{}, err
	}
	if !setting.ClassifierEnabled {
		return decision, nil
	}
	if p.Limiter != nil && !p.Limiter.Allow(ev.ChatID) {
		log.Debug("Classifier rate limited, skipping")
		return decision, nil
	}

	verdict := p.Classifier.Classify(ctx, text)
	decision.Verdict = &verdict

	sampleText := text
	if p.sampleText > 0 {
		sampleText = classifier.Truncate(text, p.sampleText)
	}
	err = p.Samples.AppendSample(ctx, &models.AiSample{
		ChatID:    ev.ChatID,
		UserID:    ev.UserID,
		Text:      sampleText,
		Flagged:   verdict.Flagged,
		Score:     verdict.Score,
		Reason:    verdict.Reason,
		CreatedAt: time.Now(),
	})
	decision.Effects = append(decision.Effects, p.effect(log, "sample", err))

	log.WithFields(logrus.Fields{
		"flagged":   verdict.Flagged,
		"score":     verdict.Score,
		"threshold": setting.ScoreThreshold,
		"outcome":   verdict.Outcome,
	}).Debug("Classifier verdict")

	if verdict.Flagged && verdict.Score >= setting.ScoreThreshold {
		decision.Outcome = OutcomeViolation
		decision.Reason = fmt.Sprintf("classifier:%.2f", verdict.Score)
	}
	return decision, nil
}

// violation records the warning, then runs the best-effort side effects and
// enforcement. Only the ledger write can fail the decision.
func (p *Pipeline) violation(ctx context.Context, ev Event, decision Decision, log *logrus.Entry) (Decision, error) {
	count, err := p.Ledger.Increment(ctx, ev.ChatID, ev.UserID)
	if err != nil {
		return Decision{}, err
	}
	decision.Warnings = count

	log = log.WithFields(logrus.Fields{
		"reason":   decision.Reason,
		"warnings": count,
	})

	err = p.Chat.DeleteMessage(ctx, ev.ChatID, ev.MessageID)
	decision.Effects = append(decision.Effects, p.effect(log, "delete", err))

	if p.notify {
		err = p.Chat.SendMessage(ctx, ev.ChatID, p.Localizer.T(i18n.MsgNoticeDeleted, map[string]interface{}{
			"Name":  ev.DisplayName,
			"Count": count,
		}))
		decision.Effects = append(decision.Effects, p.effect(log, "notice", err))
	}

	decision.Enforcement = p.Enforcer.Apply(ctx, ev.ChatID, ev.UserID, ev.DisplayName, count)

	log.WithField("action", decision.Enforcement.Action).Info("Violation handled")
	return p.finish(decision), nil
}

func (p *Pipeline) effect(log *logrus.Entry, name string, err error) Effect {
	if err != nil {
		log.WithError(err).WithField("effect", name).Warn("Best-effort action failed")
	}
	return Effect{Name: name, Err: err}
}

func (p *Pipeline) finish(decision Decision) Decision {
	if p.Recorder != nil {
		reason := decision.Reason
		if decision.Verdict != nil && reason != ReasonKeyword {
			reason = "classifier"
		}
		p.Recorder.RecordDecision(string(decision.Outcome), reason)
	}
	return decision
}

func dedupeKey(ev Event) string {
	return fmt.Sprintf("%d:%d", ev.ChatID, ev.MessageID)
}

// claim marks the event as in progress; false means it was already seen
func (p *Pipeline) claim(ev Event) bool {
	if p.dedupe == nil || ev.MessageID == 0 {
		return true
	}
	return p.dedupe.Add(dedupeKey(ev), struct{}{}, cache.DefaultExpiration) == nil
}

// release lets a redelivery of a failed event be processed again
func (p *Pipeline) release(ev Event) {
	if p.dedupe != nil {
		p.dedupe.Delete(dedupeKey(ev))
	}
}
