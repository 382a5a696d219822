package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/config"
)

// Outcome tells how a verdict was reached
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeError       Outcome = "error"
)

// DefaultMaxInput bounds the text sent to the classifier, in runes
const DefaultMaxInput = 4000

const systemPrompt = `You are a spam filter for group chats. Decide whether the user's message is an advertisement, scam, or unsolicited promotion.
Reply with a single JSON object and nothing else:
{"is_ad": true or false, "score": number between 0 and 1, "reason": "short explanation"}`

// Verdict is the classifier's answer. Failures produce a safe verdict that is
// never flagged.
type Verdict struct {
	Flagged bool
	Score   float64
	Reason  string
	Outcome Outcome
}

// Completer is the chat completion call; *openai.Client satisfies it
type Completer interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Recorder receives one event per classification
type Recorder interface {
	RecordClassifierRequest(outcome string, duration time.Duration)
}

// Gateway wraps an OpenAI-compatible endpoint behind a fixed verdict contract
type Gateway struct {
	client    Completer
	model     string
	maxTokens int
	timeout   time.Duration
	maxInput  int
	recorder  Recorder
	logger    *logrus.Logger
}

// NewGateway creates a gateway from configuration. Without an API key and
// model the gateway answers every request with the unavailable verdict.
func NewGateway(cfg *config.Config, logger *logrus.Logger, recorder Recorder) *Gateway {
	var client Completer
	if cfg.Classifier.Configured() {
		clientConfig := openai.DefaultConfig(cfg.Classifier.APIKey)
		if cfg.Classifier.BaseURL != "" {
			clientConfig.BaseURL = cfg.Classifier.BaseURL
		}
		client = openai.NewClientWithConfig(clientConfig)

		logger.WithFields(logrus.Fields{
			"base_url": clientConfig.BaseURL,
			"model":    cfg.Classifier.Model,
		}).Info("Classifier configured")
	} else {
		logger.Info("Classifier not configured, moderation is rules only")
	}

	return NewGatewayWithClient(client, cfg, logger, recorder)
}

// NewGatewayWithClient creates a gateway around an existing completer
func NewGatewayWithClient(client Completer, cfg *config.Config, logger *logrus.Logger, recorder Recorder) *Gateway {
	maxInput := cfg.Moderation.MaxTextLength
	if maxInput <= 0 {
		maxInput = DefaultMaxInput
	}
	timeout := cfg.Classifier.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Gateway{
		client:    client,
		model:     cfg.Classifier.Model,
		maxTokens: cfg.Classifier.MaxTokens,
		timeout:   timeout,
		maxInput:  maxInput,
		recorder:  recorder,
		logger:    logger,
	}
}

// Available reports whether an external classifier is configured
func (g *Gateway) Available() bool {
	return g != nil && g.client != nil
}

// Classify scores text. It never returns an error: transport and parse
// failures yield an unflagged verdict with OutcomeError.
func (g *Gateway) Classify(ctx context.Context, text string) Verdict {
	if !g.Available() {
		return Verdict{Reason: string(OutcomeUnavailable), Outcome: OutcomeUnavailable}
	}

	start := time.Now()
	verdict, err := g.classify(ctx, Truncate(text, g.maxInput))
	if err != nil {
		g.logger.WithError(err).Warn("Classifier request failed")
		verdict = Verdict{Reason: fmt.Sprintf("error: %v", err), Outcome: OutcomeError}
	}

	if g.recorder != nil {
		g.recorder.RecordClassifierRequest(string(verdict.Outcome), time.Since(start))
	}
	return verdict
}

func (g *Gateway) classify(ctx context.Context, text string) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0,
	}
	if g.maxTokens > 0 {
		req.MaxTokens = g.maxTokens
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Verdict{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Verdict{}, errors.New("no response choices")
	}

	return ParseVerdict(resp.Choices[0].Message.Content)
}

type reply struct {
	IsAd   *bool    `json:"is_ad"`
	Score  *float64 `json:"score"`
	Reason *string  `json:"reason"`
}

// ParseVerdict reads the first JSON object embedded in content. is_ad and
// score are required; reason is optional.
func ParseVerdict(content string) (Verdict, error) {
	raw, ok := ExtractJSON(content)
	if !ok {
		return Verdict{}, errors.New("no JSON object in response")
	}

	var r reply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Verdict{}, fmt.Errorf("malformed response: %w", err)
	}
	if r.IsAd == nil {
		return Verdict{}, errors.New("missing is_ad")
	}
	if r.Score == nil {
		return Verdict{}, errors.New("missing score")
	}
	if *r.Score < 0 || *r.Score > 1 {
		return Verdict{}, fmt.Errorf("score %v outside [0, 1]", *r.Score)
	}

	verdict := Verdict{
		Flagged: *r.IsAd,
		Score:   *r.Score,
		Outcome: OutcomeOK,
	}
	if r.Reason != nil {
		verdict.Reason = *r.Reason
	}
	return verdict, nil
}

// ExtractJSON returns the first balanced {...} in s that decodes as a JSON
// object. Braces inside string literals are ignored.
func ExtractJSON(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := balancedEnd(s, start); end > 0 {
			candidate := s[start:end]
			var fields map[string]json.RawMessage
			if json.Unmarshal([]byte(candidate), &fields) == nil {
				return candidate, true
			}
		}

		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// balancedEnd returns the index just past the brace closing s[start], or -1
func balancedEnd(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// Truncate cuts s to at most max runes
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
