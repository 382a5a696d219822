package middleware

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tg-antispam-go/internal/config"
	"golang.org/x/time/rate"
)

// RateLimitRecorder receives rejected requests
type RateLimitRecorder interface {
	RecordRateLimitExceeded()
}

// ChatRateLimiter implements per-chat rate limiting of classifier calls
type ChatRateLimiter struct {
	enabled         bool
	limiters        map[int64]*rate.Limiter
	mu              sync.RWMutex
	rpm             int
	burst           int
	logger          *logrus.Logger
	recorder        RateLimitRecorder
	cleanupInterval time.Duration
	maxLimiters     int
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.RateLimitConfig, logger *logrus.Logger, recorder RateLimitRecorder) *ChatRateLimiter {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return &ChatRateLimiter{enabled: false}
	}

	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	rl := &ChatRateLimiter{
		enabled:         true,
		limiters:        make(map[int64]*rate.Limiter),
		rpm:             cfg.RequestsPerMinute,
		burst:           burst,
		logger:          logger,
		recorder:        recorder,
		cleanupInterval: 1 * time.Hour,
		maxLimiters:     10000,
		stop:            make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// Allow checks if a chat may make another classifier call
func (r *ChatRateLimiter) Allow(chatID int64) bool {
	if !r.enabled {
		return true
	}

	limiter := r.getLimiter(chatID)
	allowed := limiter.Allow()

	if !allowed {
		r.logger.WithFields(logrus.Fields{
			"chat_id": chatID,
		}).Warn("Classifier rate limit exceeded")
		if r.recorder != nil {
			r.recorder.RecordRateLimitExceeded()
		}
	}

	return allowed
}

// Stop ends the cleanup goroutine
func (r *ChatRateLimiter) Stop() {
	if !r.enabled {
		return
	}
	r.stopOnce.Do(func() { close(r.stop) })
}

// getLimiter gets or creates a rate limiter for a chat
func (r *ChatRateLimiter) getLimiter(chatID int64) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[chatID]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[chatID]; exists {
		return limiter
	}

	// Rate per second = RPM / 60
	rps := float64(r.rpm) / 60.0
	limiter = rate.NewLimiter(rate.Limit(rps), r.burst)
	r.limiters[chatID] = limiter

	return limiter
}

// cleanup drops every limiter once the map grows past maxLimiters
func (r *ChatRateLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if len(r.limiters) > r.maxLimiters {
				r.logger.Warn("Rate limiter map size exceeded threshold, clearing")
				r.limiters = make(map[int64]*rate.Limiter)
			}
			r.mu.Unlock()
		}
	}
}
