package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/tg-antispam-go/internal/config"
)

func TestRouter(t *testing.T) {
	router := NewRouter(&config.MonitoringConfig{
		Port:    10000,
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	})

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/", http.StatusOK, "OK - Telegram AntiSpam Bot running"},
		{"/ping", http.StatusOK, "pong"},
		{"/health", http.StatusOK, "OK"},
		{"/missing", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}

	NewMetrics().RecordDecision("violation", "keyword")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "antispam_decisions_total")
}

func TestRouterWithoutMetrics(t *testing.T) {
	router := NewRouter(&config.MonitoringConfig{Metrics: config.MetricsConfig{Enabled: false, Path: "/metrics"}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type countingRecorder struct {
	exceeded int
}

func (c *countingRecorder) RecordRateLimitExceeded() {
	c.exceeded++
}

func TestRateLimiterPerChat(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	recorder := &countingRecorder{}

	rl := NewRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}, logger, recorder)
	defer rl.Stop()

	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
	// other chats have their own bucket
	assert.True(t, rl.Allow(2))
	assert.Equal(t, 1, recorder.exceeded)
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{Enabled: false}, nil, nil)
	defer rl.Stop()

	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow(1))
	}
}
