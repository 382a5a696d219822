package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Bot.Token)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 2, cfg.Moderation.WarnThreshold)
	assert.Equal(t, time.Hour, cfg.Moderation.MuteDuration)
	assert.True(t, cfg.Moderation.DeleteNotice)
	assert.Equal(t, 0.7, cfg.Classifier.DefaultThreshold)
	assert.False(t, cfg.Classifier.Configured())
	assert.Equal(t, 10000, cfg.Monitoring.Port)
	assert.Equal(t, []string{"zh", "en"}, cfg.I18n.Languages)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bot:
  token: from-file
storage:
  type: memory
moderation:
  warn_threshold: 4
  mute_duration: 10m
classifier:
  model: gpt-4o-mini
`), 0o644))

	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("WARN_THRESHOLD", "5")
	t.Setenv("MUTE_SECONDS", "0")
	t.Setenv("CLASSIFIER_API_KEY", "sk-test")
	t.Setenv("REDIS_HOST", "cache")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Bot.Token)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 5, cfg.Moderation.WarnThreshold)
	assert.Zero(t, cfg.Moderation.MuteDuration)
	assert.True(t, cfg.Classifier.Configured())
	assert.Equal(t, "cache:6379", cfg.Storage.Redis.Addr)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing token", map[string]string{"BOT_TOKEN": ""}},
		{"bad storage", map[string]string{"STORAGE_TYPE": "postgres"}},
		{"negative threshold", map[string]string{"WARN_THRESHOLD": "-1"}},
		{"bad mute seconds", map[string]string{"MUTE_SECONDS": "soon"}},
		{"negative mute seconds", map[string]string{"MUTE_SECONDS": "-5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BOT_TOKEN", "123:abc")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig("")
			assert.Error(t, err)
		})
	}
}
