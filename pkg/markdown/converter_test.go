package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"bold", "**AntiSpam**", "<b>AntiSpam</b>"},
		{"italic", "*note*", "<i>note</i>"},
		{"code", "use `/addkw spam`", "use <code>/addkw spam</code>"},
		{"list", "- one\n- two", "• one\n• two"},
		{"heading", "# Title", "<b>Title</b>"},
		{"escapes", "a < b", "a &lt; b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToTelegramHTML(tt.input))
		})
	}
}

func TestToTelegramHTMLDropsUnsupportedTags(t *testing.T) {
	got := ToTelegramHTML("| a |\n|---|\n| b |")
	assert.NotContains(t, got, "<table")
	assert.NotContains(t, got, "<td")
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "b")
}
