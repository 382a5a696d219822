package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphPattern = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	codeBlockPattern = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	headingPattern   = regexp.MustCompile(`(?s)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	tagPattern       = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)(?:\s[^>]*)?>`)
	newlinesPattern  = regexp.MustCompile(`\n{3,}`)

	// Tags the Telegram HTML parse mode accepts
	supportedTags = map[string]bool{
		"b": true, "i": true, "u": true, "s": true,
		"code": true, "pre": true, "a": true,
	}
)

// ToTelegramHTML converts markdown to Telegram-compatible HTML
func ToTelegramHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	// Convert markdown to HTML using blackfriday
	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))

	return cleanHTMLForTelegram(html)
}

// cleanHTMLForTelegram cleans HTML to be compatible with Telegram
func cleanHTMLForTelegram(html string) string {
	html = paragraphPattern.ReplaceAllString(html, "$1\n")
	html = headingPattern.ReplaceAllString(html, "<b>$1</b>\n")

	html = strings.ReplaceAll(html, "<strong>", "<b>")
	html = strings.ReplaceAll(html, "</strong>", "</b>")
	html = strings.ReplaceAll(html, "<em>", "<i>")
	html = strings.ReplaceAll(html, "</em>", "</i>")
	html = strings.ReplaceAll(html, "<del>", "<s>")
	html = strings.ReplaceAll(html, "</del>", "</s>")

	html = codeBlockPattern.ReplaceAllString(html, "<pre>$1</pre>")

	// Lists become bullet lines
	html = strings.ReplaceAll(html, "<li>", "• ")
	html = strings.ReplaceAll(html, "</li>\n", "\n")
	html = strings.ReplaceAll(html, "</li>", "\n")
	html = strings.ReplaceAll(html, "<br>", "\n")
	html = strings.ReplaceAll(html, "<br />", "\n")

	html = tagPattern.ReplaceAllStringFunc(html, func(match string) string {
		name := tagPattern.FindStringSubmatch(match)[1]
		if supportedTags[strings.ToLower(name)] {
			return match
		}
		return ""
	})

	html = newlinesPattern.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
