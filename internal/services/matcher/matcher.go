package matcher

import (
	"regexp"
	"strings"
)

// Matcher is a chat's keyword set compiled into a single alternation.
type Matcher struct {
	re       *regexp.Regexp
	degraded bool
}

// IsRegex reports whether a keyword is a regex body wrapped in slashes.
func IsRegex(keyword string) bool {
	return len(keyword) > 2 && strings.HasPrefix(keyword, "/") && strings.HasSuffix(keyword, "/")
}

// Compile builds a case-insensitive matcher for keywords. Literals are escaped,
// /regex/ keywords are used as is. When the combined pattern does not compile
// every keyword is matched literally instead. Returns nil when nothing is left
// to match.
func Compile(keywords []string) *Matcher {
	fragments := make([]string, 0, len(keywords))
	literals := make([]string, 0, len(keywords))
	hasRegex := false

	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		literals = append(literals, regexp.QuoteMeta(kw))
		if IsRegex(kw) {
			hasRegex = true
			fragments = append(fragments, "(?:"+kw[1:len(kw)-1]+")")
			continue
		}
		fragments = append(fragments, regexp.QuoteMeta(kw))
	}

	if len(fragments) == 0 {
		return nil
	}

	if re, err := regexp.Compile(alternation(fragments)); err == nil {
		return &Matcher{re: re}
	}

	// Every fragment is escaped here, so this cannot fail unless a regex
	// engine limit is hit; in that case the chat has no matcher.
	re, err := regexp.Compile(alternation(literals))
	if err != nil {
		return nil
	}
	return &Matcher{re: re, degraded: hasRegex}
}

func alternation(fragments []string) string {
	return "(?is)" + strings.Join(fragments, "|")
}

// Search returns the first matching fragment of text, if any.
func (m *Matcher) Search(text string) (string, bool) {
	if m == nil {
		return "", false
	}
	loc := m.re.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	return text[loc[0]:loc[1]], true
}

// Degraded reports whether regex keywords were downgraded to literals.
func (m *Matcher) Degraded() bool {
	return m != nil && m.degraded
}

// String returns the compiled pattern.
func (m *Matcher) String() string {
	if m == nil {
		return ""
	}
	return m.re.String()
}
