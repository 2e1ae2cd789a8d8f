package sanitize

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var tagPattern = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9]*)[^>]*>`)

// Sanitizer reduces comment markup to the allowed subset and falls back to
// plain text whenever the filtered markup is not well formed.
type Sanitizer struct {
	allowList *bluemonday.Policy
	plainText *bluemonday.Policy
}

// New constructs a Sanitizer with the comment allow-list policy.
func New() *Sanitizer {
	allowList := bluemonday.NewPolicy()
	allowList.AllowElements("i", "strong", "code")
	allowList.AllowAttrs("href", "title").OnElements("a")
	allowList.RequireParseableURLs(true)
	allowList.AllowRelativeURLs(true)
	allowList.AllowURLSchemes("http", "https", "mailto")

	return &Sanitizer{
		allowList: allowList,
		plainText: bluemonday.StrictPolicy(),
	}
}

// Sanitize returns the cleaned form of raw. It never fails: markup that is
// still unbalanced after allow-list filtering is reduced to plain text.
func (s *Sanitizer) Sanitize(raw string) string {
	cleaned := s.allowList.Sanitize(raw)
	if WellFormed(cleaned) {
		return cleaned
	}
	return s.plainText.Sanitize(cleaned)
}

// StripAll removes every tag and returns the escaped visible text.
func (s *Sanitizer) StripAll(raw string) string {
	return s.plainText.Sanitize(raw)
}

// WellFormed reports whether every opening tag in markup is closed in
// properly nested order. Self-closing tags are ignored.
func WellFormed(markup string) bool {
	stack := make([]string, 0, 8)
	for _, match := range tagPattern.FindAllStringSubmatch(markup, -1) {
		full, closing, name := match[0], match[1], strings.ToLower(match[2])
		if closing == "/" {
			if len(stack) == 0 || stack[len(stack)-1] != name {
				return false
			}
			stack = stack[:len(stack)-1]
			continue
		}
		if strings.HasSuffix(full, "/>") {
			continue
		}
		stack = append(stack, name)
	}
	return len(stack) == 0
}
