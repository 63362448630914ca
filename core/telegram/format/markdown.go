package format

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MarkdownV1 denotes Telegram markdown version 1.
	MarkdownV1 = 1
	// MarkdownV2 denotes Telegram markdown version 2.
	MarkdownV2 = 2
)

var (
	mdV1Re = regexp.MustCompile("[_*`\\[]")
	mdV2Re = regexp.MustCompile("[" + regexp.QuoteMeta("_*[]()~`>#+-=|{}.!") + "]")
)

// EscapeMarkdown escapes Telegram markdown control characters so that
// arbitrary text renders literally. For MarkdownV2 the entityType narrows
// the escape set per the Bot API rules: inside "pre" and "code" entities
// only backslash and backtick need escaping, inside "text_link" URLs only
// backslash and the closing parenthesis.
func EscapeMarkdown(text string, version int, entityType string) (string, error) {
	switch version {
	case MarkdownV1:
		return mdV1Re.ReplaceAllString(text, `\$0`), nil
	case MarkdownV2:
		switch entityType {
		case "pre", "code":
			return strings.NewReplacer(`\`, `\\`, "`", "\\`").Replace(text), nil
		case "text_link":
			return strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(text), nil
		}
		return mdV2Re.ReplaceAllString(text, `\$0`), nil
	}
	return "", fmt.Errorf("unsupported markdown version: %d", version)
}
