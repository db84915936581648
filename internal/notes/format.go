package notes

import (
	"regexp"
	"strings"
)

var (
	codeTokens     = []string{"function", "class", "var", "const", "let", "import"}
	markdownTokens = []string{"#", "**", "__", "```", "- ", "1. "}
	taskTokens     = []string{"[ ]", "[x]"}

	taskLinePattern = regexp.MustCompile(`(?m)^\s*-\s+(\[\s\]|\[x\])`)
	urlPattern      = regexp.MustCompile(`https?://[^\s]+`)
	wwwPattern      = regexp.MustCompile(`www\.[^\s]+`)
)

// DetectFormat classifies note text. Categories overlap, so the checks run in a
// fixed order: code, markdown, task, link, then plain text.
func DetectFormat(text string) NoteFormat {
	if strings.TrimSpace(text) == "" {
		return FormatText
	}
	if looksLikeCode(text) {
		return FormatCode
	}
	if containsAny(text, markdownTokens) {
		return FormatMarkdown
	}
	if containsAny(text, taskTokens) || taskLinePattern.MatchString(text) {
		return FormatTask
	}
	if urlPattern.MatchString(text) || wwwPattern.MatchString(text) {
		return FormatLink
	}
	return FormatText
}

func looksLikeCode(text string) bool {
	if containsAny(text, codeTokens) {
		return true
	}
	open := strings.Index(text, "{")
	return open >= 0 && strings.Contains(text[open+1:], "}")
}

func containsAny(text string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// ComposeText joins a note's text blocks the way the detector expects them.
func ComposeText(blocks Blocks) string {
	return blocks.Text("\n")
}
