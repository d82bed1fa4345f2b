package routing

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// StripMarkup removes HTML tags and decodes HTML entities
func StripMarkup(markup string) string {
	text := tagRe.ReplaceAllString(markup, " ")
	text = html.UnescapeString(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ExtractInstruction returns the plain-text instruction of the first step.
// A route without steps produces no instruction.
func ExtractInstruction(result *RouteResult) (string, bool) {
	step, ok := result.FirstStep()
	if !ok {
		return "", false
	}

	text := step.Instruction
	if text == "" {
		text = StripMarkup(step.HTMLInstruction)
	}
	if text == "" {
		return "", false
	}
	return text, true
}
