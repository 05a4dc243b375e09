// Package transcript defines the tagged history lines of a conversation.
package transcript

import (
	"fmt"
	"strings"
)

// Line source tags. Lines are plain strings prefixed with a tag so that
// the transcript stays human readable and cheap to persist.
const (
	TagUser      = "user"
	TagAssistant = "assistant"
	TagSystem    = "system"
	TagFormInput = "form_input"
)

// UserLine formats a user transcript line.
func UserLine(body string) string {
	return TagUser + ": " + body
}

// AssistantLine formats an assistant transcript line. The focus field, when
// present, is appended as an annotation so replayed history preserves it.
func AssistantLine(body, focusField string) string {
	if focusField != "" {
		return fmt.Sprintf("%s: %s [focus: %s]", TagAssistant, body, focusField)
	}
	return TagAssistant + ": " + body
}

// SystemLine formats a system transcript line.
func SystemLine(body string) string {
	return TagSystem + ": " + body
}

// FormInputLine records which fields changed in one turn.
func FormInputLine(names []string) string {
	return fmt.Sprintf("%s: [%s]", TagFormInput, strings.Join(names, ", "))
}

// Tail returns the last n lines of history.
func Tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// LastAssistantAskedQuestion reports whether the most recent assistant
// line ends in a question mark. Used as classifier context so a one-word
// reply is only treated as a field value when a question preceded it.
func LastAssistantAskedQuestion(lines []string) bool {
	for i := len(lines) - 1; i >= 0; i-- {
		if !strings.HasPrefix(lines[i], TagAssistant+":") {
			continue
		}
		body := strings.TrimSpace(strings.TrimPrefix(lines[i], TagAssistant+":"))
		// Strip a trailing focus annotation before inspecting punctuation.
		if idx := strings.LastIndex(body, "[focus:"); idx > 0 {
			body = strings.TrimSpace(body[:idx])
		}
		return strings.HasSuffix(body, "?")
	}
	return false
}
