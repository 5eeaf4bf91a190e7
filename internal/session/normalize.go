package session

import "strings"

// NormalizePromptText substitutes the {{char}}/{{user}} placeholders used
// by character card authors and unescapes literal escape sequences that
// survive JSON round-trips through editing tools.
func NormalizePromptText(text string, charName, userName string) string {
	text = strings.ReplaceAll(text, "{{char}}", charName)
	text = strings.ReplaceAll(text, "{{user}}", userName)
	text = strings.ReplaceAll(text, "\\r\\n", "\n")
	text = strings.ReplaceAll(text, "\\n", "\n")
	text = strings.ReplaceAll(text, "\\\"", "\"")
	return text
}
