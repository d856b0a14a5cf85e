package command

import (
	"strings"

	"github.com/kballard/go-shellquote"
)

// Tokenize splits text with shell-style quoting. Malformed quoting falls
// back to whitespace splitting.
func Tokenize(text string) []string {
	text = strings.ReplaceAll(text, "\u00a0", " ")

	tokens, err := shellquote.Split(text)
	if err != nil {
		return strings.Fields(text)
	}
	return tokens
}
