package domain

import (
	"fmt"
	"strings"
)

// tagAlphabet lists every character the game uses in player tags.
const tagAlphabet = "0289PYLQGRJCUV"

// NormalizeTag turns user input such as "abc123", "#ABC123" or " #abc123 " into
// the canonical "#ABC123" form. The letter O is read as the digit 0.
func NormalizeTag(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimLeft(clean, "#")
	clean = strings.ToUpper(strings.TrimSpace(clean))
	clean = strings.ReplaceAll(clean, "O", "0")

	if clean == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTag)
	}
	for _, r := range clean {
		if !strings.ContainsRune(tagAlphabet, r) {
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidTag, raw, r)
		}
	}
	return "#" + clean, nil
}
