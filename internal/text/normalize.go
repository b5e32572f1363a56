// Package text prepares request text for base synthesis.
package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Special characters rewritten before synthesis.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsisChar = "…"
	ellipsis     = "..."
)

// Normalizer cleans text so the synthesizer's encoder sees plain punctuation.
type Normalizer struct {
	whitespacePattern *regexp.Regexp
	replacer          *strings.Replacer
}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		whitespacePattern: regexp.MustCompile(`\s+`),
		replacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize collapses whitespace, flattens typographic punctuation, drops
// repeated punctuation and terminates the final sentence.
func (n *Normalizer) Normalize(input string) string {
	normalized := n.whitespacePattern.ReplaceAllString(input, " ")
	normalized = strings.TrimSpace(normalized)

	if normalized == "" {
		return ""
	}

	normalized = n.replacer.Replace(normalized)
	normalized = collapsePunctuation(normalized)

	return terminate(normalized)
}

func collapsePunctuation(input string) string {
	var builder strings.Builder

	builder.Grow(len(input))

	var last rune

	for _, char := range input {
		if unicode.IsPunct(char) && char == last {
			continue
		}

		builder.WriteRune(char)

		last = char
	}

	return builder.String()
}

func terminate(input string) string {
	lastChar, _ := utf8.DecodeLastRuneInString(input)

	switch lastChar {
	case '.', '!', '?':
		return input
	default:
		return input + "."
	}
}
