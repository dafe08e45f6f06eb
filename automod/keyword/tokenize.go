// Text tokenization helpers shared by automod components.
package keyword

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"
)

var fallbackWordRegex = regexp.MustCompile(`[a-z0-9][a-z0-9'-]*`)

// Splits free-form text in to lower-case word tokens.
//
// Uses Unicode word segmentation (UAX #29), keeping only segments which contain at least one letter or digit. If segmentation finds no words at all, falls back to a simple ASCII alphanumeric match, which drops single-character tokens.
//
// Never panics, and returns an empty (non-nil) slice when there are no words.
func TokenizeWords(text string) []string {
	if text == "" {
		return []string{}
	}
	if !norm.NFC.IsNormalString(text) {
		text = norm.NFC.String(text)
	}

	toks := segmentWords(text)
	if len(toks) > 0 {
		return toks
	}
	return fallbackWords(text)
}

func segmentWords(text string) (out []string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("word segmentation failed, falling back", "err", r)
			out = nil
		}
	}()

	state := -1
	rest := text
	var word string
	for len(rest) > 0 {
		word, rest, state = uniseg.FirstWordInString(rest, state)
		if !isWordLike(word) {
			continue
		}
		tok := strings.ToLower(strings.TrimSpace(word))
		if tok == "" {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func fallbackWords(text string) []string {
	out := []string{}
	for _, tok := range fallbackWordRegex.FindAllString(strings.ToLower(text), -1) {
		if len(tok) > 1 {
			out = append(out, tok)
		}
	}
	return out
}

func isWordLike(seg string) bool {
	for _, r := range seg {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}

// Counts word tokens, as returned by TokenizeWords.
func CountWords(text string) int {
	return len(TokenizeWords(text))
}
