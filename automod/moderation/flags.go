package moderation

import (
	"strings"
)

type FlagInput struct {
	Slug        string
	DisplayName string
	Summary     string
	Frontmatter map[string]any
	Metadata    map[string]any
	// file paths only; contents are not inspected
	Paths []string
}

// Derives the coarse moderation flags stored on a skill at publish time, from its identity, parsed manifest and file names.
//
// Only context-aware patterns count (shortened or raw-IP install URLs, curl piped to a shell); bare keywords never flag.
func DeriveFlags(in FlagInput) []string {
	parts := []string{
		in.Slug,
		in.DisplayName,
		in.Summary,
		jsonText(in.Frontmatter),
		jsonText(in.Metadata),
	}
	parts = append(parts, in.Paths...)
	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	text := strings.Join(nonEmpty, "\n")

	flags := []string{}
	if blockedSignatureRe.MatchString(text) {
		flags = append(flags, FlagBlockedMalware)
	}
	if shortenerURLRe.MatchString(text) || rawIPURLRe.MatchString(text) || scriptPipeRe.MatchString(text) || isAlways(in.Frontmatter) {
		flags = append(flags, FlagFlaggedSuspicious)
	}
	return flags
}

// Union of two flag lists, keeping first-seen order.
func MergeFlags(a, b []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, f := range append(append([]string{}, a...), b...) {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
