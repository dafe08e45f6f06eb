package quality

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/clawdhub/skillguard/automod/keyword"
)

// Marketing boilerplate common in machine-generated skill listings. Matched as case-insensitive substrings.
var templateMarkers = []string{
	"expert guidance for",
	"practical skill guidance",
	"step-by-step tutorials",
	"tips and techniques",
	"project ideas",
	"resource recommendations",
	"help with this skill",
	"learning guidance",
}

var (
	headingLine    = regexp.MustCompile(`^#{1,3}\s+`)
	genericSummary = regexp.MustCompile(`^expert guidance for [a-z0-9-]+\.?$`)
	cjkScripts     = []*unicode.RangeTable{unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul}
)

type Signals struct {
	BodyChars             int     `json:"bodyChars"`
	BodyWords             int     `json:"bodyWords"`
	UniqueWordRatio       float64 `json:"uniqueWordRatio"`
	HeadingCount          int     `json:"headingCount"`
	BulletCount           int     `json:"bulletCount"`
	TemplateMarkerHits    int     `json:"templateMarkerHits"`
	GenericSummary        bool    `json:"genericSummary"`
	CJKChars              int     `json:"cjkChars"`
	StructuralFingerprint string  `json:"structuralFingerprint"`
}

// Computes quality signals for a skill readme and optional summary. Never fails; empty input yields zero-valued signals.
func ComputeSignals(readmeText, summary string) Signals {
	body := StripFrontmatter(readmeText)

	words := keyword.TokenizeWords(body)
	ratio := 0.0
	if len(words) > 0 {
		uniq := make(map[string]bool, len(words))
		for _, w := range words {
			uniq[w] = true
		}
		ratio = float64(len(uniq)) / float64(len(words))
	}

	headings := 0
	bullets := 0
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if headingLine.MatchString(line) {
			headings++
		}
		if bulletPrefix.MatchString(line) {
			bullets++
		}
	}

	bodyLower := strings.ToLower(body)
	markerHits := 0
	for _, m := range templateMarkers {
		if strings.Contains(bodyLower, m) {
			markerHits++
		}
	}

	return Signals{
		BodyChars:             countNonSpace(body),
		BodyWords:             len(words),
		UniqueWordRatio:       ratio,
		HeadingCount:          headings,
		BulletCount:           bullets,
		TemplateMarkerHits:    markerHits,
		GenericSummary:        genericSummary.MatchString(strings.ToLower(strings.TrimSpace(summary))),
		CJKChars:              countCJK(body),
		StructuralFingerprint: StructuralFingerprint(readmeText),
	}
}

func countNonSpace(s string) int {
	c := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			c++
		}
	}
	return c
}

func countCJK(s string) int {
	c := 0
	for _, r := range s {
		if unicode.In(r, cjkScripts...) {
			c++
		}
	}
	return c
}
