package quality

import (
	"regexp"
	"strings"

	"github.com/clawdhub/skillguard/automod/keyword"
)

// maximum number of non-blank lines which contribute to a fingerprint
const fingerprintMaxLines = 80

var (
	bulletPrefix   = regexp.MustCompile(`^[-*]\s+`)
	numberedPrefix = regexp.MustCompile(`^\d+\.\s+`)
)

func wordBucket(text string) string {
	words := len(keyword.TokenizeWords(text))
	if words <= 2 {
		return "s"
	}
	if words <= 6 {
		return "m"
	}
	return "l"
}

func classifyLine(line string) string {
	switch {
	case strings.HasPrefix(line, "### "):
		return "h3:" + wordBucket(line[4:])
	case strings.HasPrefix(line, "## "):
		return "h2:" + wordBucket(line[3:])
	case strings.HasPrefix(line, "# "):
		return "h1:" + wordBucket(line[2:])
	}
	if loc := bulletPrefix.FindStringIndex(line); loc != nil {
		return "b:" + wordBucket(line[loc[1]:])
	}
	if loc := numberedPrefix.FindStringIndex(line); loc != nil {
		return "n:" + wordBucket(line[loc[1]:])
	}
	return "p:" + wordBucket(line)
}

// Encodes the outline shape of a markdown document (after front-matter) as a token sequence like "h1:s|b:m|b:m|p:l".
//
// Each of the first 80 non-blank lines is classified as a heading (levels 1-3), bullet, numbered item, or paragraph, and bucketed by word count: short (<=2), medium (<=6), or long. Documents which repeat an outline with different words produce identical fingerprints.
func StructuralFingerprint(markdown string) string {
	body := StripFrontmatter(markdown)
	parts := []string{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts = append(parts, classifyLine(line))
		if len(parts) >= fingerprintMaxLines {
			break
		}
	}
	return strings.Join(parts, "|")
}
