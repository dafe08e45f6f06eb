package quality

import (
	"strings"
)

const frontmatterDelim = "---"

// Removes a leading front-matter block: a "---" line, at least one body line, and a closing "---" line. If the text does not start with a well-formed block it is returned unchanged.
func StripFrontmatter(raw string) string {
	lines := strings.Split(raw, "\n")
	if len(lines) < 3 || !isDelimLine(lines[0]) {
		return raw
	}
	for i := 2; i < len(lines); i++ {
		if isDelimLine(lines[i]) {
			return strings.Join(lines[i+1:], "\n")
		}
	}
	return raw
}

func isDelimLine(line string) bool {
	return strings.TrimRight(line, " \t\r") == frontmatterDelim
}
