package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Concatenates the output_text parts of a responses API payload. Anything else in the payload is ignored.
func ResponseText(payload []byte) string {
	output := gjson.GetBytes(payload, "output")
	if !output.IsArray() {
		return ""
	}
	chunks := []string{}
	output.ForEach(func(_, item gjson.Result) bool {
		content := item.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() != "output_text" {
				return true
			}
			text := part.Get("text")
			if text.Type == gjson.String && strings.TrimSpace(text.Str) != "" {
				chunks = append(chunks, text.Str)
			}
			return true
		})
		return true
	})
	return strings.TrimSpace(strings.Join(chunks, "\n"))
}

// Parses a classifier verdict out of free text. Returns nil unless the text contains a JSON object with a boolean "flag".
func ParseResult(text string) *Result {
	obj, ok := extractJSONObject(stripCodeFence(text))
	if !ok || !gjson.Valid(obj) {
		return nil
	}
	flag := gjson.Get(obj, "flag")
	if flag.Type != gjson.True && flag.Type != gjson.False {
		return nil
	}
	res := &Result{Flag: flag.Bool()}
	if reason := gjson.Get(obj, "reason"); reason.Type == gjson.String {
		res.Reason = strings.TrimSpace(reason.Str)
	}
	return res
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimLeft(trimmed, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		trimmed = strings.TrimSpace(trimmed)
	}
	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}

// Returns the first balanced {...} span, skipping braces inside JSON strings.
func extractJSONObject(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escape := false
	for i, r := range text {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			if escape {
				escape = false
				continue
			}
			if r == '\\' {
				escape = true
				continue
			}
			if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
