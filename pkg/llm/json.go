package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkBlockPattern = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// ExtractThinking returns the reasoning text a model emitted inside
// <think> tags, or "" when the response has none.
func ExtractThinking(response string) string {
	m := thinkBlockPattern.FindStringSubmatch(response)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ExtractJSON pulls the first complete JSON object or array out of a model
// response. Models wrap their output in think tags, markdown fences, and
// prose; scanning for the first balanced structure sidesteps all of it.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkBlockPattern.ReplaceAllString(response, "")

	for _, open := range orderedOpeners(cleaned) {
		if candidate, ok := balancedFrom(cleaned, open); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	return "", fmt.Errorf("no valid JSON found in response")
}

// orderedOpeners returns the opening brackets present in s, nearest first.
func orderedOpeners(s string) []byte {
	obj := strings.IndexByte(s, '{')
	arr := strings.IndexByte(s, '[')
	switch {
	case obj < 0 && arr < 0:
		return nil
	case arr < 0:
		return []byte{'{'}
	case obj < 0:
		return []byte{'['}
	case obj < arr:
		return []byte{'{', '['}
	default:
		return []byte{'[', '{'}
	}
}

// balancedFrom returns the first balanced structure opened by open,
// tracking string literals so brackets inside them do not count.
func balancedFrom(s string, open byte) (string, bool) {
	var closer byte = '}'
	if open == '[' {
		closer = ']'
	}
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONResponse extracts the JSON payload from a response and decodes it.
func ParseJSONResponse[T any](response string) (T, error) {
	var out T
	payload, err := ExtractJSON(response)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return out, nil
}
