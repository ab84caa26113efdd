// Package jsonutil smooths over the loose typing of LLM-produced JSON.
package jsonutil

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FlexibleStringValue reads a raw JSON value as a string. Models regularly
// emit numbers or booleans in fields that are documented as strings (a
// relation id of 3 instead of "3"), so every scalar type is accepted.
// Null and empty input yield "".
func FlexibleStringValue(raw json.RawMessage) string {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return ""
	}

	switch text[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	case 't', 'f':
		var b bool
		if json.Unmarshal(raw, &b) == nil {
			return strconv.FormatBool(b)
		}
	default:
		var n json.Number
		if json.Unmarshal(raw, &n) == nil {
			if i, err := n.Int64(); err == nil {
				return strconv.FormatInt(i, 10)
			}
			if f, err := n.Float64(); err == nil {
				return strconv.FormatFloat(f, 'g', -1, 64)
			}
		}
	}
	return text
}
