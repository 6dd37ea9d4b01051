package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first JSON object or array out of free-form model
// output. Models asked for strict JSON still wrap it in markdown fences or
// lead-in prose often enough that every decode site goes through here.
// Returns the JSON text and true, or "" and false when nothing decodable
// is present.
func ExtractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	s = stripFences(s)

	if json.Valid([]byte(s)) && (strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) {
		return s, true
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	candidate := balancedBlock(s[start:])
	if candidate == "" || !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

// Decode extracts and unmarshals in one step; the error covers both the
// "no JSON present" and "JSON does not fit v" cases.
func Decode(raw string, v any) error {
	text, ok := ExtractJSON(raw)
	if !ok {
		return fmt.Errorf("no JSON found in model output")
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("unmarshal model output: %w", err)
	}
	return nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag like "json" on the fence line.
	if idx := strings.Index(s, "\n"); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "" || !strings.ContainsAny(firstLine, "{[") {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// balancedBlock returns the prefix of s spanning one balanced {...} or
// [...] block, tracking string literals and escapes.
func balancedBlock(s string) string {
	open := s[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
