package agent

import (
	"encoding/json"
	"errors"
	"strings"
)

// ParseJSON decodes agent output into v. Agents are asked for bare JSON but
// routinely wrap it in markdown fences or surround it with prose; this
// parser peels a fenced block first, then falls back to the outermost
// object or array delimiters. Failure returns a *ParseError.
func ParseJSON(output string, v any) error {
	candidate := extractJSON(output)
	if candidate == "" {
		return &ParseError{Raw: output, Err: errors.New("no JSON found in output")}
	}
	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return &ParseError{Raw: output, Err: err}
	}
	return nil
}

// extractJSON finds the most plausible JSON payload in free text.
func extractJSON(output string) string {
	text := strings.TrimSpace(output)

	// Fenced block: ```json ... ``` or bare ``` ... ```.
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			// Drop the info string ("json", "JSON", or empty).
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			fenced := strings.TrimSpace(rest[:end])
			if fenced != "" {
				return fenced
			}
		}
	}

	// Outermost object or array.
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(text, pair[0])
		end := strings.LastIndexByte(text, pair[1])
		if start >= 0 && end > start {
			return text[start : end+1]
		}
	}

	return ""
}
