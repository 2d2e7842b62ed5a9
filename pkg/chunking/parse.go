package chunking

import (
	"encoding/json"
	"fmt"
	"strings"
)

// placeholders are schema-template tokens that occasionally leak into a
// model's response in place of real values ("char_start": <int>); a
// balanced object containing one of these is not a usable response.
var placeholders = []string{"<int>", "<string>", "<number>", "..."}

// ParseLenient decodes raw into target, tolerating the failure modes named
// in the spec's "LLM response parsing": markdown code fences, chat
// prologue/template leakage, and trailing commentary. It tries, in order:
// a direct parse, a parse after stripping fences, and a parse of the last
// syntactically-balanced object/array in the text that doesn't contain a
// schema placeholder.
func ParseLenient(raw string, target any) error {
	if err := json.Unmarshal([]byte(raw), target); err == nil {
		return nil
	}

	stripped := stripFences(raw)
	if err := json.Unmarshal([]byte(stripped), target); err == nil {
		return nil
	}

	if balanced, ok := extractBalanced(stripped); ok {
		if err := json.Unmarshal([]byte(balanced), target); err == nil {
			return nil
		}
	}

	return fmt.Errorf("chunking: no valid JSON object recoverable from response")
}

// stripFences removes a leading/trailing ``` or ```json code fence, and
// trims everything before the first line that begins one if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	parts := strings.SplitN(s, "```", 3)
	if len(parts) < 2 {
		return s
	}
	body := parts[1]
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		firstLine := strings.TrimSpace(body[:nl])
		if firstLine != "" && !strings.ContainsAny(firstLine, "{[\"") {
			body = body[nl+1:]
		}
	}
	return strings.TrimSpace(body)
}

// extractBalanced scans s for the last top-level balanced {...} or [...]
// span and returns it, rejecting any candidate containing a schema
// placeholder token.
func extractBalanced(s string) (string, bool) {
	var best string
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '{' && c != '[' {
			continue
		}
		end, ok := matchBracket(s, i)
		if !ok {
			continue
		}
		candidate := s[i : end+1]
		if !containsPlaceholder(candidate) {
			best = candidate
		}
		i = end
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// matchBracket returns the index of the bracket matching s[open], scanning
// forward and tracking nested depth and string literals.
func matchBracket(s string, open int) (int, bool) {
	openCh := s[open]
	closeCh := byte('}')
	if openCh == '[' {
		closeCh = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func containsPlaceholder(s string) bool {
	for _, p := range placeholders {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
