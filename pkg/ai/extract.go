package ai

import (
	"errors"
	"strings"
)

// ErrNoJSONObject indicates the model reply contains no extractable object.
var ErrNoJSONObject = errors.New("no json object in model response")

// ExtractJSONObject returns the first balanced {...} substring of a model
// reply. Models routinely wrap their JSON in prose or markdown fences, so
// the scan starts at the first '{' and tracks brace depth, skipping braces
// inside string literals.
func ExtractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSONObject
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSONObject
}
