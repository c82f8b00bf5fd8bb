// Package template fills {{variable}} placeholders in contract boilerplate.
package template

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Fill substitutes each {{name}} placeholder with values[name]. Placeholders
// without a provided value are left verbatim so the caller can see what is
// still missing. Every occurrence of a provided placeholder is replaced.
func Fill(content string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := values[name]; ok {
			return value
		}
		return match
	})
}

// Placeholders returns the distinct placeholder names in content, in order
// of first appearance.
func Placeholders(content string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		name := match[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Unfilled reports which placeholders in content have no value provided.
func Unfilled(content string, values map[string]string) []string {
	var out []string
	for _, name := range Placeholders(content) {
		if _, ok := values[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// Normalize trims surrounding whitespace from each provided value.
func Normalize(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = strings.TrimSpace(v)
	}
	return out
}
