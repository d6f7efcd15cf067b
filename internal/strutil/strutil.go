// Package strutil holds the string helpers shared by the adapters and the CLI.
package strutil

import "strings"

// CleanList trims values, drops empty ones and removes duplicates while
// keeping first-seen order. It returns nil when nothing is left.
func CleanList(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// SplitList splits values on commas and whitespace and cleans the result.
// It accepts "a,b", "a b" and repeated flags alike.
func SplitList(values ...string) []string {
	var parts []string
	for _, v := range values {
		parts = append(parts, strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})...)
	}
	return CleanList(parts)
}

// ShellEscape returns a single-quoted shell literal for value.
func ShellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// ShellJoin escapes every argument and joins them into one command line.
func ShellJoin(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = ShellEscape(a)
	}
	return strings.Join(quoted, " ")
}
