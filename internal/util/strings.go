package util

import "strings"

func AsPtr[T any](v T) *T {
	return &v
}

// Slugify lowercases s and keeps only ascii letters, digits and dashes.
func Slugify(s string) string {
	s = strings.ToLower(s)

	var builder strings.Builder
	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z', '0' <= r && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_' || r == ' ':
			builder.WriteRune('-')
		}
	}

	return strings.Trim(builder.String(), "-")
}

// ShellQuote quotes s for POSIX sh so it is passed as a single word.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func isShellSafe(r rune) bool {
	return 'a' <= r && r <= 'z' ||
		'A' <= r && r <= 'Z' ||
		'0' <= r && r <= '9' ||
		strings.ContainsRune("-_./:@%+=,", r)
}
