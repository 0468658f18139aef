// Package redact scrubs credential-shaped substrings from text that
// leaves the process boundary (dead-letter reasons, alerts).
package redact

import (
	"regexp"
	"strings"
)

// Placeholder replaces any redacted span.
const Placeholder = "[REDACTED]"

// DefaultMaxLen bounds redacted reasons before they are stored or exported.
const DefaultMaxLen = 512

// Patterns for credential-shaped content. Order matters: keyed
// assignments are scrubbed before bare token runs so the key name
// survives for triage grouping.
var patterns = []*regexp.Regexp{
	// key=value / key: value for sensitive key names
	regexp.MustCompile(`(?i)\b(password|passwd|secret|token|api[_-]?key|access[_-]?key|private[_-]?key|authorization|credential)s?\b\s*[=:]\s*\S+`),
	// Bearer / Basic auth headers
	regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9+/=_\-.]{8,}`),
	// AWS-style access key ids
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	// Long hex runs (digests, raw keys)
	regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`),
	// Long base64-ish runs
	regexp.MustCompile(`\b[A-Za-z0-9+/]{40,}={0,2}\b`),
}

var keyedPattern = patterns[0]

// String scrubs credential-shaped substrings and truncates the result
// to DefaultMaxLen.
func String(s string) string {
	return StringN(s, DefaultMaxLen)
}

// StringN scrubs credential-shaped substrings and truncates the result
// to at most maxLen bytes.
func StringN(s string, maxLen int) string {
	out := keyedPattern.ReplaceAllStringFunc(s, func(m string) string {
		// Keep the key name, drop the value.
		if i := strings.IndexAny(m, "=:"); i >= 0 {
			return strings.TrimSpace(m[:i]) + "=" + Placeholder
		}
		return Placeholder
	})
	for _, p := range patterns[1:] {
		out = p.ReplaceAllString(out, Placeholder)
	}
	if maxLen > 0 && len(out) > maxLen {
		out = out[:maxLen] + "..."
	}
	return out
}

// Error scrubs an error's message. Returns "" for a nil error.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// ErrorN scrubs an error's message with an explicit length bound.
func ErrorN(err error, maxLen int) string {
	if err == nil {
		return ""
	}
	return StringN(err.Error(), maxLen)
}
