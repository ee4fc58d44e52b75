package storage

import (
	"fmt"
	"strings"
	"time"
)

const sanitizedURLMax = 50

// ObjectKey derives the bucket key for a capture. The derivation is pure so
// every worker that processes the same request writes the same object:
// screenshots/YYYY-MM-DD/<requestId>_<sanitized-url>.<format>
func ObjectKey(requestID, rawURL, format string, now time.Time) string {
	return fmt.Sprintf("screenshots/%s/%s_%s.%s",
		now.UTC().Format("2006-01-02"), requestID, sanitizeURL(rawURL), format)
}

// ContentType maps a capture format to its MIME type.
func ContentType(format string) string {
	if format == "jpeg" {
		return "image/jpeg"
	}
	return "image/png"
}

// sanitizeURL strips the scheme, flattens everything non-alphanumeric to
// underscores, and truncates to 50 characters.
func sanitizeURL(raw string) string {
	s := strings.TrimPrefix(raw, "https://")
	s = strings.TrimPrefix(s, "http://")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > sanitizedURLMax {
		out = out[:sanitizedURLMax]
	}
	return out
}
