package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// normalizeText implements SPEC_FULL.md 4.4 step 4: Unicode NFC
// normalization, stripping of control characters other than \n and \t, and
// collapsing any run of three or more newlines (two or more blank lines)
// down to a single blank line. content_hash (step 5's
// dedup key) is computed from this text, not from the raw extracted bytes,
// so two inputs that render to identical text always converge on the same
// document regardless of source encoding, line endings, or container bytes.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = norm.NFC.String(s)
	s = stripControlChars(s)
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// contentHash is the spec's content_hash: SHA-256 hex digest of the
// normalized text alone.
func contentHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
