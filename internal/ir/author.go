package ir

import (
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxAuthorLen bounds author identifiers in bytes after normalization.
const MaxAuthorLen = 256

// ErrInvalidAuthor is returned for empty or unprintable author identifiers.
var ErrInvalidAuthor = errors.New("invalid author")

// NormalizeAuthor returns the NFC form of an author identifier so that the
// same user compares equal however their client composed the string.
func NormalizeAuthor(s string) (string, error) {
	n := norm.NFC.String(s)
	if n == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAuthor)
	}
	if len(n) > MaxAuthorLen {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidAuthor, MaxAuthorLen)
	}
	for _, r := range n {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return "", fmt.Errorf("%w: contains %U", ErrInvalidAuthor, r)
		}
	}
	return n, nil
}
