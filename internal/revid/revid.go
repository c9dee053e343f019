// Package revid maps revision numbers to keys that sort lexicographically in
// the same order as the numbers.
//
// A key is a length prefix followed by the base-62 digits of the revision.
// The prefix is taken from the same alphabet at offset digits+9, so a key
// with more digits always sorts after a key with fewer digits:
//
//	0   -> "A0"
//	1   -> "A1"
//	61  -> "Az"
//	62  -> "B10"
//	3844 -> "C100"
//
// Revision 0 shares the one-digit prefix, which keeps "A0" < "A1".
package revid

import (
	"errors"
	"fmt"
	"math"
)

// alphabet is ordered by byte value so that digit order and string order agree.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	base = int64(len(alphabet))

	// prefixOffset positions the length prefix after the digits in alphabet.
	prefixOffset = 9

	// zeroKey is the fixed token for revision 0.
	zeroKey = "A0"

	// maxKeyLen bounds keys to what fits in an int64 (11 digits + prefix).
	maxKeyLen = 12
)

// Before is the key for "before the first revision". It sorts ahead of every
// valid key.
const Before = ""

// ErrMalformedID is returned by Decode when a key's prefix does not match its
// length or it contains characters outside the alphabet.
var ErrMalformedID = errors.New("malformed revision id")

// Revision is a position in the history log. Negative values mean "no revision".
type Revision int64

// None is the revision reported before anything has been confirmed.
const None Revision = -1

// Key returns the sortable string form of r.
func (r Revision) Key() string {
	return Encode(int64(r))
}

// Next returns the revision after r.
func (r Revision) Next() Revision {
	return r + 1
}

func (r Revision) String() string {
	if r < 0 {
		return "none"
	}
	return fmt.Sprintf("%d(%s)", int64(r), r.Key())
}

// Encode returns the key for n. Negative n encodes to Before.
func Encode(n int64) string {
	if n < 0 {
		return Before
	}
	if n == 0 {
		return zeroKey
	}

	var digits [maxKeyLen]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = alphabet[n%base]
		n /= base
	}

	count := len(digits) - i
	i--
	digits[i] = alphabet[count+prefixOffset]
	return string(digits[i:])
}

// Decode parses a key produced by Encode.
func Decode(s string) (int64, error) {
	if len(s) < 2 || len(s) > maxKeyLen {
		return 0, fmt.Errorf("%w: %q", ErrMalformedID, s)
	}
	if s[0] != alphabet[len(s)+prefixOffset-1] {
		return 0, fmt.Errorf("%w: %q has prefix %q for length %d", ErrMalformedID, s, s[0], len(s))
	}

	var n int64
	for i := 1; i < len(s); i++ {
		d := digitValue(s[i])
		if d < 0 {
			return 0, fmt.Errorf("%w: %q contains %q", ErrMalformedID, s, s[i])
		}
		if n > (math.MaxInt64-d)/base {
			return 0, fmt.Errorf("%w: %q overflows", ErrMalformedID, s)
		}
		n = n*base + d
	}

	// Only "A0" may carry a leading zero digit.
	if s[1] == '0' && s != zeroKey {
		return 0, fmt.Errorf("%w: %q has a leading zero", ErrMalformedID, s)
	}
	return n, nil
}

// DecodeRevision is Decode returning a Revision.
func DecodeRevision(s string) (Revision, error) {
	n, err := Decode(s)
	if err != nil {
		return None, err
	}
	return Revision(n), nil
}

func digitValue(c byte) int64 {
	switch {
	case c >= '0' && c <= '9':
		return int64(c - '0')
	case c >= 'A' && c <= 'Z':
		return int64(c-'A') + 10
	case c >= 'a' && c <= 'z':
		return int64(c-'a') + 36
	default:
		return -1
	}
}
