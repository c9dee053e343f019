package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAuthor_NFC(t *testing.T) {
	decomposed := "Jose\u0301"
	composed := "Jos\u00e9"

	got, err := NormalizeAuthor(decomposed)
	require.NoError(t, err)
	assert.Equal(t, composed, got)
}

func TestNormalizeAuthor_Invalid(t *testing.T) {
	tests := []string{"", "tab\there", strings.Repeat("x", MaxAuthorLen+1), "bad\xffbyte"}
	for _, in := range tests {
		_, err := NormalizeAuthor(in)
		assert.ErrorIs(t, err, ErrInvalidAuthor, "input %q", in)
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrTransient))
	assert.False(t, IsTransient(ErrPermissionDenied))
	assert.False(t, IsTransient(nil))
}
