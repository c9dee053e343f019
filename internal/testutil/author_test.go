package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedAuthorGenerator_ReturnsSameID(t *testing.T) {
	g := NewFixedAuthorGenerator("alice")
	assert.Equal(t, "alice", g.Generate())
	assert.Equal(t, "alice", g.Generate())
}

func TestFixedAuthorGenerator_DefaultID(t *testing.T) {
	assert.Equal(t, "test-author", NewFixedAuthorGenerator("").Generate())
}
