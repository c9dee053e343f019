package engine

import "github.com/google/uuid"

// AuthorGenerator produces author identifiers for engines created without
// WithAuthor.
type AuthorGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 author ids.
//
// Safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7.
// Panics if UUID generation fails.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
