package testutil

// FixedAuthorGenerator returns the same author id every time, for engines
// built with engine.WithAuthorGenerator in tests.
//
// Safe for concurrent use.
type FixedAuthorGenerator struct {
	id string
}

// NewFixedAuthorGenerator creates a generator for id. An empty id becomes
// "test-author".
func NewFixedAuthorGenerator(id string) *FixedAuthorGenerator {
	if id == "" {
		id = "test-author"
	}
	return &FixedAuthorGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedAuthorGenerator) Generate() string {
	return g.id
}
