package ir

import "encoding/json"

// Operation is an edit produced by the transform collaborator. The engine
// never transforms operations; it only composes, compares and serializes them.
type Operation interface {
	// BaseLength is the document length the operation applies to.
	BaseLength() int
	// TargetLength is the document length after applying the operation.
	TargetLength() int
	// Compose returns the operation equivalent to applying the receiver and
	// then other. It fails when other.BaseLength() != TargetLength().
	Compose(other Operation) (Operation, error)
	// Equal reports whether other performs the same edit.
	Equal(other Operation) bool

	json.Marshaler
}

// OperationCodec deserializes operations and supplies the empty document.
type OperationCodec interface {
	Decode(raw json.RawMessage) (Operation, error)
	// Identity returns the operation for the empty document (both lengths 0).
	Identity() Operation
}
