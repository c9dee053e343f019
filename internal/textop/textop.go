// Package textop implements plain-text operations: a sequence of retain,
// insert and delete components that walks a document from start to end.
//
// The serialized form is a JSON array in which a positive integer retains
// that many characters, a negative integer deletes that many, and a string
// inserts its text:
//
//	[5, " world", -3]
//
// Lengths count Unicode code points.
package textop

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roach88/revsync/internal/ir"
)

// ErrLengthMismatch is returned when operations do not line up with each
// other or with the document they are applied to.
var ErrLengthMismatch = errors.New("operation length mismatch")

type kind uint8

const (
	kindRetain kind = iota + 1
	kindInsert
	kindDelete
)

type component struct {
	kind kind
	n    int    // retain or delete count
	text string // insert text
}

func (c component) String() string {
	switch c.kind {
	case kindRetain:
		return fmt.Sprintf("retain %d", c.n)
	case kindInsert:
		return fmt.Sprintf("insert %q", c.text)
	default:
		return fmt.Sprintf("delete %d", c.n)
	}
}

// Operation is a text edit. The zero value is the identity on the empty
// document. Operations are built with Retain, Insert and Delete, which keep
// the component list normalized so that equal edits compare equal.
type Operation struct {
	ops          []component
	baseLength   int
	targetLength int
}

var _ ir.Operation = (*Operation)(nil)

// New returns an empty operation.
func New() *Operation {
	return &Operation{}
}

// FromText returns the operation that produces text from the empty document.
func FromText(text string) *Operation {
	return New().Insert(text)
}

// Edit builds an operation on a document of docLen characters that deletes
// del characters at pos and inserts text there.
func Edit(docLen, pos int, text string, del int) (*Operation, error) {
	if pos < 0 || del < 0 || pos+del > docLen {
		return nil, fmt.Errorf("%w: edit at %d deleting %d on document of length %d", ErrLengthMismatch, pos, del, docLen)
	}
	return New().Retain(pos).Insert(text).Delete(del).Retain(docLen - pos - del), nil
}

// BaseLength implements ir.Operation.
func (o *Operation) BaseLength() int { return o.baseLength }

// TargetLength implements ir.Operation.
func (o *Operation) TargetLength() int { return o.targetLength }

// IsNoop reports whether the operation leaves every document unchanged.
func (o *Operation) IsNoop() bool {
	return len(o.ops) == 0 || (len(o.ops) == 1 && o.ops[0].kind == kindRetain)
}

// Retain skips over n characters.
func (o *Operation) Retain(n int) *Operation {
	if n <= 0 {
		return o
	}
	o.baseLength += n
	o.targetLength += n
	if last := len(o.ops) - 1; last >= 0 && o.ops[last].kind == kindRetain {
		o.ops[last].n += n
		return o
	}
	o.ops = append(o.ops, component{kind: kindRetain, n: n})
	return o
}

// Insert inserts text at the current position.
func (o *Operation) Insert(text string) *Operation {
	if text == "" {
		return o
	}
	o.targetLength += utf8.RuneCountInString(text)

	last := len(o.ops) - 1
	switch {
	case last >= 0 && o.ops[last].kind == kindInsert:
		o.ops[last].text += text
	case last >= 0 && o.ops[last].kind == kindDelete:
		// Inserts go before an adjacent delete so the form stays canonical.
		if last > 0 && o.ops[last-1].kind == kindInsert {
			o.ops[last-1].text += text
		} else {
			del := o.ops[last]
			o.ops[last] = component{kind: kindInsert, text: text}
			o.ops = append(o.ops, del)
		}
	default:
		o.ops = append(o.ops, component{kind: kindInsert, text: text})
	}
	return o
}

// Delete removes n characters at the current position.
func (o *Operation) Delete(n int) *Operation {
	if n <= 0 {
		return o
	}
	o.baseLength += n
	if last := len(o.ops) - 1; last >= 0 && o.ops[last].kind == kindDelete {
		o.ops[last].n += n
		return o
	}
	o.ops = append(o.ops, component{kind: kindDelete, n: n})
	return o
}

// Apply runs the operation against doc.
func (o *Operation) Apply(doc string) (string, error) {
	runes := []rune(doc)
	if len(runes) != o.baseLength {
		return "", fmt.Errorf("%w: operation base length %d, document length %d", ErrLengthMismatch, o.baseLength, len(runes))
	}

	var sb strings.Builder
	pos := 0
	for _, c := range o.ops {
		switch c.kind {
		case kindRetain:
			sb.WriteString(string(runes[pos : pos+c.n]))
			pos += c.n
		case kindInsert:
			sb.WriteString(c.text)
		case kindDelete:
			pos += c.n
		}
	}
	return sb.String(), nil
}

// Text returns the document produced by applying o to the empty document.
func (o *Operation) Text() (string, error) {
	return o.Apply("")
}

// Compose implements ir.Operation.
func (o *Operation) Compose(other ir.Operation) (ir.Operation, error) {
	b, ok := other.(*Operation)
	if !ok {
		return nil, fmt.Errorf("compose: unsupported operation type %T", other)
	}
	return compose(o, b)
}

func compose(a, b *Operation) (*Operation, error) {
	if a.targetLength != b.baseLength {
		return nil, fmt.Errorf("%w: first target length %d, second base length %d", ErrLengthMismatch, a.targetLength, b.baseLength)
	}

	out := New()
	ia, ib := newCursor(a.ops), newCursor(b.ops)
	c1, ok1 := ia.next()
	c2, ok2 := ib.next()

	for ok1 || ok2 {
		if ok1 && c1.kind == kindDelete {
			out.Delete(c1.n)
			c1, ok1 = ia.next()
			continue
		}
		if ok2 && c2.kind == kindInsert {
			out.Insert(c2.text)
			c2, ok2 = ib.next()
			continue
		}
		if !ok1 {
			return nil, fmt.Errorf("%w: first operation is too short", ErrLengthMismatch)
		}
		if !ok2 {
			return nil, fmt.Errorf("%w: first operation is too long", ErrLengthMismatch)
		}

		l1, l2 := c1.length(), c2.n
		switch {
		case c1.kind == kindRetain && c2.kind == kindRetain:
			m := min(l1, l2)
			out.Retain(m)
			c1, ok1 = ia.advance(c1, m)
			c2, ok2 = ib.advance(c2, m)
		case c1.kind == kindInsert && c2.kind == kindDelete:
			m := min(l1, l2)
			c1, ok1 = ia.advance(c1, m)
			c2, ok2 = ib.advance(c2, m)
		case c1.kind == kindInsert && c2.kind == kindRetain:
			m := min(l1, l2)
			out.Insert(c1.prefix(m))
			c1, ok1 = ia.advance(c1, m)
			c2, ok2 = ib.advance(c2, m)
		case c1.kind == kindRetain && c2.kind == kindDelete:
			m := min(l1, l2)
			out.Delete(m)
			c1, ok1 = ia.advance(c1, m)
			c2, ok2 = ib.advance(c2, m)
		}
	}
	return out, nil
}

// Equal implements ir.Operation.
func (o *Operation) Equal(other ir.Operation) bool {
	b, ok := other.(*Operation)
	if !ok || b == nil {
		return false
	}
	if o.baseLength != b.baseLength || o.targetLength != b.targetLength || len(o.ops) != len(b.ops) {
		return false
	}
	for i := range o.ops {
		if o.ops[i] != b.ops[i] {
			return false
		}
	}
	return true
}

// MarshalJSON implements json.Marshaler.
func (o *Operation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, c := range o.ops {
		if i > 0 {
			buf.WriteByte(',')
		}
		switch c.kind {
		case kindRetain:
			fmt.Fprintf(&buf, "%d", c.n)
		case kindDelete:
			fmt.Fprintf(&buf, "%d", -c.n)
		case kindInsert:
			text, err := json.Marshal(c.text)
			if err != nil {
				return nil, err
			}
			buf.Write(text)
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Operation) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode text operation: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("decode text operation: expected array")
	}

	out := New()
	for i, elem := range raw {
		switch v := elem.(type) {
		case string:
			out.Insert(v)
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return fmt.Errorf("decode text operation: component %d: %w", i, err)
			}
			switch {
			case n > 0:
				out.Retain(int(n))
			case n < 0:
				out.Delete(int(-n))
			default:
				return fmt.Errorf("decode text operation: component %d is zero", i)
			}
		default:
			return fmt.Errorf("decode text operation: component %d has type %T", i, elem)
		}
	}
	*o = *out
	return nil
}

func (o *Operation) String() string {
	parts := make([]string, len(o.ops))
	for i, c := range o.ops {
		parts[i] = c.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Codec decodes text operations for the engine.
type Codec struct{}

var _ ir.OperationCodec = Codec{}

// Decode implements ir.OperationCodec.
func (Codec) Decode(raw json.RawMessage) (ir.Operation, error) {
	op := New()
	if err := json.Unmarshal(raw, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Identity implements ir.OperationCodec.
func (Codec) Identity() ir.Operation {
	return New()
}

// DocumentText renders a document operation (base length 0) as text.
func DocumentText(op ir.Operation) (string, error) {
	t, ok := op.(*Operation)
	if !ok {
		return "", fmt.Errorf("document text: unsupported operation type %T", op)
	}
	return t.Text()
}
