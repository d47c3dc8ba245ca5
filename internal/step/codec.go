package step

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/mwcontrol/internal/blob"
)

// maxDepth bounds nesting when decoding untrusted input.
const maxDepth = 64

var (
	// ErrTooDeep is returned for trees nested deeper than maxDepth.
	ErrTooDeep = errors.New("step: tree nested too deeply")
	// ErrTrailingData is returned by FromBlob when bytes follow the tree.
	ErrTrailingData = errors.New("step: trailing data after step tree")
)

// Encode writes the whole tree, depth first. Multi steps carry their child
// count followed by the children.
func Encode(t *Tree, w *blob.Writer) {
	encodeNode(t, Root, w)
}

func encodeNode(t *Tree, id ID, w *blob.Writer) {
	b := t.nodes[id].body
	w.PutStart(b.TypeName(), b.Version())
	b.WriteFields(w)
	if _, ok := b.(*Multi); ok {
		children := t.nodes[id].children
		w.PutUint32(uint32(len(children)))
		for _, c := range children {
			encodeNode(t, c, w)
		}
	}
	w.PutEnd()
}

// Decode reads a tree written by Encode, creating bodies through reg.
func Decode(reg *Registry, r *blob.Reader) (*Tree, error) {
	t := &Tree{}
	if err := decodeNode(reg, r, t, NoParent, 0); err != nil {
		return nil, err
	}
	return t, nil
}

func decodeNode(reg *Registry, r *blob.Reader, t *Tree, parent ID, depth int) error {
	if depth > maxDepth {
		return ErrTooDeep
	}
	name, err := r.PeekName()
	if err != nil {
		return err
	}
	b, err := reg.Create(name)
	if err != nil {
		return err
	}
	version, err := r.GetStart(name)
	if err != nil {
		return err
	}
	if err := b.ReadFields(r, version); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}

	id := ID(len(t.nodes))
	t.nodes = append(t.nodes, node{body: b, parent: parent})
	if parent != NoParent {
		t.nodes[parent].children = append(t.nodes[parent].children, id)
	}

	if _, ok := b.(*Multi); ok {
		n := r.GetUint32()
		if err := r.Err(); err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if err := decodeNode(reg, r, t, id, depth+1); err != nil {
				return err
			}
		}
	}
	return r.GetEnd()
}

// ToBlob encodes t into a new buffer.
func ToBlob(t *Tree) []byte {
	w := blob.NewWriter(nil)
	Encode(t, w)
	return w.Bytes()
}

// FromBlob decodes a buffer produced by ToBlob.
func FromBlob(reg *Registry, data []byte) (*Tree, error) {
	r := blob.NewReader(data)
	t, err := Decode(reg, r)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, r.Remaining())
	}
	return t, nil
}
