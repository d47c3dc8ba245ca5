package step

import (
	"errors"
	"fmt"
)

// ID addresses a node in a Tree.
type ID int

const (
	// Root is the ID of the first node of every tree.
	Root ID = 0
	// NoParent is returned by Parent for the root.
	NoParent ID = -1
)

var (
	// ErrNoSuchStep is returned for an ID outside the tree.
	ErrNoSuchStep = errors.New("step: no such node")
	// ErrNotComposite is returned when adding a child to a non-Multi step.
	ErrNotComposite = errors.New("step: only a MultiStep can have children")
)

type node struct {
	body     Body
	parent   ID
	children []ID
}

// Tree is an arena of steps. Parent and child links are indexes into the
// arena, never pointers, so a tree can be copied and shipped as a value.
//
// A tree is not safe for concurrent mutation; it is treated as immutable
// once handed to the controller for an iteration.
type Tree struct {
	nodes []node
}

// NewTree creates a tree whose root holds body.
func NewTree(root Body) *Tree {
	return &Tree{nodes: []node{{body: root, parent: NoParent}}}
}

// NewMultiTree creates a tree with a Multi root and the given children.
func NewMultiTree(children ...Body) *Tree {
	t := NewTree(&Multi{})
	for _, c := range children {
		// the root is a Multi, so Add cannot fail
		_, _ = t.Add(Root, c)
	}
	return t
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) valid(id ID) bool { return id >= 0 && int(id) < len(t.nodes) }

func (t *Tree) check(id ID) error {
	if !t.valid(id) {
		return fmt.Errorf("%w: id %d, tree size %d", ErrNoSuchStep, id, len(t.nodes))
	}
	return nil
}

// Add appends body as the last child of parent.
func (t *Tree) Add(parent ID, body Body) (ID, error) {
	if err := t.check(parent); err != nil {
		return 0, err
	}
	if _, ok := t.nodes[parent].body.(*Multi); !ok {
		return 0, fmt.Errorf("%w: parent %d is %s", ErrNotComposite, parent, t.nodes[parent].body.TypeName())
	}
	id := ID(len(t.nodes))
	t.nodes = append(t.nodes, node{body: body, parent: parent})
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	return id, nil
}

// Node returns the body at id. It panics when id is not in the tree.
func (t *Tree) Node(id ID) Body {
	if err := t.check(id); err != nil {
		panic(err)
	}
	return t.nodes[id].body
}

// Children returns the child IDs of id in order.
func (t *Tree) Children(id ID) []ID {
	if !t.valid(id) {
		return nil
	}
	return append([]ID(nil), t.nodes[id].children...)
}

// Parent returns the parent of id, or NoParent for the root.
func (t *Tree) Parent(id ID) ID {
	if !t.valid(id) {
		return NoParent
	}
	return t.nodes[id].parent
}

// Clone returns a deep copy of the subtree rooted at id. The copy's root is
// Root; IDs are renumbered in depth-first order.
func (t *Tree) Clone(id ID) (*Tree, error) {
	if err := t.check(id); err != nil {
		return nil, err
	}
	out := NewTree(t.nodes[id].body.CloneBody())
	var copyChildren func(src, dst ID)
	copyChildren = func(src, dst ID) {
		for _, c := range t.nodes[src].children {
			nid := ID(len(out.nodes))
			out.nodes = append(out.nodes, node{body: t.nodes[c].body.CloneBody(), parent: dst})
			out.nodes[dst].children = append(out.nodes[dst].children, nid)
			copyChildren(c, nid)
		}
	}
	copyChildren(id, Root)
	return out, nil
}

// Walk calls fn for every node in depth-first pre-order.
func (t *Tree) Walk(fn func(id ID, depth int, b Body)) {
	if len(t.nodes) == 0 {
		return
	}
	var walk func(id ID, depth int)
	walk = func(id ID, depth int) {
		fn(id, depth, t.nodes[id].body)
		for _, c := range t.nodes[id].children {
			walk(c, depth+1)
		}
	}
	walk(Root, 0)
}
