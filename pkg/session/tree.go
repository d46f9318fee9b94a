package session

import (
	"zerobin/pkg/crypt"
	"zerobin/pkg/domain"
)

// Node is one comment. Body and Author hold plaintext once decrypted; Err is set when this
// node alone could not be opened.
type Node struct {
	Comment  domain.Comment
	Body     string
	Author   string
	Err      error
	Children []*Node
}

// Anonymous reports the absent-author marker. Such nodes carry no author envelope.
func (n *Node) Anonymous() bool {
	return n.Comment.Anonymous()
}

func (n *Node) Failed() bool {
	return n.Err != nil
}

// Tree is the discussion of one paste. Roots hang directly under the paste.
type Tree struct {
	PasteID string
	Roots   []*Node
	index   map[string]*Node
}

func NewTree(pasteID string) *Tree {
	return &Tree{PasteID: pasteID, index: make(map[string]*Node)}
}

// BuildTree arranges comments by post date. A comment whose parent is the paste, unknown,
// or part of a parent cycle is attached at the root.
func BuildTree(pasteID string, comments []domain.Comment) *Tree {
	t := NewTree(pasteID)
	cc := make([]domain.Comment, len(comments))
	copy(cc, comments)
	domain.SortComments(cc)

	nodes := make([]*Node, 0, len(cc))
	for _, c := range cc {
		if c.ID == "" || t.index[c.ID] != nil {
			continue
		}
		n := &Node{Comment: c}
		t.index[c.ID] = n
		nodes = append(nodes, n)
	}

	parent := make(map[*Node]*Node, len(nodes))
	for _, n := range nodes {
		if p := t.resolve(n.Comment.Parent); p != nil && p != n {
			parent[n] = p
		}
	}
	for _, n := range nodes {
		for p, steps := parent[n], 0; p != nil && steps <= len(nodes); p, steps = parent[p], steps+1 {
			if p == n {
				delete(parent, n)
				break
			}
		}
	}
	for _, n := range nodes {
		if p := parent[n]; p != nil {
			p.Children = append(p.Children, n)
		} else {
			t.Roots = append(t.Roots, n)
		}
	}
	return t
}

func (t *Tree) resolve(id string) *Node {
	if id == "" || id == t.PasteID {
		return nil
	}
	return t.index[id]
}

// Attach adds n under its parent when the parent is known, else at the root, and returns
// the node it was attached under (nil for root).
func (t *Tree) Attach(n *Node) *Node {
	if t.index == nil {
		t.index = make(map[string]*Node)
	}
	if n.Comment.ID != "" {
		if _, dup := t.index[n.Comment.ID]; dup {
			return t.parentOf(n.Comment.ID)
		}
		t.index[n.Comment.ID] = n
	}
	if p := t.resolve(n.Comment.Parent); p != nil {
		p.Children = append(p.Children, n)
		return p
	}
	t.Roots = append(t.Roots, n)
	return nil
}

func (t *Tree) parentOf(id string) *Node {
	var found *Node
	t.Walk(func(n *Node, _ int) bool {
		for _, c := range n.Children {
			if c.Comment.ID == id {
				found = n
				return false
			}
		}
		return true
	})
	return found
}

func (t *Tree) Find(id string) *Node {
	if t == nil {
		return nil
	}
	return t.index[id]
}

func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.index)
}

// Walk visits nodes depth first in display order. Depth is 1 for root comments. Returning
// false stops the walk.
func (t *Tree) Walk(fn func(n *Node, depth int) bool) {
	if t == nil {
		return
	}
	var visit func(nodes []*Node, depth int) bool
	visit = func(nodes []*Node, depth int) bool {
		for _, n := range nodes {
			if !fn(n, depth) || !visit(n.Children, depth+1) {
				return false
			}
		}
		return true
	}
	visit(t.Roots, 1)
}

// Decrypt opens every node independently. It returns the number of nodes that failed.
func (t *Tree) Decrypt(codec *crypt.Codec, key crypt.Key) int {
	failed := 0
	t.Walk(func(n *Node, _ int) bool {
		n.Body, n.Author, n.Err = "", "", nil
		body, err := codec.Decrypt(key, n.Comment.Data)
		if err != nil {
			n.Err = err
			failed++
			return true
		}
		if !n.Anonymous() {
			author, err := codec.Decrypt(key, n.Comment.Author)
			if err != nil {
				n.Err = err
				failed++
				return true
			}
			n.Author = author
		}
		n.Body = body
		return true
	})
	return failed
}

// Clone deep-copies the tree structure so Update never mutates a tree another State holds.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	out := NewTree(t.PasteID)
	var cp func(nodes []*Node) []*Node
	cp = func(nodes []*Node) []*Node {
		if nodes == nil {
			return nil
		}
		res := make([]*Node, len(nodes))
		for i, n := range nodes {
			c := *n
			c.Children = cp(n.Children)
			if c.Comment.ID != "" {
				out.index[c.Comment.ID] = &c
			}
			res[i] = &c
		}
		return res
	}
	out.Roots = cp(t.Roots)
	return out
}
