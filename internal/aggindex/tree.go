package aggindex

import "math/rand/v2"

// treap is an order-statistics tree over string keys. Each node tracks its
// subtree size, which gives O(log n) expected cost for insert, delete,
// rank lookup, and access by rank. Keys are unique; inserting an existing
// key is a no-op.
type treap struct {
	root *treapNode
}

type treapNode struct {
	key      string
	priority uint64
	size     int
	left     *treapNode
	right    *treapNode
}

func newTreap() *treap {
	return &treap{}
}

func nodeSize(n *treapNode) int {
	if n == nil {
		return 0
	}
	return n.size
}

func (n *treapNode) recalc() {
	n.size = 1 + nodeSize(n.left) + nodeSize(n.right)
}

// split partitions n into keys < key and keys >= key.
func split(n *treapNode, key string) (left, right *treapNode) {
	if n == nil {
		return nil, nil
	}
	if n.key < key {
		l, r := split(n.right, key)
		n.right = l
		n.recalc()
		return n, r
	}
	l, r := split(n.left, key)
	n.left = r
	n.recalc()
	return l, n
}

func merge(left, right *treapNode) *treapNode {
	if left == nil {
		return right
	}
	if right == nil {
		return left
	}
	if left.priority >= right.priority {
		left.right = merge(left.right, right)
		left.recalc()
		return left
	}
	right.left = merge(left, right.left)
	right.recalc()
	return right
}

// Insert adds key to the tree. Returns false when the key was already present.
func (t *treap) Insert(key string) bool {
	if t.Has(key) {
		return false
	}
	node := &treapNode{key: key, priority: rand.Uint64(), size: 1}
	left, right := split(t.root, key)
	t.root = merge(merge(left, node), right)
	return true
}

// Delete removes key from the tree. Returns false when the key was absent.
func (t *treap) Delete(key string) bool {
	var deleted bool
	t.root, deleted = deleteNode(t.root, key)
	return deleted
}

func deleteNode(n *treapNode, key string) (*treapNode, bool) {
	if n == nil {
		return nil, false
	}
	if n.key == key {
		return merge(n.left, n.right), true
	}
	var deleted bool
	if key < n.key {
		n.left, deleted = deleteNode(n.left, key)
	} else {
		n.right, deleted = deleteNode(n.right, key)
	}
	if deleted {
		n.recalc()
	}
	return n, deleted
}

// Has reports whether key is present.
func (t *treap) Has(key string) bool {
	n := t.root
	for n != nil {
		switch {
		case key == n.key:
			return true
		case key < n.key:
			n = n.left
		default:
			n = n.right
		}
	}
	return false
}

// Size returns the number of keys in the tree.
func (t *treap) Size() int {
	return nodeSize(t.root)
}

// At returns the key at the given zero-based rank in sorted order.
// The second return is false when rank is out of range.
func (t *treap) At(rank int) (string, bool) {
	if rank < 0 || rank >= t.Size() {
		return "", false
	}
	n := t.root
	for n != nil {
		leftSize := nodeSize(n.left)
		switch {
		case rank < leftSize:
			n = n.left
		case rank == leftSize:
			return n.key, true
		default:
			rank -= leftSize + 1
			n = n.right
		}
	}
	return "", false
}

// Rank returns the zero-based rank of key in sorted order, or false when absent.
func (t *treap) Rank(key string) (int, bool) {
	rank := 0
	n := t.root
	for n != nil {
		switch {
		case key == n.key:
			return rank + nodeSize(n.left), true
		case key < n.key:
			n = n.left
		default:
			rank += nodeSize(n.left) + 1
			n = n.right
		}
	}
	return 0, false
}

// CountLess returns the number of keys strictly below key.
func (t *treap) CountLess(key string) int {
	count := 0
	n := t.root
	for n != nil {
		if n.key < key {
			count += nodeSize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// CountRange returns the number of keys in the half-open interval [lo, hi).
func (t *treap) CountRange(lo, hi string) int {
	if hi <= lo {
		return 0
	}
	return t.CountLess(hi) - t.CountLess(lo)
}

// Keys returns all keys in sorted order. Intended for tests and verification
// passes, not hot paths.
func (t *treap) Keys() []string {
	out := make([]string, 0, t.Size())
	var walk func(n *treapNode)
	walk = func(n *treapNode) {
		if n == nil {
			return
		}
		walk(n.left)
		out = append(out, n.key)
		walk(n.right)
	}
	walk(t.root)
	return out
}
