package ordered

import "go-chat-history/internal/messageid"

// node is one cached message identifier. Subtrees are owned by the node.
type node struct {
	id messageid.ID

	// havePrevious and haveNext record whether the in-order neighbour is
	// the true neighbour in the chat history.
	havePrevious bool
	haveNext     bool

	priority uint32
	seq      uint64 // insertion order, breaks priority ties

	left  *node
	right *node
}

// outranks reports whether n belongs above o in the heap order.
// On equal priorities the earlier inserted node stays on top.
func (n *node) outranks(o *node) bool {
	if n.priority != o.priority {
		return n.priority > o.priority
	}
	return n.seq < o.seq
}

func rotateRight(n *node) *node {
	l := n.left
	n.left = l.right
	l.right = n
	return l
}

func rotateLeft(n *node) *node {
	r := n.right
	n.right = r.left
	r.left = n
	return r
}

// insertNode places x by key and rotates it up while it outranks its parent.
// Returns the new root of the subtree.
func insertNode(n, x *node) *node {
	if n == nil {
		return x
	}
	if x.id < n.id {
		n.left = insertNode(n.left, x)
		if n.left.outranks(n) {
			n = rotateRight(n)
		}
	} else {
		n.right = insertNode(n.right, x)
		if n.right.outranks(n) {
			n = rotateLeft(n)
		}
	}
	return n
}

// eraseNode rotates the target down, always lifting the stronger child,
// until it has at most one child, then splices it out.
func eraseNode(n *node, id messageid.ID) *node {
	if n == nil {
		return nil
	}
	switch {
	case id < n.id:
		n.left = eraseNode(n.left, id)
	case id > n.id:
		n.right = eraseNode(n.right, id)
	default:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.outranks(n.right) {
			n = rotateRight(n)
			n.right = eraseNode(n.right, id)
		} else {
			n = rotateLeft(n)
			n.left = eraseNode(n.left, id)
		}
	}
	return n
}

func leftmost(n *node) *node {
	for n.left != nil {
		n = n.left
	}
	return n
}

func rightmost(n *node) *node {
	for n.right != nil {
		n = n.right
	}
	return n
}

func height(n *node) int {
	if n == nil {
		return 0
	}
	return 1 + max(height(n.left), height(n.right))
}
