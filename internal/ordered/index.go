// Package ordered keeps the sorted set of message identifiers a chat has in
// memory, together with what is known about gaps between them.
//
// Every identifier carries two flags. HavePrevious is set when the next
// smaller identifier in the index is also the previous message of the real
// chat history; HaveNext is the mirror statement. Traversals stop at the
// first cleared flag, so a caller never mistakes a gap for the end of the
// history. The index never fetches anything: a short result is the signal
// that the caller has to load more.
//
// An Index is not safe for concurrent use. It is meant to be owned by the
// single goroutine serving the chat.
package ordered

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/seehuhn/mt19937"
	"go.uber.org/zap"

	"go-chat-history/internal/messageid"
)

// ErrContract is wrapped by every panic raised for a misuse of the index.
var ErrContract = errors.New("ordered index contract violation")

func violation(format string, args ...any) {
	panic(fmt.Errorf("%w: %s", ErrContract, fmt.Sprintf(format, args...)))
}

type Option func(*Index)

// WithRand sets the source of node priorities.
func WithRand(rng *rand.Rand) Option {
	return func(x *Index) {
		x.rng = rng
	}
}

// WithSeed draws node priorities from a Mersenne Twister seeded with seed.
func WithSeed(seed int64) Option {
	return func(x *Index) {
		x.rng = newRand(seed)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(x *Index) {
		x.logger = logger
	}
}

func newRand(seed int64) *rand.Rand {
	src := mt19937.New()
	src.Seed(seed)
	return rand.New(src)
}

// Index is a treap of message identifiers ordered by value and heap-ordered
// by random priority.
type Index struct {
	root *node
	size int

	seq uint64 // insertions so far
	gen uint64 // bumped on every structural change, see Cursor

	rng    *rand.Rand
	logger *zap.Logger
}

func New(opts ...Option) *Index {
	x := &Index{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(x)
	}
	if x.rng == nil {
		x.rng = newRand(time.Now().UnixNano())
	}
	return x
}

// AttachInfo is the pair of flags AutoAttachMessage decided on.
type AttachInfo struct {
	HavePrevious bool
	HaveNext     bool
}

// Entry is a copy of the state kept for one identifier.
type Entry struct {
	ID           messageid.ID
	HavePrevious bool
	HaveNext     bool
}

func (x *Index) Len() int {
	return x.size
}

// Height is the number of nodes on the longest root-to-leaf path.
func (x *Index) Height() int {
	return height(x.root)
}

func (x *Index) Contains(id messageid.ID) bool {
	return x.find(id) != nil
}

func (x *Index) Get(id messageid.ID) (Entry, bool) {
	n := x.find(id)
	if n == nil {
		return Entry{}, false
	}
	return Entry{ID: n.id, HavePrevious: n.havePrevious, HaveNext: n.haveNext}, true
}

// IDs returns every identifier in ascending order, ignoring gaps.
func (x *Index) IDs() []messageid.ID {
	ids := make([]messageid.ID, 0, x.size)
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		walk(n.left)
		ids = append(ids, n.id)
		walk(n.right)
	}
	walk(x.root)
	return ids
}

// Insert adds id to the index. Unless the flags were already applied to the
// neighbours by AutoAttachMessage, a claimed adjacency is mirrored onto the
// neighbour it names.
func (x *Index) Insert(id messageid.ID, wasAutoAttached, havePrevious, haveNext bool) {
	x.checkID(id, "insert")
	if x.find(id) != nil {
		violation("insert of %s which is already present", id)
	}

	x.seq++
	n := &node{
		id:           id,
		havePrevious: havePrevious,
		haveNext:     haveNext,
		priority:     x.rng.Uint32(),
		seq:          x.seq,
	}
	x.root = insertNode(x.root, n)
	x.size++
	x.gen++

	if wasAutoAttached {
		return
	}
	pred, succ := x.neighbors(id)
	if havePrevious && pred != nil {
		pred.haveNext = true
	}
	if haveNext && succ != nil {
		succ.havePrevious = true
	}
}

// Erase removes id. With onlyFromMemory the message still exists in the
// chat, so adjacency across it can no longer be vouched for. Otherwise the
// message is gone from the chat and its neighbours become adjacent if it was
// linked on both sides.
func (x *Index) Erase(id messageid.ID, onlyFromMemory bool) {
	x.checkID(id, "erase")
	n := x.find(id)
	if n == nil {
		violation("erase of %s which is not present", id)
	}

	linked := !onlyFromMemory && n.havePrevious && n.haveNext
	pred, succ := x.neighbors(id)
	if pred != nil {
		pred.haveNext = linked
	}
	if succ != nil {
		succ.havePrevious = linked
	}

	x.root = eraseNode(x.root, id)
	x.size--
	x.gen++
}

// AutoAttachMessage decides the flags of a message that is about to be
// inserted while arriving in the forward direction. The message is attached
// to its predecessor if that one is linked forward or is not older than
// lastKnown, the newest message the chat is known to have. The predecessor's
// HaveNext is set here; pass wasAutoAttached to Insert.
func (x *Index) AutoAttachMessage(id, lastKnown messageid.ID) AttachInfo {
	x.checkID(id, "auto-attach")
	if x.find(id) != nil {
		violation("auto-attach of %s which is already present", id)
	}

	pred, succ := x.neighbors(id)
	if pred == nil || !(pred.haveNext || (lastKnown.Valid() && pred.id >= lastKnown)) {
		x.logger.Debug("can't auto-attach message", zap.Stringer("message_id", id))
		return AttachInfo{}
	}
	if pred.haveNext && succ != nil {
		x.logger.Warn("attaching message inside a contiguous run",
			zap.Stringer("message_id", id),
			zap.Stringer("previous", pred.id),
			zap.Stringer("next", succ.id),
		)
	}

	info := AttachInfo{HavePrevious: true, HaveNext: pred.haveNext || succ == nil}
	pred.haveNext = true
	x.logger.Debug("auto-attached message",
		zap.Stringer("message_id", id),
		zap.Stringer("previous", pred.id),
	)
	return info
}

// AttachMessageToPrevious records that id directly follows its predecessor
// in the index.
func (x *Index) AttachMessageToPrevious(id messageid.ID) {
	x.checkID(id, "attach")
	n := x.find(id)
	if n == nil {
		violation("attach of %s which is not present", id)
	}
	pred, _ := x.neighbors(id)
	if pred == nil {
		violation("%s has no previous message to attach to", id)
	}
	n.havePrevious = true
	pred.haveNext = true
	x.logger.Debug("attached message to previous",
		zap.Stringer("message_id", id),
		zap.Stringer("previous", pred.id),
	)
}

// AttachMessageToNext records that id is directly followed by its successor
// in the index.
func (x *Index) AttachMessageToNext(id messageid.ID) {
	x.checkID(id, "attach")
	n := x.find(id)
	if n == nil {
		violation("attach of %s which is not present", id)
	}
	_, succ := x.neighbors(id)
	if succ == nil {
		violation("%s has no next message to attach to", id)
	}
	n.haveNext = true
	succ.havePrevious = true
	x.logger.Debug("attached message to next",
		zap.Stringer("message_id", id),
		zap.Stringer("next", succ.id),
	)
}

func (x *Index) checkID(id messageid.ID, op string) {
	if id.IsScheduled() {
		violation("%s of %s", op, id)
	}
	if !id.Valid() {
		violation("%s of %s", op, id)
	}
}

func (x *Index) find(id messageid.ID) *node {
	n := x.root
	for n != nil && n.id != id {
		if n.id < id {
			n = n.right
		} else {
			n = n.left
		}
	}
	return n
}

// neighbors returns the in-order predecessor and successor of id, whether
// or not id itself is present.
func (x *Index) neighbors(id messageid.ID) (pred, succ *node) {
	n := x.root
	for n != nil {
		switch {
		case n.id < id:
			pred = n
			n = n.right
		case n.id > id:
			succ = n
			n = n.left
		default:
			if n.left != nil {
				pred = rightmost(n.left)
			}
			if n.right != nil {
				succ = leftmost(n.right)
			}
			return pred, succ
		}
	}
	return pred, succ
}
