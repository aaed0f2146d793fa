package ordered

import "go-chat-history/internal/messageid"

// DateFunc returns the date of a cached message. It must be non-decreasing
// in the identifier and must not change during one call.
type DateFunc func(messageid.ID) int32

// FindOlderMessages returns the contiguous run ending at the greatest
// identifier not exceeding maxID, newest first.
func (x *Index) FindOlderMessages(maxID messageid.ID) []messageid.ID {
	var ids []messageid.ID
	for c := x.Lookup(maxID); c.Valid(); c.Prev() {
		ids = append(ids, c.ID())
	}
	return ids
}

// FindNewerMessages returns the contiguous run starting at the smallest
// identifier not below minID, oldest first.
func (x *Index) FindNewerMessages(minID messageid.ID) []messageid.ID {
	x.checkID(minID, "lookup")
	var ids []messageid.ID
	for c := x.ceiling(minID); c.Valid(); c.Next() {
		ids = append(ids, c.ID())
	}
	return ids
}

// FindMessageByDate returns the greatest identifier whose date is not after
// date, or messageid.Invalid if there is none.
func (x *Index) FindMessageByDate(date int32, dateOf DateFunc) messageid.ID {
	return findByDate(x.root, date, dateOf)
}

func findByDate(n *node, date int32, dateOf DateFunc) messageid.ID {
	if n == nil {
		return messageid.Invalid
	}
	if dateOf(n.id) > date {
		return findByDate(n.left, date, dateOf)
	}
	if id := findByDate(n.right, date, dateOf); id.Valid() {
		return id
	}
	return n.id
}

// FindMessagesByDate returns, in ascending order, every identifier whose
// date lies in [minDate, maxDate].
func (x *Index) FindMessagesByDate(minDate, maxDate int32, dateOf DateFunc) []messageid.ID {
	var ids []messageid.ID
	findRangeByDate(x.root, minDate, maxDate, dateOf, &ids)
	return ids
}

func findRangeByDate(n *node, minDate, maxDate int32, dateOf DateFunc, ids *[]messageid.ID) {
	if n == nil {
		return
	}
	date := dateOf(n.id)
	if date >= minDate {
		findRangeByDate(n.left, minDate, maxDate, dateOf, ids)
		if date <= maxDate {
			*ids = append(*ids, n.id)
		}
	}
	if date <= maxDate {
		findRangeByDate(n.right, minDate, maxDate, dateOf, ids)
	}
}

// TraverseMessages walks the tree from the root. At every node the two
// callbacks decide whether the smaller and the greater identifiers below it
// are visited.
func (x *Index) TraverseMessages(needScanOlder, needScanNewer func(messageid.ID) bool) {
	traverse(x.root, needScanOlder, needScanNewer)
}

func traverse(n *node, needScanOlder, needScanNewer func(messageid.ID) bool) {
	if n == nil {
		return
	}
	if needScanOlder(n.id) {
		traverse(n.left, needScanOlder, needScanNewer)
	}
	if needScanNewer(n.id) {
		traverse(n.right, needScanOlder, needScanNewer)
	}
}
