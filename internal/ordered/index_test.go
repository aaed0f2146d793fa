package ordered

import (
	"errors"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"go-chat-history/internal/messageid"
)

func id(n int32) messageid.ID {
	return messageid.FromServer(n)
}

func ids(ns ...int32) []messageid.ID {
	out := make([]messageid.ID, 0, len(ns))
	for _, n := range ns {
		out = append(out, id(n))
	}
	return out
}

func newTestIndex(t *testing.T, seed int64) *Index {
	return New(WithSeed(seed), WithLogger(zaptest.NewLogger(t)))
}

func requireViolation(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected a contract violation")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		require.True(t, errors.Is(err, ErrContract), "unexpected panic: %v", err)
	}()
	f()
}

func entry(t *testing.T, x *Index, n int32) Entry {
	t.Helper()
	e, ok := x.Get(id(n))
	require.True(t, ok, "%d is not cached", n)
	return e
}

func scenarioA(t *testing.T) *Index {
	x := newTestIndex(t, 1)
	x.Insert(id(10), false, false, true)
	x.Insert(id(20), false, true, true)
	return x
}

func TestScenarioA(t *testing.T) {
	r := require.New(t)
	x := scenarioA(t)

	c := x.Lookup(id(15))
	r.True(c.Valid())
	r.Equal(id(10), c.ID())
	c.Next()
	r.True(c.Valid())
	r.Equal(id(20), c.ID())

	r.Equal(ids(20, 10), x.FindOlderMessages(id(20)))
	r.Equal(ids(10, 20), x.FindNewerMessages(id(10)))
}

func TestScenarioB(t *testing.T) {
	r := require.New(t)
	x := scenarioA(t)

	x.Erase(id(10), true)
	r.False(entry(t, x, 20).HavePrevious)
	r.Equal(ids(20), x.FindOlderMessages(id(20)))
}

func TestScenarioC(t *testing.T) {
	r := require.New(t)
	x := scenarioA(t)
	before := entry(t, x, 10)

	x.Insert(id(15), false, false, false)
	x.AttachMessageToPrevious(id(20))

	r.True(entry(t, x, 15).HaveNext)
	r.True(entry(t, x, 20).HavePrevious)
	r.Equal(before, entry(t, x, 10))
	r.Equal(ids(20, 15), x.FindOlderMessages(id(20)))
}

func TestAttachToNext(t *testing.T) {
	r := require.New(t)
	x := scenarioA(t)
	before := entry(t, x, 20)

	x.Insert(id(15), false, false, false)
	x.AttachMessageToNext(id(10))

	r.True(entry(t, x, 10).HaveNext)
	r.True(entry(t, x, 15).HavePrevious)
	r.False(entry(t, x, 15).HaveNext)
	r.Equal(before, entry(t, x, 20))
	r.Equal(ids(10, 15), x.FindNewerMessages(id(10)))
}

func preorder(n *node, out []messageid.ID) []messageid.ID {
	if n == nil {
		return out
	}
	out = append(out, n.id)
	out = preorder(n.left, out)
	return preorder(n.right, out)
}

func TestWithRandIsReproducible(t *testing.T) {
	build := func() *Index {
		x := New(WithRand(rand.New(rand.NewSource(9))), WithLogger(zaptest.NewLogger(t)))
		for n := int32(1); n <= 200; n++ {
			x.Insert(id(n), false, false, false)
		}
		return x
	}
	a, b := build(), build()
	require.Equal(t, preorder(a.root, nil), preorder(b.root, nil))
	require.Equal(t, a.Height(), b.Height())
}

func TestInsertMirrorsClaims(t *testing.T) {
	r := require.New(t)
	x := newTestIndex(t, 2)
	x.Insert(id(1), false, false, false)
	x.Insert(id(3), false, false, false)

	x.Insert(id(2), false, true, true)
	r.True(entry(t, x, 1).HaveNext)
	r.True(entry(t, x, 3).HavePrevious)
	r.False(entry(t, x, 1).HavePrevious)
	r.False(entry(t, x, 3).HaveNext)

	x.Insert(id(5), true, true, false)
	r.False(entry(t, x, 3).HaveNext, "auto-attached insert must not touch neighbours")
}

func TestErasePermanentKeepsLinks(t *testing.T) {
	r := require.New(t)
	x := newTestIndex(t, 3)
	for _, n := range []int32{1, 2, 3} {
		x.Insert(id(n), false, n > 1, n < 3)
	}
	r.Equal(ids(1, 2, 3), x.FindNewerMessages(id(1)))

	x.Erase(id(2), false)
	r.True(entry(t, x, 1).HaveNext)
	r.True(entry(t, x, 3).HavePrevious)
	r.Equal(ids(1, 3), x.FindNewerMessages(id(1)))

	x.Erase(id(3), false)
	r.False(entry(t, x, 1).HaveNext, "gap after a deleted message moves to its predecessor")
}

func TestEraseNewestMessage(t *testing.T) {
	r := require.New(t)

	x := newTestIndex(t, 4)
	x.Insert(id(1), false, false, true)
	x.Insert(id(2), false, true, true)
	x.Erase(id(2), false)
	r.True(entry(t, x, 1).HaveNext, "deleted leading message hands the edge back")

	x.Insert(id(2), false, true, true)
	x.Erase(id(2), true)
	r.False(entry(t, x, 1).HaveNext)
}

func TestAutoAttach(t *testing.T) {
	r := require.New(t)
	x := newTestIndex(t, 5)

	r.Equal(AttachInfo{}, x.AutoAttachMessage(id(1), messageid.Invalid))

	x.Insert(id(1), false, false, false)
	r.Equal(AttachInfo{}, x.AutoAttachMessage(id(2), id(5)))

	info := x.AutoAttachMessage(id(2), id(1))
	r.Equal(AttachInfo{HavePrevious: true, HaveNext: true}, info)
	r.True(entry(t, x, 1).HaveNext)
	x.Insert(id(2), true, info.HavePrevious, info.HaveNext)

	info = x.AutoAttachMessage(id(3), messageid.Invalid)
	r.Equal(AttachInfo{HavePrevious: true, HaveNext: true}, info)
	x.Insert(id(3), true, info.HavePrevious, info.HaveNext)

	r.Equal(ids(3, 2, 1), x.FindOlderMessages(messageid.Max()))
}

func TestLookupMatchesReference(t *testing.T) {
	r := require.New(t)
	rng := rand.New(rand.NewSource(7))
	x := newTestIndex(t, 7)
	present := map[int32]bool{}

	for step := 0; step < 2000; step++ {
		n := int32(rng.Intn(300) + 1)
		if present[n] {
			x.Erase(id(n), rng.Intn(2) == 0)
			delete(present, n)
		} else {
			x.Insert(id(n), false, rng.Intn(2) == 0, rng.Intn(2) == 0)
			present[n] = true
		}
	}

	var want []messageid.ID
	for n := range present {
		want = append(want, id(n))
	}
	slices.Sort(want)
	r.Equal(want, x.IDs())
	r.Equal(len(want), x.Len())

	for k := int32(1); k <= 310; k++ {
		expected := messageid.Invalid
		for _, v := range want {
			if v <= id(k) {
				expected = v
			}
		}
		r.Equal(expected, x.Lookup(id(k)).ID(), "lookup(%d)", k)
	}
}

func TestBoundaryRespectingAdvance(t *testing.T) {
	r := require.New(t)
	rng := rand.New(rand.NewSource(11))
	x := newTestIndex(t, 11)
	for n := int32(1); n <= 200; n++ {
		if rng.Intn(3) != 0 {
			x.Insert(id(n), true, rng.Intn(4) != 0, rng.Intn(4) != 0)
		}
	}
	all := x.IDs()
	for i, v := range all {
		c := x.Lookup(v)
		e := entry(t, x, v.ServerID())
		c.Next()
		if !e.HaveNext || i == len(all)-1 {
			r.False(c.Valid(), "next of %v", v)
		} else {
			r.Equal(all[i+1], c.ID())
		}

		c = x.Lookup(v)
		c.Prev()
		if !e.HavePrevious || i == 0 {
			r.False(c.Valid(), "prev of %v", v)
		} else {
			r.Equal(all[i-1], c.ID())
		}
	}
}

func TestContiguousExtraction(t *testing.T) {
	r := require.New(t)
	rng := rand.New(rand.NewSource(13))
	x := newTestIndex(t, 13)
	for n := int32(1); n <= 150; n++ {
		if rng.Intn(5) != 0 {
			x.Insert(id(n), true, rng.Intn(6) != 0, rng.Intn(6) != 0)
		}
	}

	for m := int32(1); m <= 155; m++ {
		start := x.Lookup(id(m)).ID()
		got := x.FindOlderMessages(id(m))
		if !start.Valid() {
			r.Empty(got)
			continue
		}
		var want []messageid.ID
		all := x.IDs()
		i := slices.Index(all, start)
		for ; i >= 0; i-- {
			want = append(want, all[i])
			if !entry(t, x, all[i].ServerID()).HavePrevious {
				break
			}
		}
		r.Equal(want, got, "older(%d)", m)
		r.True(slices.IsSortedFunc(got, func(a, b messageid.ID) int { return int(b - a) }))
	}
}

func TestStructuralIndependence(t *testing.T) {
	r := require.New(t)
	rng := rand.New(rand.NewSource(17))
	var entries []Entry
	for n := int32(1); n <= 120; n++ {
		if rng.Intn(4) != 0 {
			entries = append(entries, Entry{ID: id(n), HavePrevious: rng.Intn(5) != 0, HaveNext: rng.Intn(5) != 0})
		}
	}

	build := func(seed int64) *Index {
		x := newTestIndex(t, seed)
		order := slices.Clone(entries)
		rand.New(rand.NewSource(seed)).Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, e := range order {
			x.Insert(e.ID, true, e.HavePrevious, e.HaveNext)
		}
		return x
	}
	a, b := build(100), build(200)
	dateOf := func(v messageid.ID) int32 { return int32(v.ServerID() / 3) }

	for m := int32(0); m <= 125; m++ {
		k := id(m + 1)
		r.Equal(a.Lookup(k).ID(), b.Lookup(k).ID())
		r.Equal(a.FindOlderMessages(k), b.FindOlderMessages(k))
		r.Equal(a.FindNewerMessages(k), b.FindNewerMessages(k))
		r.Equal(a.FindMessageByDate(m, dateOf), b.FindMessageByDate(m, dateOf))
		r.Equal(a.FindMessagesByDate(m, m+7, dateOf), b.FindMessagesByDate(m, m+7, dateOf))
	}

	collect := func(x *Index) []messageid.ID {
		var got []messageid.ID
		x.TraverseMessages(
			func(v messageid.ID) bool {
				if v >= id(30) && v <= id(60) {
					got = append(got, v)
				}
				return v > id(30)
			},
			func(v messageid.ID) bool { return v < id(60) },
		)
		slices.Sort(got)
		return got
	}
	r.Equal(collect(a), collect(b))
}

func TestBalance(t *testing.T) {
	const n = 1 << 12
	limit := int(4 * math.Log2(n))
	for seed := int64(1); seed <= 5; seed++ {
		x := New(WithSeed(seed))
		for v := int32(1); v <= n; v++ {
			x.Insert(id(v), true, true, true)
		}
		require.LessOrEqual(t, x.Height(), limit, "seed %d", seed)
	}
}

func TestHeapOrder(t *testing.T) {
	x := newTestIndex(t, 19)
	for v := int32(1); v <= 500; v++ {
		x.Insert(id(v), true, false, false)
	}
	for v := int32(1); v <= 500; v += 3 {
		x.Erase(id(v), true)
	}
	var check func(n *node)
	check = func(n *node) {
		if n == nil {
			return
		}
		for _, child := range []*node{n.left, n.right} {
			if child != nil {
				require.False(t, child.outranks(n))
			}
		}
		check(n.left)
		check(n.right)
	}
	check(x.root)
}

func TestFindMessageByDate(t *testing.T) {
	r := require.New(t)
	x := newTestIndex(t, 23)
	dates := map[messageid.ID]int32{id(1): 100, id(2): 100, id(5): 200, id(9): 300}
	dateOf := func(v messageid.ID) int32 { return dates[v] }

	r.Equal(messageid.Invalid, x.FindMessageByDate(150, dateOf))
	for v := range dates {
		x.Insert(v, false, false, false)
	}

	r.Equal(messageid.Invalid, x.FindMessageByDate(99, dateOf))
	r.Equal(id(2), x.FindMessageByDate(100, dateOf))
	r.Equal(id(2), x.FindMessageByDate(199, dateOf))
	r.Equal(id(5), x.FindMessageByDate(200, dateOf))
	r.Equal(id(9), x.FindMessageByDate(1000, dateOf))

	r.Equal(ids(1, 2, 5), x.FindMessagesByDate(100, 250, dateOf))
	r.Equal(ids(5, 9), x.FindMessagesByDate(150, 300, dateOf))
	r.Empty(x.FindMessagesByDate(301, 400, dateOf))
}

func TestTraverseStopsScanning(t *testing.T) {
	r := require.New(t)
	x := newTestIndex(t, 29)
	for v := int32(1); v <= 64; v++ {
		x.Insert(id(v), true, true, true)
	}

	var visited []messageid.ID
	x.TraverseMessages(
		func(v messageid.ID) bool {
			visited = append(visited, v)
			return v > id(60)
		},
		func(messageid.ID) bool { return true },
	)
	for v := int32(61); v <= 64; v++ {
		r.Contains(visited, id(v))
	}
	r.Less(len(visited), 64)
}

func TestContractViolations(t *testing.T) {
	x := newTestIndex(t, 31)
	x.Insert(id(1), false, false, false)
	scheduled := id(2) + 4

	requireViolation(t, func() { x.Insert(scheduled, false, false, false) })
	requireViolation(t, func() { x.Insert(id(1), false, false, false) })
	requireViolation(t, func() { x.Insert(messageid.Invalid, false, false, false) })
	requireViolation(t, func() { x.Erase(id(2), true) })
	requireViolation(t, func() { x.Lookup(messageid.Invalid) })
	requireViolation(t, func() { x.AttachMessageToPrevious(id(1)) })
	requireViolation(t, func() { x.AttachMessageToNext(id(1)) })
	requireViolation(t, func() { x.AttachMessageToNext(id(3)) })
	requireViolation(t, func() { x.AutoAttachMessage(id(1), messageid.Invalid) })
}

func TestCursorDiesOnMutation(t *testing.T) {
	r := require.New(t)
	x := newTestIndex(t, 37)
	x.Insert(id(1), false, false, true)
	c := x.Lookup(id(1))
	clone := c.Clone()
	r.True(c.Valid())

	x.Insert(id(2), false, true, false)
	requireViolation(t, func() { c.Next() })
	requireViolation(t, func() { clone.Valid() })

	c = x.Lookup(id(2))
	c.Prev()
	r.Equal(id(1), c.ID())
	x.Erase(id(2), true)
	requireViolation(t, func() { c.ID() })
}
