package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"go-chat-history/internal/messageid"
)

func mid(n int) messageid.ID {
	return messageid.FromServer(int32(n))
}

func testMessage(chatID int64, n int) *Message {
	return &Message{
		ID:      mid(n),
		ChatID:  chatID,
		UserID:  1,
		Content: "m",
		Date:    int32(1000 + 10*n),
	}
}

// messages returns the messages numbered from down to to, newest first.
func messages(chatID int64, from, to int) []*Message {
	var out []*Message
	for n := from; n >= to; n-- {
		out = append(out, testMessage(chatID, n))
	}
	return out
}

func pageIDs(msgs []*Message) []messageid.ID {
	out := make([]messageid.ID, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func mids(ns ...int) []messageid.ID {
	out := make([]messageid.ID, 0, len(ns))
	for _, n := range ns {
		out = append(out, mid(n))
	}
	return out
}

func newTestHistory(t *testing.T, cfg HistoryConfig) *History {
	t.Helper()
	if cfg.Seed == 0 {
		cfg.Seed = 7
	}
	h, err := NewHistory(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return h
}

func TestHistoryPaging(t *testing.T) {
	r := require.New(t)
	h := newTestHistory(t, HistoryConfig{CachedChats: 4})

	page, before, ok := h.Older(1, messageid.Invalid, 3)
	r.False(ok)
	r.Empty(page.Messages)
	r.False(before.Valid())

	h.AddPage(1, messageid.Invalid, 3, messages(1, 10, 8))
	r.Equal(3, h.Cached(1))

	page, _, ok = h.Older(1, messageid.Invalid, 3)
	r.True(ok)
	r.Equal(mids(10, 9, 8), pageIDs(page.Messages))
	r.False(page.Complete)

	page, before, ok = h.Older(1, messageid.Invalid, 5)
	r.False(ok)
	r.Equal(mids(10, 9, 8), pageIDs(page.Messages))
	r.Equal(mid(8), before)

	page, before, ok = h.Older(1, mid(9), 2)
	r.False(ok)
	r.Equal(mids(8), pageIDs(page.Messages))
	r.Equal(mid(8), before)

	// A short page means the start of the chat.
	h.AddPage(1, mid(8), 2, messages(1, 7, 7))
	page, _, ok = h.Older(1, mid(9), 5)
	r.True(ok)
	r.True(page.Complete)
	r.Equal(mids(8, 7), pageIDs(page.Messages))

	page, _, ok = h.Older(1, mid(7), 5)
	r.True(ok)
	r.True(page.Complete)
	r.Empty(page.Messages)

	_, before, ok = h.Older(1, mid(20), 5)
	r.False(ok)
	r.Equal(mid(20), before)
}

func TestHistoryEmptyChat(t *testing.T) {
	r := require.New(t)
	h := newTestHistory(t, HistoryConfig{CachedChats: 4})

	h.AddPage(1, messageid.Invalid, 10, nil)
	page, _, ok := h.Older(1, messageid.Invalid, 10)
	r.True(ok)
	r.True(page.Complete)
	r.Empty(page.Messages)
}

func TestHistoryDropsStaleMessages(t *testing.T) {
	r := require.New(t)
	h := newTestHistory(t, HistoryConfig{CachedChats: 4})

	h.AddPage(1, messageid.Invalid, 3, messages(1, 10, 8))
	// 9 was deleted while this instance missed the event.
	h.AddPage(1, messageid.Invalid, 3, []*Message{testMessage(1, 10), testMessage(1, 8), testMessage(1, 7)})

	r.Equal(3, h.Cached(1))
	page, before, ok := h.Older(1, messageid.Invalid, 10)
	r.False(ok)
	r.Equal(mids(10, 8, 7), pageIDs(page.Messages))
	r.Equal(mid(7), before)
}

func TestHistoryAddNew(t *testing.T) {
	r := require.New(t)
	h := newTestHistory(t, HistoryConfig{CachedChats: 4})

	h.AddNew(testMessage(2, 1))
	r.Zero(h.Cached(2), "uncached chats are not tracked")

	h.AddPage(1, messageid.Invalid, 3, messages(1, 10, 8))
	h.AddNew(testMessage(1, 11))
	h.AddNew(testMessage(1, 12))
	h.AddNew(testMessage(1, 12))

	page, _, ok := h.Older(1, messageid.Invalid, 5)
	r.True(ok)
	r.Equal(mids(12, 11, 10, 9, 8), pageIDs(page.Messages))

	msgs, ok := h.Newer(1, mid(9), 10)
	r.True(ok)
	r.Equal(mids(10, 11, 12), pageIDs(msgs))

	_, ok = h.Newer(1, mid(30), 10)
	r.False(ok)
}

func TestHistoryTrimsOldest(t *testing.T) {
	r := require.New(t)
	h := newTestHistory(t, HistoryConfig{CachedChats: 4, MaxMessagesPerChat: 3})

	h.AddPage(1, messageid.Invalid, 3, messages(1, 10, 8))
	h.AddNew(testMessage(1, 11))
	r.Equal(3, h.Cached(1))

	page, before, ok := h.Older(1, messageid.Invalid, 10)
	r.False(ok)
	r.Equal(mids(11, 10, 9), pageIDs(page.Messages))
	r.Equal(mid(9), before)

	h.Trim(1, 1)
	page, _, ok = h.Older(1, messageid.Invalid, 1)
	r.True(ok)
	r.Equal(mids(11), pageIDs(page.Messages))
}

func TestHistoryDelete(t *testing.T) {
	r := require.New(t)
	h := newTestHistory(t, HistoryConfig{CachedChats: 4})

	h.AddPage(1, messageid.Invalid, 5, messages(1, 10, 8))
	h.Delete(1, mids(9))
	page, _, ok := h.Older(1, messageid.Invalid, 5)
	r.True(ok)
	r.True(page.Complete)
	r.Equal(mids(10, 8), pageIDs(page.Messages))

	h.Delete(1, mids(10, 42))
	page, _, ok = h.Older(1, messageid.Invalid, 5)
	r.True(ok)
	r.Equal(mids(8), pageIDs(page.Messages))

	// Deleting the first message moves the start of the chat forward.
	h.AddNew(testMessage(1, 11))
	h.Delete(1, mids(8))
	page, _, ok = h.Older(1, messageid.Invalid, 5)
	r.True(ok)
	r.True(page.Complete)
	r.Equal(mids(11), pageIDs(page.Messages))
}

func TestHistoryDeleteFirstAcrossGap(t *testing.T) {
	r := require.New(t)
	h := newTestHistory(t, HistoryConfig{CachedChats: 4})

	h.AddPage(1, messageid.Invalid, 10, messages(1, 1, 1))
	h.AddPage(1, mid(100), 2, []*Message{testMessage(1, 60), testMessage(1, 50)})
	h.Delete(1, mids(1))

	page, before, ok := h.Older(1, mid(60), 10)
	r.False(ok)
	r.False(page.Complete)
	r.Equal(mids(50), pageIDs(page.Messages))
	r.Equal(mid(50), before)
}

func TestHistoryDates(t *testing.T) {
	r := require.New(t)
	h := newTestHistory(t, HistoryConfig{CachedChats: 4})
	h.AddPage(1, messageid.Invalid, 10, messages(1, 10, 1))

	msg, ok := h.AtDate(1, 1095)
	r.True(ok)
	r.Equal(mid(9), msg.ID)

	_, ok = h.AtDate(1, 900)
	r.False(ok)

	r.Equal(mids(9, 10), pageIDs(h.Between(1, 1085, 1100)))
	r.Empty(h.Between(1, 2000, 3000))
	r.Empty(h.Between(2, 0, 3000))
}

func TestHistoryEvictsChats(t *testing.T) {
	r := require.New(t)
	h := newTestHistory(t, HistoryConfig{CachedChats: 1})

	h.AddPage(1, messageid.Invalid, 3, messages(1, 10, 8))
	h.AddPage(2, messageid.Invalid, 3, messages(2, 20, 18))

	r.Zero(h.Cached(1))
	r.Equal(3, h.Cached(2))
	_, _, ok := h.Older(1, messageid.Invalid, 3)
	r.False(ok)
}
