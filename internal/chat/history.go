package chat

import (
	"cmp"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"go-chat-history/internal/messageid"
	"go-chat-history/internal/ordered"
)

type HistoryConfig struct {
	// CachedChats is the number of chats whose messages are kept in memory.
	CachedChats int `mapstructure:"cached-chats"`
	// MaxMessagesPerChat bounds one chat's cache when new messages arrive.
	// Zero disables the bound.
	MaxMessagesPerChat int `mapstructure:"max-messages-per-chat"`
	// PageSize is the default and maximum number of messages per request.
	PageSize int `mapstructure:"page-size"`
	// Seed makes index priorities reproducible. Zero picks a random seed.
	Seed int64 `mapstructure:"seed"`
}

func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		CachedChats:        1024,
		MaxMessagesPerChat: 2000,
		PageSize:           50,
	}
}

type chatState struct {
	index    *ordered.Index
	messages map[messageid.ID]*Message

	// lastID is the newest message of the chat, when known.
	lastID messageid.ID
	// firstID is the oldest message of the chat, valid once startReached.
	firstID      messageid.ID
	startReached bool
}

func (st *chatState) dateOf(id messageid.ID) int32 {
	return st.messages[id].Date
}

func (st *chatState) collect(ids []messageid.ID) []*Message {
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, st.messages[id])
	}
	return out
}

// History caches the recent part of every active chat. It is owned by the
// Hub goroutine and is not safe for concurrent use.
type History struct {
	cfg    HistoryConfig
	chats  *lru.Cache[int64, *chatState]
	logger *zap.Logger
}

func NewHistory(cfg HistoryConfig, logger *zap.Logger) (*History, error) {
	h := &History{cfg: cfg, logger: logger}
	chats, err := lru.NewWithEvict(cfg.CachedChats, h.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create chat cache: %w", err)
	}
	h.chats = chats
	return h, nil
}

func (h *History) onEvict(chatID int64, st *chatState) {
	evictedMessages.WithLabelValues("chat").Add(float64(st.index.Len()))
	cachedMessages.Sub(float64(st.index.Len()))
	cachedChats.Dec()
	h.logger.Debug("dropped chat from memory", zap.Int64("chat_id", chatID), zap.Int("messages", st.index.Len()))
}

func (h *History) state(chatID int64) *chatState {
	if st, ok := h.chats.Get(chatID); ok {
		return st
	}
	opts := []ordered.Option{ordered.WithLogger(h.logger.With(zap.Int64("chat_id", chatID)))}
	if h.cfg.Seed != 0 {
		opts = append(opts, ordered.WithSeed(h.cfg.Seed^chatID))
	}
	st := &chatState{
		index:    ordered.New(opts...),
		messages: map[messageid.ID]*Message{},
	}
	h.chats.Add(chatID, st)
	cachedChats.Inc()
	return st
}

func (h *History) insert(st *chatState, msg *Message, wasAutoAttached, havePrevious, haveNext bool) {
	st.index.Insert(msg.ID, wasAutoAttached, havePrevious, haveNext)
	st.messages[msg.ID] = msg
	cachedMessages.Inc()
}

func (h *History) erase(st *chatState, id messageid.ID, onlyFromMemory bool) {
	st.index.Erase(id, onlyFromMemory)
	delete(st.messages, id)
	cachedMessages.Dec()
	if id == st.firstID {
		st.firstID = messageid.Invalid
		st.startReached = false
	}
}

// AddPage stores messages loaded from the database. msgs are consecutive
// messages of the chat older than before, at most limit of them; an invalid
// before means the newest messages of the chat.
func (h *History) AddPage(chatID int64, before messageid.ID, limit int, msgs []*Message) {
	st := h.state(chatID)
	msgs = slices.Clone(msgs)
	slices.SortFunc(msgs, func(a, b *Message) int { return cmp.Compare(b.ID, a.ID) })
	msgs = slices.CompactFunc(msgs, func(a, b *Message) bool { return a.ID == b.ID })

	if len(msgs) == 0 {
		switch {
		case !before.Valid():
			st.startReached = true
			st.firstID = messageid.Invalid
		case st.index.Contains(before):
			st.startReached = true
			st.firstID = before
		}
		return
	}

	newest, oldest := msgs[0].ID, msgs[len(msgs)-1].ID
	upper := newest
	if before.Valid() && st.index.Contains(before) {
		upper = before
	}
	inPage := make(map[messageid.ID]bool, len(msgs))
	for _, m := range msgs {
		inPage[m.ID] = true
	}
	// Cached messages inside the span of a consecutive page are gone from
	// the chat.
	var stale []messageid.ID
	st.index.TraverseMessages(
		func(id messageid.ID) bool {
			if id > oldest && id < upper && !inPage[id] {
				stale = append(stale, id)
			}
			return id > oldest
		},
		func(id messageid.ID) bool { return id < upper },
	)
	for _, id := range stale {
		h.erase(st, id, false)
	}

	leadingEdge := !before.Valid()
	for i, m := range msgs {
		if st.index.Contains(m.ID) {
			st.messages[m.ID] = m
			continue
		}
		h.insert(st, m, false, false, leadingEdge && i == 0)
	}
	for i := 0; i+1 < len(msgs); i++ {
		st.index.AttachMessageToPrevious(msgs[i].ID)
	}
	if upper == before {
		st.index.AttachMessageToPrevious(before)
	}
	if leadingEdge && newest > st.lastID {
		st.lastID = newest
	}
	if len(msgs) < limit {
		st.startReached = true
		st.firstID = oldest
	}
	h.logger.Debug("added history page",
		zap.Int64("chat_id", chatID),
		zap.Stringer("before", before),
		zap.Stringer("newest", newest),
		zap.Stringer("oldest", oldest),
		zap.Int("stale", len(stale)),
	)
}

// AddNew stores a message that has just been sent to a cached chat.
func (h *History) AddNew(msg *Message) {
	st, ok := h.chats.Get(msg.ChatID)
	if !ok {
		return
	}
	if st.index.Contains(msg.ID) {
		st.messages[msg.ID] = msg
		return
	}
	info := st.index.AutoAttachMessage(msg.ID, st.lastID)
	h.insert(st, msg, true, info.HavePrevious, info.HaveNext)
	if msg.ID > st.lastID {
		st.lastID = msg.ID
	}
	if h.cfg.MaxMessagesPerChat > 0 {
		h.Trim(msg.ChatID, h.cfg.MaxMessagesPerChat)
	}
}

// Delete forgets messages deleted from the chat.
func (h *History) Delete(chatID int64, ids []messageid.ID) {
	st, ok := h.chats.Get(chatID)
	if !ok {
		return
	}
	for _, id := range ids {
		if !st.index.Contains(id) {
			continue
		}
		// The start moves only to a successor both sides vouch for.
		next := messageid.Invalid
		if id == st.firstID && st.startReached {
			if run := st.index.FindNewerMessages(id); len(run) > 1 {
				if e, _ := st.index.Get(run[1]); e.HavePrevious {
					next = run[1]
				}
			}
		}
		h.erase(st, id, false)
		if next.Valid() {
			st.firstID = next
			st.startReached = true
		}
		if id == st.lastID {
			st.lastID = messageid.Invalid
			if c := st.index.Lookup(messageid.Max()); c.Valid() && c.HaveNext() {
				st.lastID = c.ID()
			}
		}
	}
}

// Trim drops the oldest cached messages of a chat until at most keep remain.
func (h *History) Trim(chatID int64, keep int) {
	st, ok := h.chats.Peek(chatID)
	if !ok {
		return
	}
	n := st.index.Len() - keep
	if n <= 0 {
		return
	}
	victims := make([]messageid.ID, 0, n)
	st.index.TraverseMessages(
		func(messageid.ID) bool { return len(victims) < n },
		func(id messageid.ID) bool {
			if len(victims) < n {
				victims = append(victims, id)
			}
			return len(victims) < n
		},
	)
	for _, id := range victims {
		h.erase(st, id, true)
		if id == st.lastID {
			st.lastID = messageid.Invalid
		}
	}
	evictedMessages.WithLabelValues("trim").Add(float64(len(victims)))
}

// Older answers a request for up to limit messages older than from, newest
// first, or for the newest messages when from is invalid. When the cached
// run is too short, ok is false, page holds what is cached and fetchBefore
// is the identifier the database has to be asked for older messages of.
func (h *History) Older(chatID int64, from messageid.ID, limit int) (page *Page, fetchBefore messageid.ID, ok bool) {
	st, found := h.chats.Get(chatID)
	if !found {
		return &Page{}, from, false
	}

	var run []messageid.ID
	switch {
	case !from.Valid() && st.lastID.Valid():
		run = st.index.FindOlderMessages(st.lastID)
	case !from.Valid():
		if st.startReached && st.index.Len() == 0 {
			return &Page{Complete: true}, messageid.Invalid, true
		}
		return &Page{}, messageid.Invalid, false
	case !st.index.Contains(from):
		return &Page{}, from, false
	default:
		run = st.index.FindOlderMessages(from)[1:]
	}

	if len(run) >= limit {
		return &Page{Messages: st.collect(run[:limit])}, messageid.Invalid, true
	}
	oldest := from
	if len(run) > 0 {
		oldest = run[len(run)-1]
	}
	page = &Page{Messages: st.collect(run)}
	if st.startReached && oldest == st.firstID {
		page.Complete = true
		return page, messageid.Invalid, true
	}
	return page, oldest, false
}

// Newer returns up to limit cached messages newer than from, oldest first.
// ok is false if from is not cached.
func (h *History) Newer(chatID int64, from messageid.ID, limit int) (msgs []*Message, ok bool) {
	st, found := h.chats.Get(chatID)
	if !found || !st.index.Contains(from) {
		return nil, false
	}
	run := st.index.FindNewerMessages(from)[1:]
	if len(run) > limit {
		run = run[:limit]
	}
	return st.collect(run), true
}

// AtDate returns the last cached message sent not after date.
func (h *History) AtDate(chatID int64, date int32) (*Message, bool) {
	st, found := h.chats.Get(chatID)
	if !found {
		return nil, false
	}
	id := st.index.FindMessageByDate(date, st.dateOf)
	if !id.Valid() {
		return nil, false
	}
	return st.messages[id], true
}

// Between returns cached messages sent within [minDate, maxDate], oldest first.
func (h *History) Between(chatID int64, minDate, maxDate int32) []*Message {
	st, found := h.chats.Get(chatID)
	if !found {
		return nil
	}
	return st.collect(st.index.FindMessagesByDate(minDate, maxDate, st.dateOf))
}

// Cached reports how many messages of a chat are in memory.
func (h *History) Cached(chatID int64) int {
	st, found := h.chats.Peek(chatID)
	if !found {
		return 0
	}
	return st.index.Len()
}
