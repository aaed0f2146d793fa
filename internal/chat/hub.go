package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"go-chat-history/internal/messageid"
)

const storeTimeout = 5 * time.Second

// Store is the database side of the chat feature.
type Store interface {
	SaveMessage(ctx context.Context, chatID int64, userID int, content string) (*Message, error)
	GetHistory(ctx context.Context, chatID int64, before messageid.ID, limit int) ([]*Message, error)
	GetMessageAtDate(ctx context.Context, chatID int64, date int32) (*Message, error)
	DeleteMessage(ctx context.Context, chatID int64, userID int, id messageid.ID) error
	IsParticipant(ctx context.Context, chatID int64, userID int) (bool, error)
	CreateConversation(ctx context.Context, userID, peerID int) (*Conversation, error)
}

// Broker carries events between server instances.
type Broker interface {
	Publish(ctx context.Context, ev *Event) error
	Subscribe(ctx context.Context) <-chan *Event
}

// Hub owns the history cache and the set of connected clients. Everything
// it owns is touched only by the Run goroutine.
type Hub struct {
	clients    map[int64]map[*Client]bool
	broadcast  chan *Event           // From Broker -> Clients
	Register   chan *Client          // New client joins
	Unregister chan *Client          // Client leaves
	Publish    chan *IncomingMessage // Client types -> Store -> Broker
	calls      chan func(*History)
	done       chan struct{} // Closed when Run returns.

	history  *History
	repo     Store
	broker   Broker
	pageSize int
	logger   *zap.Logger
}

func NewHub(history *History, repo Store, broker Broker, pageSize int, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		broadcast:  make(chan *Event),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Publish:    make(chan *IncomingMessage),
		calls:      make(chan func(*History)),
		done:       make(chan struct{}),
		history:    history,
		repo:       repo,
		broker:     broker,
		pageSize:   pageSize,
		logger:     logger,
	}
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	events := h.broker.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
			}
			h.clients = map[int64]map[*Client]bool{}
			return

		case client := <-h.Register:
			if h.clients[client.ChatID] == nil {
				h.clients[client.ChatID] = make(map[*Client]bool)
			}
			h.clients[client.ChatID][client] = true

		case client := <-h.Unregister:
			h.drop(client)

		case msg := <-h.Publish:
			go h.persist(ctx, msg)

		case fn := <-h.calls:
			fn(h.history)

		case ev, ok := <-events:
			if !ok {
				events = nil
				h.logger.Warn("event subscription closed")
				continue
			}
			h.apply(ev)
		}
	}
}

// join registers a client. It reports false once the hub has stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

// submit hands a typed message to the hub. It reports false once the hub
// has stopped.
func (h *Hub) submit(in *IncomingMessage) bool {
	select {
	case h.Publish <- in:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) drop(client *Client) {
	clients := h.clients[client.ChatID]
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.ChatID)
	}
}

// persist saves a typed message and announces it to every instance.
func (h *Hub) persist(ctx context.Context, in *IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	msg, err := h.repo.SaveMessage(ctx, in.ChatID, in.UserID, in.Content)
	if err != nil {
		h.logger.Error("save message", zap.Int64("chat_id", in.ChatID), zap.Error(err))
		return
	}
	msg.Username = in.Username
	if err := h.broker.Publish(ctx, &Event{Type: EventNew, ChatID: msg.ChatID, Message: msg}); err != nil {
		h.logger.Error("publish message", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
}

func (h *Hub) apply(ev *Event) {
	switch ev.Type {
	case EventNew:
		if ev.Message == nil || !ev.Message.ID.Valid() {
			h.logger.Warn("dropping malformed event", zap.String("type", ev.Type), zap.Int64("chat_id", ev.ChatID))
			return
		}
		h.history.AddNew(ev.Message)
	case EventDelete:
		h.history.Delete(ev.ChatID, ev.MessageIDs)
	default:
		h.logger.Warn("unknown event", zap.String("type", ev.Type))
		return
	}

	clients := h.clients[ev.ChatID]
	if len(clients) == 0 {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode event", zap.Error(err))
		return
	}
	for client := range clients {
		select {
		case client.Send <- payload:
		default:
			h.drop(client)
		}
	}
}

// Do runs fn on the hub goroutine and waits for it to finish.
func (h *Hub) Do(ctx context.Context, fn func(*History)) error {
	done := make(chan struct{})
	call := func(hist *History) {
		defer close(done)
		fn(hist)
	}
	select {
	case h.calls <- call:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) limit(limit int) int {
	if limit <= 0 || limit > h.pageSize {
		return h.pageSize
	}
	return limit
}

// LoadHistory returns up to limit messages older than from, newest first.
// The cache answers when it holds a contiguous run; otherwise the missing
// part is read from the store and cached.
func (h *Hub) LoadHistory(ctx context.Context, chatID int64, from messageid.ID, limit int) (*Page, error) {
	limit = h.limit(limit)

	var (
		page   *Page
		before messageid.ID
		ok     bool
	)
	older := func(hist *History) { page, before, ok = hist.Older(chatID, from, limit) }
	if err := h.Do(ctx, older); err != nil {
		return nil, err
	}
	if ok {
		historyRequests.WithLabelValues("cache").Inc()
		return page, nil
	}

	msgs, err := h.repo.GetHistory(ctx, chatID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("load history of chat %d: %w", chatID, err)
	}
	historyRequests.WithLabelValues("store").Inc()
	if err := h.Do(ctx, func(hist *History) { hist.AddPage(chatID, before, limit, msgs) }); err != nil {
		return nil, err
	}
	if before == from {
		return &Page{Messages: msgs, Complete: len(msgs) < limit}, nil
	}
	if err := h.Do(ctx, older); err != nil {
		return nil, err
	}
	if !ok {
		h.logger.Warn("history still incomplete after fetch",
			zap.Int64("chat_id", chatID),
			zap.Stringer("from", from),
			zap.Int("returned", len(page.Messages)),
		)
	}
	return page, nil
}

// NewerHistory returns cached messages newer than from, oldest first.
func (h *Hub) NewerHistory(ctx context.Context, chatID int64, from messageid.ID, limit int) ([]*Message, error) {
	limit = h.limit(limit)
	var (
		msgs []*Message
		ok   bool
	)
	if err := h.Do(ctx, func(hist *History) { msgs, ok = hist.Newer(chatID, from, limit) }); err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotCached
	}
	return msgs, nil
}

// MessageAtDate returns the last message sent not after date.
func (h *Hub) MessageAtDate(ctx context.Context, chatID int64, date int32) (*Message, error) {
	var (
		msg *Message
		ok  bool
	)
	if err := h.Do(ctx, func(hist *History) { msg, ok = hist.AtDate(chatID, date) }); err != nil {
		return nil, err
	}
	if ok {
		// A cached hit is only trustworthy if nothing newer up to date is missing.
		var newer []*Message
		if err := h.Do(ctx, func(hist *History) { newer, ok = hist.Newer(chatID, msg.ID, 1) }); err != nil {
			return nil, err
		}
		if ok && len(newer) == 1 && newer[0].Date > date {
			historyRequests.WithLabelValues("cache").Inc()
			return msg, nil
		}
	}
	msg, err := h.repo.GetMessageAtDate(ctx, chatID, date)
	if err != nil {
		return nil, fmt.Errorf("find message at %d in chat %d: %w", date, chatID, err)
	}
	historyRequests.WithLabelValues("store").Inc()
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

// MessagesBetween returns cached messages sent within [minDate, maxDate].
func (h *Hub) MessagesBetween(ctx context.Context, chatID int64, minDate, maxDate int32) ([]*Message, error) {
	var msgs []*Message
	if err := h.Do(ctx, func(hist *History) { msgs = hist.Between(chatID, minDate, maxDate) }); err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteMessage removes a message of userID and announces the deletion.
func (h *Hub) DeleteMessage(ctx context.Context, chatID int64, userID int, id messageid.ID) error {
	if err := h.repo.DeleteMessage(ctx, chatID, userID, id); err != nil {
		return fmt.Errorf("delete %s in chat %d: %w", id, chatID, err)
	}
	ev := &Event{Type: EventDelete, ChatID: chatID, MessageIDs: []messageid.ID{id}}
	if err := h.broker.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish deletion: %w", err)
	}
	return nil
}

var (
	ErrNotCached       = errors.New("message is not cached")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotParticipant  = errors.New("user is not a participant of the chat")
	ErrHubStopped      = errors.New("hub stopped")
)
