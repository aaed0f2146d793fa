package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"go-chat-history/internal/messageid"
	myMiddleware "go-chat-history/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

type Handler struct {
	hub    *Hub
	repo   Store
	logger *zap.Logger
}

func NewHandler(hub *Hub, repo Store, logger *zap.Logger) *Handler {
	return &Handler{
		hub:    hub,
		repo:   repo,
		logger: logger,
	}
}

// Routes mounts the chat API on r. r must already authenticate requests.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ws", h.ServeWs)
	r.Post("/api/conversations", h.StartConversation)
	r.Route("/api/chats/{chatID}/messages", func(r chi.Router) {
		r.Get("/", h.GetChatHistory)
		r.Get("/newer", h.GetNewerMessages)
		r.Get("/at", h.GetMessageAtDate)
		r.Get("/range", h.GetMessagesBetween)
		r.Delete("/{messageID}", h.DeleteMessage)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func caller(r *http.Request) (int, string, bool) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	username, ok2 := r.Context().Value(myMiddleware.UsernameKey).(string)
	return userID, username, ok && ok2
}

func intParam(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// dateParam reads a unix date in seconds. Dates must fit the int32 the
// messages carry.
func dateParam(r *http.Request, name string, def int32) (int32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	return int32(v), err
}

// authorize resolves the chat of the request and checks membership.
// It writes the error response itself and returns false on failure.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, chatID int64) (int, string, bool) {
	userID, username, ok := caller(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, "", false
	}
	member, err := h.repo.IsParticipant(r.Context(), chatID, userID)
	if err != nil {
		h.logger.Error("check participant", zap.Int64("chat_id", chatID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return 0, "", false
	}
	if !member {
		http.Error(w, ErrNotParticipant.Error(), http.StatusForbidden)
		return 0, "", false
	}
	return userID, username, true
}

func (h *Handler) chatID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil || chatID <= 0 {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return 0, false
	}
	return chatID, true
}

func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	chatID, err := intParam(r, "chat_id", 0)
	if err != nil || chatID <= 0 {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}
	userID, username, ok := h.authorize(w, r, chatID)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}

	client := &Client{
		Hub:      h.hub,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		ChatID:   chatID,
		UserID:   userID,
		Username: username,
		logger:   h.logger.With(zap.Int64("chat_id", chatID), zap.Int("user_id", userID)),
	}
	if !h.hub.join(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

type startConversationRequest struct {
	UserID int `json:"user_id"`
}

func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := caller(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 || req.UserID == userID {
		http.Error(w, "invalid peer", http.StatusBadRequest)
		return
	}
	conv, err := h.repo.CreateConversation(r.Context(), userID, req.UserID)
	if err != nil {
		h.logger.Error("create conversation", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"conversation_id": conv.ID})
}

func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}
	if _, _, ok := h.authorize(w, r, chatID); !ok {
		return
	}
	from, err1 := intParam(r, "from", 0)
	limit, err2 := intParam(r, "limit", 0)
	if err := errors.Join(err1, err2); err != nil || (from != 0 && !messageid.ID(from).Valid()) {
		http.Error(w, "invalid query", http.StatusBadRequest)
		return
	}

	page, err := h.hub.LoadHistory(r.Context(), chatID, messageid.ID(from), int(limit))
	if err != nil {
		h.logger.Error("load history", zap.Int64("chat_id", chatID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) GetNewerMessages(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}
	if _, _, ok := h.authorize(w, r, chatID); !ok {
		return
	}
	from, err1 := intParam(r, "from", 0)
	limit, err2 := intParam(r, "limit", 0)
	if err := errors.Join(err1, err2); err != nil || !messageid.ID(from).Valid() {
		http.Error(w, "invalid query", http.StatusBadRequest)
		return
	}

	msgs, err := h.hub.NewerHistory(r.Context(), chatID, messageid.ID(from), int(limit))
	switch {
	case errors.Is(err, ErrNotCached):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		h.logger.Error("newer history", zap.Int64("chat_id", chatID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, Page{Messages: msgs})
	}
}

func (h *Handler) GetMessageAtDate(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}
	if _, _, ok := h.authorize(w, r, chatID); !ok {
		return
	}
	date, err := dateParam(r, "date", -1)
	if err != nil || date < 0 {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	msg, err := h.hub.MessageAtDate(r.Context(), chatID, date)
	switch {
	case errors.Is(err, ErrMessageNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		h.logger.Error("message at date", zap.Int64("chat_id", chatID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, msg)
	}
}

func (h *Handler) GetMessagesBetween(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}
	if _, _, ok := h.authorize(w, r, chatID); !ok {
		return
	}
	minDate, err1 := dateParam(r, "min_date", 0)
	maxDate, err2 := dateParam(r, "max_date", -1)
	if err := errors.Join(err1, err2); err != nil || maxDate < minDate {
		http.Error(w, "invalid date range", http.StatusBadRequest)
		return
	}

	msgs, err := h.hub.MessagesBetween(r.Context(), chatID, minDate, maxDate)
	if err != nil {
		h.logger.Error("messages between", zap.Int64("chat_id", chatID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, Page{Messages: msgs})
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.chatID(w, r)
	if !ok {
		return
	}
	userID, _, ok := h.authorize(w, r, chatID)
	if !ok {
		return
	}
	raw, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil || !messageid.ID(raw).IsServer() {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	err = h.hub.DeleteMessage(r.Context(), chatID, userID, messageid.ID(raw))
	switch {
	case errors.Is(err, ErrMessageNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		h.logger.Error("delete message", zap.Int64("chat_id", chatID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
