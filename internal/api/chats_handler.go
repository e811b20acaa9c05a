package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/vdavid/mailchat/internal/models"
)

// ChatStore is the part of the store the conversation endpoints use.
type ChatStore interface {
	GetSettings(ctx context.Context) (models.Settings, error)
	ListChats(ctx context.Context, accountID int64) ([]*models.ChatSummary, error)
	ListMessages(ctx context.Context, accountID int64, contactEmail string, sinceID int64) ([]*models.Message, error)
	MarkConversationRead(ctx context.Context, accountID int64, contactEmail string, at time.Time) (int64, error)
	MarkMessageRead(ctx context.Context, accountID, messageID int64, at time.Time) error
}

// ChatsHandler serves the chat overview and the messages of one conversation.
type ChatsHandler struct {
	store ChatStore
	now   func() time.Time
}

func NewChatsHandler(store ChatStore) *ChatsHandler {
	return &ChatsHandler{store: store, now: time.Now}
}

// ListChats returns one summary per counterpart, most recent first.
func (h *ChatsHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	accountID, ok := queryInt64(w, r, "account_id", true)
	if !ok {
		return
	}

	chats, err := h.store.ListChats(r.Context(), accountID)
	if err != nil {
		writeError(w, "ChatsHandler", err)
		return
	}

	writeJSON(w, http.StatusOK, chats)
}

// ListMessages returns the conversation with ?contact=, optionally only messages after
// ?since_id=. With ?mark_read=1 and mark_read_on_open enabled, the inbound messages are
// marked read before they are listed.
func (h *ChatsHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID, ok := queryInt64(w, r, "account_id", true)
	if !ok {
		return
	}
	sinceID, ok := queryInt64(w, r, "since_id", false)
	if !ok {
		return
	}
	contact := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("contact")))
	if contact == "" {
		badRequest(w, "contact is required")
		return
	}

	if models.IsTruthy(r.URL.Query().Get("mark_read")) {
		settings, err := h.store.GetSettings(ctx)
		if err != nil {
			writeError(w, "ChatsHandler", err)
			return
		}
		if settings.MarkReadOnOpen {
			if _, err := h.store.MarkConversationRead(ctx, accountID, contact, h.now()); err != nil {
				writeError(w, "ChatsHandler", err)
				return
			}
		}
	}

	messages, err := h.store.ListMessages(ctx, accountID, contact, sinceID)
	if err != nil {
		writeError(w, "ChatsHandler", err)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

type markReadRequest struct {
	AccountID int64 `json:"account_id"`
	MessageID int64 `json:"message_id"`
}

// MarkRead marks one inbound message as read. Repeating it keeps the first read time.
func (h *ChatsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AccountID <= 0 || req.MessageID <= 0 {
		badRequest(w, "account_id and message_id are required")
		return
	}

	if err := h.store.MarkMessageRead(r.Context(), req.AccountID, req.MessageID, h.now()); err != nil {
		writeError(w, "ChatsHandler", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
