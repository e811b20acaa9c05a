package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/vdavid/mailchat/internal/models"
)

// ContactStore is the part of the store the contact endpoints use.
type ContactStore interface {
	ListContacts(ctx context.Context, accountID int64) ([]*models.Contact, error)
	UpsertContact(ctx context.Context, accountID int64, email, displayName string) error
	DeleteContact(ctx context.Context, accountID int64, email string) error
}

type ContactsHandler struct {
	store ContactStore
}

func NewContactsHandler(store ContactStore) *ContactsHandler {
	return &ContactsHandler{store: store}
}

type contactRequest struct {
	AccountID   int64  `json:"account_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func (h *ContactsHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	accountID, ok := queryInt64(w, r, "account_id", true)
	if !ok {
		return
	}

	contacts, err := h.store.ListContacts(r.Context(), accountID)
	if err != nil {
		writeError(w, "ContactsHandler", err)
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

// SaveContact adds a contact or renames an existing one.
func (h *ContactsHandler) SaveContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if req.AccountID <= 0 || email == "" {
		badRequest(w, "account_id and email are required")
		return
	}

	if err := h.store.UpsertContact(r.Context(), req.AccountID, email, strings.TrimSpace(req.DisplayName)); err != nil {
		writeError(w, "ContactsHandler", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteContact removes ?email= together with its conversation.
func (h *ContactsHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	accountID, ok := queryInt64(w, r, "account_id", true)
	if !ok {
		return
	}
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if email == "" {
		badRequest(w, "email is required")
		return
	}

	if err := h.store.DeleteContact(r.Context(), accountID, email); err != nil {
		writeError(w, "ContactsHandler", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
