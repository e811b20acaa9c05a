package api

import (
	"context"
	"net/http"

	"github.com/vdavid/mailchat/internal/mailchat"
	"github.com/vdavid/mailchat/internal/models"
)

// Sender delivers outbound chat messages.
type Sender interface {
	SendMessage(ctx context.Context, req mailchat.SendRequest) (*models.Message, error)
	SendGroupMessage(ctx context.Context, req mailchat.SendRequest) (*models.GroupMessage, error)
}

// SendHandler handles one-to-one and group sends.
type SendHandler struct {
	sender Sender
}

func NewSendHandler(sender Sender) *SendHandler {
	return &SendHandler{sender: sender}
}

// Send delivers one message and returns the stored outbound record with 201.
// Transport failures answer 502; nothing is stored for them.
func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req mailchat.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AccountID <= 0 {
		badRequest(w, "account_id is required")
		return
	}

	msg, err := h.sender.SendMessage(r.Context(), req)
	if err != nil {
		writeError(w, "SendHandler", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// SendGroup delivers the message to every member of group_id.
func (h *SendHandler) SendGroup(w http.ResponseWriter, r *http.Request) {
	var req mailchat.SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AccountID <= 0 || req.GroupID <= 0 {
		badRequest(w, "account_id and group_id are required")
		return
	}

	msg, err := h.sender.SendGroupMessage(r.Context(), req)
	if err != nil {
		writeError(w, "SendHandler", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}
