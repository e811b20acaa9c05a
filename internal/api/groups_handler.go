package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/vdavid/mailchat/internal/models"
)

// GroupStore is the part of the store the group endpoints use.
type GroupStore interface {
	CreateGroup(ctx context.Context, accountID int64, name string, members []string) (*models.Group, error)
	ListGroups(ctx context.Context, accountID int64) ([]*models.Group, error)
	DeleteGroup(ctx context.Context, accountID, groupID int64) error
	ListGroupMessages(ctx context.Context, accountID, groupID int64) ([]*models.GroupMessage, error)
}

// GroupsHandler manages groups and their send log.
type GroupsHandler struct {
	store GroupStore
}

func NewGroupsHandler(store GroupStore) *GroupsHandler {
	return &GroupsHandler{store: store}
}

type groupRequest struct {
	AccountID int64    `json:"account_id"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
}

func (h *GroupsHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	accountID, ok := queryInt64(w, r, "account_id", true)
	if !ok {
		return
	}

	groups, err := h.store.ListGroups(r.Context(), accountID)
	if err != nil {
		writeError(w, "GroupsHandler", err)
		return
	}

	writeJSON(w, http.StatusOK, groups)
}

// CreateGroup needs a name and at least one member.
func (h *GroupsHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AccountID <= 0 || strings.TrimSpace(req.Name) == "" {
		badRequest(w, "account_id and name are required")
		return
	}

	members := make([]string, 0, len(req.Members))
	for _, m := range req.Members {
		if m = strings.TrimSpace(m); m != "" {
			members = append(members, m)
		}
	}
	if len(members) == 0 {
		badRequest(w, "a group needs at least one member")
		return
	}

	group, err := h.store.CreateGroup(r.Context(), req.AccountID, req.Name, members)
	if err != nil {
		writeError(w, "GroupsHandler", err)
		return
	}

	writeJSON(w, http.StatusCreated, group)
}

func (h *GroupsHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	accountID, ok := queryInt64(w, r, "account_id", true)
	if !ok {
		return
	}
	groupID, ok := queryInt64(w, r, "id", true)
	if !ok {
		return
	}

	if err := h.store.DeleteGroup(r.Context(), accountID, groupID); err != nil {
		writeError(w, "GroupsHandler", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListGroupMessages returns the send log of ?group_id=.
func (h *GroupsHandler) ListGroupMessages(w http.ResponseWriter, r *http.Request) {
	accountID, ok := queryInt64(w, r, "account_id", true)
	if !ok {
		return
	}
	groupID, ok := queryInt64(w, r, "group_id", true)
	if !ok {
		return
	}

	messages, err := h.store.ListGroupMessages(r.Context(), accountID, groupID)
	if err != nil {
		writeError(w, "GroupsHandler", err)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}
