package api

import (
	"context"
	"net/http"

	"github.com/vdavid/mailchat/internal/imap"
	"github.com/vdavid/mailchat/internal/poller"
)

// Syncer runs syncs on request. The poller implements it, so a manual sync never
// overlaps a scheduled one for the same account.
type Syncer interface {
	SyncAccount(ctx context.Context, accountID int64) (int, error)
	RunOnce(ctx context.Context) (poller.Round, error)
}

// StatusSource reports the sync state of accounts.
type StatusSource interface {
	SyncStatus(accountID int64) imap.SyncStatus
	SyncStatuses() []imap.SyncStatus
}

// SyncHandler triggers syncs and reports their state.
type SyncHandler struct {
	syncer Syncer
	status StatusSource
}

func NewSyncHandler(syncer Syncer, status StatusSource) *SyncHandler {
	return &SyncHandler{syncer: syncer, status: status}
}

type syncRequest struct {
	AccountID int64 `json:"account_id"`
}

type syncResponse struct {
	AccountID int64 `json:"account_id"`
	Saved     int   `json:"saved"`
}

type roundResponse struct {
	Accounts int `json:"accounts"`
	Synced   int `json:"synced"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Saved    int `json:"saved"`
}

// Sync polls one account, or every account when the body names none.
// A sync already running for the account answers 409.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	if req.AccountID == 0 {
		round, err := h.syncer.RunOnce(r.Context())
		if err != nil {
			writeError(w, "SyncHandler", err)
			return
		}
		writeJSON(w, http.StatusOK, roundResponse(round))
		return
	}

	saved, err := h.syncer.SyncAccount(r.Context(), req.AccountID)
	if err != nil {
		writeError(w, "SyncHandler", err)
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{AccountID: req.AccountID, Saved: saved})
}

// GetStatus returns the status of ?account_id=, or of every account seen so far.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := queryInt64(w, r, "account_id", false)
	if !ok {
		return
	}

	if accountID > 0 {
		writeJSON(w, http.StatusOK, h.status.SyncStatus(accountID))
		return
	}
	writeJSON(w, http.StatusOK, h.status.SyncStatuses())
}
