package api

import (
	"context"
	"log"
	"net/http"

	"github.com/vdavid/mailchat/internal/models"
)

// AccountStore is the part of the store the account endpoints use.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	UpdateAccountSecurity(ctx context.Context, accountID int64, mode models.SecurityMode) error
}

// AccountsHandler handles account creation, listing and the security-mode switch.
type AccountsHandler struct {
	store AccountStore
}

func NewAccountsHandler(store AccountStore) *AccountsHandler {
	return &AccountsHandler{store: store}
}

// CreateAccount validates the request, stores the account with sealed passwords and
// returns it with 201.
func (h *AccountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req models.AccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := req.ToAccount()
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	if err := h.store.CreateAccount(r.Context(), account); err != nil {
		writeError(w, "AccountsHandler", err)
		return
	}

	log.Printf("AccountsHandler: created account %d for %s", account.ID, account.Email)
	writeJSON(w, http.StatusCreated, account)
}

func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, "AccountsHandler", err)
		return
	}

	writeJSON(w, http.StatusOK, accounts)
}

type securityRequest struct {
	AccountID    int64  `json:"account_id"`
	SMTPSecurity string `json:"smtp_security"`
}

// UpdateSecurity changes how the account's outbound connection is secured.
func (h *AccountsHandler) UpdateSecurity(w http.ResponseWriter, r *http.Request) {
	var req securityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AccountID <= 0 {
		badRequest(w, "account_id is required")
		return
	}

	mode, err := models.ParseSecurityMode(req.SMTPSecurity)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}

	if err := h.store.UpdateAccountSecurity(r.Context(), req.AccountID, mode); err != nil {
		writeError(w, "AccountsHandler", err)
		return
	}

	writeJSON(w, http.StatusOK, securityRequest{AccountID: req.AccountID, SMTPSecurity: string(mode)})
}
