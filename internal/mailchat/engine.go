// Package mailchat ties the sync engine and the transport dispatcher together
// behind the three operations the HTTP layer, the CLI and the poller call.
package mailchat

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/vdavid/mailchat/internal/config"
	"github.com/vdavid/mailchat/internal/imap"
	"github.com/vdavid/mailchat/internal/models"
	"github.com/vdavid/mailchat/internal/smtp"
)

// Store is everything the engine persists through. *db.Store satisfies it.
type Store interface {
	imap.Store
	smtp.Store
}

// Options tune the engine. Zero values fall back to the package defaults.
type Options struct {
	IMAPTimeout time.Duration
	SMTPTimeout time.Duration
	FetchLimit  int
	// TLSConfig applies to both mailbox and transport connections.
	TLSConfig       *tls.Config
	ImplicitTLSPort int
}

// OptionsFromConfig takes timeouts and the fetch limit from process configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		IMAPTimeout: cfg.IMAPTimeout,
		SMTPTimeout: cfg.SMTPTimeout,
		FetchLimit:  cfg.FetchLimit,
	}
}

// SendRequest is one outbound chat message. GroupID is only read by SendGroupMessage.
type SendRequest struct {
	AccountID   int64                       `json:"account_id"`
	To          string                      `json:"to"`
	GroupID     int64                       `json:"group_id,omitempty"`
	Body        string                      `json:"body"`
	IsHTML      bool                        `json:"is_html"`
	Attachments []models.OutboundAttachment `json:"attachments,omitempty"`
	InReplyTo   string                      `json:"reply_to_message_id,omitempty"`
}

func (r SendRequest) outgoing() smtp.Outgoing {
	return smtp.Outgoing{
		To:          r.To,
		Body:        r.Body,
		IsHTML:      r.IsHTML,
		Attachments: r.Attachments,
		InReplyTo:   r.InReplyTo,
	}
}

// Engine is safe for concurrent use. Syncing one account twice at the same time is
// harmless for the data but wasteful; the poller avoids it.
type Engine struct {
	sync       *imap.Service
	dispatcher *smtp.Dispatcher
}

// New builds an engine over store.
func New(store Store, opts Options) *Engine {
	syncService := imap.NewService(store, opts.IMAPTimeout, opts.FetchLimit)
	syncService.TLSConfig = opts.TLSConfig

	dispatcher := smtp.NewDispatcher(store, opts.SMTPTimeout)
	dispatcher.TLSConfig = opts.TLSConfig
	dispatcher.ImplicitTLSPort = opts.ImplicitTLSPort

	return &Engine{sync: syncService, dispatcher: dispatcher}
}

// SyncAccount pulls new INBOX mail for one account and returns how many messages were saved.
func (e *Engine) SyncAccount(ctx context.Context, accountID int64) (int, error) {
	return e.sync.SyncAccount(ctx, accountID)
}

// SendMessage sends req to req.To and returns the stored outbound message.
func (e *Engine) SendMessage(ctx context.Context, req SendRequest) (*models.Message, error) {
	return e.dispatcher.SendMessage(ctx, req.AccountID, req.outgoing())
}

// SendGroupMessage sends req to every member of req.GroupID and returns the group log entry.
func (e *Engine) SendGroupMessage(ctx context.Context, req SendRequest) (*models.GroupMessage, error) {
	return e.dispatcher.SendGroupMessage(ctx, req.AccountID, req.GroupID, req.outgoing())
}

// SyncStatus reports where an account is in its sync cycle.
func (e *Engine) SyncStatus(accountID int64) imap.SyncStatus {
	return e.sync.Status(accountID)
}

// SyncStatuses reports every account synced since startup.
func (e *Engine) SyncStatuses() []imap.SyncStatus {
	return e.sync.Statuses()
}

// Probe reports what the next sync of an account would see, without syncing.
func (e *Engine) Probe(ctx context.Context, accountID int64) (*imap.MailboxInfo, error) {
	return e.sync.Probe(ctx, accountID)
}
