// Package smtp sends chat messages through the account's outgoing mail server
// and records them as outbound conversation entries.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/vdavid/mailchat/internal/db"
	apperrors "github.com/vdavid/mailchat/internal/errors"
	"github.com/vdavid/mailchat/internal/models"
)

// Store is the persistence the dispatcher reads accounts and groups from and writes sends to.
type Store interface {
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	GetGroup(ctx context.Context, accountID, groupID int64) (*models.Group, error)
	UpsertContact(ctx context.Context, accountID int64, email, displayName string) error
	InsertMessage(ctx context.Context, msg *models.Message) (db.InsertOutcome, error)
	InsertGroupMessage(ctx context.Context, msg *models.GroupMessage) error
}

// Dispatcher composes, transmits and records outbound messages.
type Dispatcher struct {
	store Store

	// Timeout bounds each SMTP command of one strategy attempt.
	Timeout time.Duration
	// DialTimeout bounds connecting; zero means DefaultDialTimeout.
	DialTimeout time.Duration
	// TLSConfig is used for implicit TLS and STARTTLS; nil means system roots.
	TLSConfig *tls.Config
	// ImplicitTLSPort decides the auto-mode order; zero means DefaultImplicitTLSPort.
	ImplicitTLSPort int

	now func() time.Time
}

// NewDispatcher creates a dispatcher writing to store.
func NewDispatcher(store Store, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		store:   store,
		Timeout: timeout,
		now:     time.Now,
	}
}

// SendMessage delivers out from the account and stores it as an outbound message
// with status sent. Nothing is stored when delivery fails.
func (d *Dispatcher) SendMessage(ctx context.Context, accountID int64, out Outgoing) (*models.Message, error) {
	account, err := d.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return d.send(ctx, account, out)
}

// SendGroupMessage sends out to every member of the group, one message per
// member, and appends one entry to the group log. The first failed member send
// aborts the rest and nothing is logged for the group.
func (d *Dispatcher) SendGroupMessage(ctx context.Context, accountID, groupID int64, out Outgoing) (*models.GroupMessage, error) {
	account, err := d.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	group, err := d.store.GetGroup(ctx, accountID, groupID)
	if errors.Is(err, db.ErrGroupNotFound) {
		return nil, apperrors.NewAppError(apperrors.ErrConfiguration, err, fmt.Sprintf("group %d not found", groupID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	if len(group.Members) == 0 {
		return nil, apperrors.Configuration("group %q has no members", group.Name)
	}

	var last *models.Message
	for _, member := range group.Members {
		memberOut := out
		memberOut.To = member
		last, err = d.send(ctx, account, memberOut)
		if err != nil {
			return nil, fmt.Errorf("group send to %s failed: %w", member, err)
		}
	}

	entry := &models.GroupMessage{
		AccountID:   accountID,
		GroupID:     groupID,
		Direction:   models.DirectionOutbound,
		SenderEmail: account.Email,
		Body:        last.Body,
		BodyHTML:    last.BodyHTML,
		SentAt:      d.now().UTC(),
	}
	if err := d.store.InsertGroupMessage(ctx, entry); err != nil {
		return nil, err
	}

	log.Printf("Dispatcher: account %d: group %d sent to %d members", accountID, groupID, len(group.Members))
	return entry, nil
}

func (d *Dispatcher) getAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	account, err := d.store.GetAccount(ctx, accountID)
	if errors.Is(err, db.ErrAccountNotFound) {
		return nil, apperrors.NewAppError(apperrors.ErrConfiguration, err, fmt.Sprintf("account %d not found", accountID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (d *Dispatcher) send(ctx context.Context, account *models.Account, out Outgoing) (*models.Message, error) {
	out.To = strings.ToLower(strings.TrimSpace(out.To))
	if out.To == "" {
		return nil, apperrors.Configuration("recipient is required")
	}

	now := d.now().UTC()
	msg, err := compose(account, out, now)
	if err != nil {
		return nil, err
	}

	strategy, err := d.negotiate(ctx, account, envelope{
		from: account.Email,
		to:   []string{out.To},
		raw:  msg.Raw,
	})
	if err != nil {
		return nil, err
	}

	if err := d.store.UpsertContact(ctx, account.ID, out.To, ""); err != nil {
		return nil, err
	}

	record := &models.Message{
		AccountID:         account.ID,
		ContactEmail:      out.To,
		Direction:         models.DirectionOutbound,
		Subject:           chatSubject,
		Body:              msg.Text,
		BodyHTML:          msg.HTML,
		SentAt:            now,
		ExternalMessageID: msg.MessageID,
		Attachments:       msg.Attachments,
		InReplyTo:         strings.TrimSpace(out.InReplyTo),
		DeliveryStatus:    models.DeliverySent,
		IsRead:            true,
	}
	outcome, err := d.store.InsertMessage(ctx, record)
	if err != nil {
		return nil, err
	}
	if outcome == db.OutcomeDuplicate {
		return nil, fmt.Errorf("message id %s already recorded", msg.MessageID)
	}

	log.Printf("Dispatcher: account %d: sent %s to %s via %s", account.ID, msg.MessageID, out.To, strategy)
	return record, nil
}

func plainAuth(account *models.Account) sasl.Client {
	return sasl.NewPlainClient("", account.LoginName(), account.SMTPPassword)
}
