package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vdavid/mailchat/internal/classify"
	"github.com/vdavid/mailchat/internal/db"
	apperrors "github.com/vdavid/mailchat/internal/errors"
	"github.com/vdavid/mailchat/internal/extract"
	"github.com/vdavid/mailchat/internal/models"
)

// DefaultFetchLimit caps how many unseen items one poll processes.
const DefaultFetchLimit = 200

// Store is the persistence the sync engine reads from and writes to.
type Store interface {
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	GetSettings(ctx context.Context) (models.Settings, error)
	GetSyncWatermark(ctx context.Context, accountID int64) (models.SyncWatermark, error)
	AdvanceSyncWatermark(ctx context.Context, accountID int64, uid uint32) (models.SyncWatermark, error)
	UpsertContact(ctx context.Context, accountID int64, email, displayName string) error
	InsertMessage(ctx context.Context, msg *models.Message) (db.InsertOutcome, error)
	MarkReceiptRead(ctx context.Context, accountID int64, externalMessageID string, at time.Time) (bool, error)
}

// Service pulls new INBOX mail into the store, one account at a time.
type Service struct {
	store Store

	// Timeout bounds every IMAP command.
	Timeout time.Duration
	// FetchLimit caps the batch size; older unseen items beyond it are skipped for good.
	FetchLimit int
	// TLSConfig is used for implicit-TLS connections; nil means system defaults.
	TLSConfig *tls.Config

	status *statusTracker
	now    func() time.Time
}

// NewService creates a new sync service.
func NewService(store Store, timeout time.Duration, fetchLimit int) *Service {
	if fetchLimit <= 0 {
		fetchLimit = DefaultFetchLimit
	}
	return &Service{
		store:      store,
		Timeout:    timeout,
		FetchLimit: fetchLimit,
		status:     newStatusTracker(),
		now:        time.Now,
	}
}

// itemOutcome is what happened to one fetched item.
type itemOutcome int

const (
	itemSaved itemOutcome = iota
	itemDuplicate
	itemSkipped
	itemReceipt
)

// SyncAccount fetches INBOX items above the account's watermark, stores the
// chat-worthy ones and advances the watermark. It returns the number of new
// messages. On error nothing after the last stored item is committed and the
// watermark stays where it was.
func (s *Service) SyncAccount(ctx context.Context, accountID int64) (int, error) {
	saved, err := s.syncAccount(ctx, accountID)
	if err != nil {
		s.status.fail(accountID, err)
		return 0, err
	}
	s.status.succeed(accountID, saved)
	return saved, nil
}

func (s *Service) syncAccount(ctx context.Context, accountID int64) (int, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, db.ErrAccountNotFound) {
		return 0, apperrors.NewAppError(apperrors.ErrConfiguration, err, fmt.Sprintf("account %d not found", accountID))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get account: %w", err)
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get settings: %w", err)
	}

	watermark, err := s.store.GetSyncWatermark(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to get sync watermark: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.status.set(accountID, StateConnecting)
	c, err := openInbox(account, s.Timeout, s.TLSConfig)
	if err != nil {
		return 0, err
	}
	defer closeSession(c)

	s.status.set(accountID, StateFetching)
	found, err := SearchUIDsSince(c, watermark.LastUID+1)
	if err != nil {
		return 0, classifyError(err, "UID search failed")
	}

	uids := selectUnseen(found, watermark.LastUID, s.FetchLimit)
	if len(uids) == 0 {
		return 0, nil
	}
	highest := uids[len(uids)-1]

	items, err := FetchRaw(c, uids)
	if err != nil {
		return 0, classifyError(err, "UID fetch failed")
	}

	s.status.set(accountID, StateProcessing)
	saved := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		outcome, err := s.processItem(ctx, account, settings, item)
		if err != nil {
			return 0, err
		}
		if outcome == itemSaved {
			saved++
		}
	}

	s.status.set(accountID, StateCommitting)
	if _, err := s.store.AdvanceSyncWatermark(ctx, accountID, highest); err != nil {
		return 0, fmt.Errorf("failed to advance sync watermark: %w", err)
	}

	log.Printf("SyncEngine: account %d: fetched %d, saved %d, watermark %d", accountID, len(items), saved, highest)
	return saved, nil
}

// processItem routes one fetched item through classification and extraction.
// Only store failures are returned as errors; everything else is an outcome.
func (s *Service) processItem(ctx context.Context, account *models.Account, settings models.Settings, item rawMessage) (itemOutcome, error) {
	if len(item.Raw) == 0 {
		return itemSkipped, nil
	}

	msg, err := parseMessage(item.UID, item.Raw, s.now())
	if err != nil {
		log.Printf("Warning: SyncEngine: account %d: %v", account.ID, err)
		return itemSkipped, nil
	}

	result := classify.Classify(msg.Envelope, msg.Content, settings)
	if result.Kind == classify.Receipt {
		return itemReceipt, s.applyReceipt(ctx, account.ID, result.ReceiptRefs)
	}

	if msg.From == "" || msg.From == normalizeAddress(account.Email) {
		return itemSkipped, nil
	}
	if result.Kind == classify.Noise {
		return itemSkipped, nil
	}

	content := extract.Extract(msg.Root, settings.StripReplies)
	if content.IsEmpty() {
		return itemSkipped, nil
	}

	if err := s.store.UpsertContact(ctx, account.ID, msg.From, msg.FromName); err != nil {
		return itemSkipped, err
	}

	outcome, err := s.store.InsertMessage(ctx, &models.Message{
		AccountID:         account.ID,
		ContactEmail:      msg.From,
		Direction:         models.DirectionInbound,
		Subject:           msg.Subject,
		Body:              content.Text,
		BodyHTML:          content.HTML,
		SentAt:            msg.SentAt,
		ExternalMessageID: msg.MessageID,
		Attachments:       content.Attachments,
		InReplyTo:         msg.InReplyTo,
		DeliveryStatus:    models.DeliverySent,
	})
	if err != nil {
		return itemSkipped, err
	}
	if outcome == db.OutcomeDuplicate {
		return itemDuplicate, nil
	}
	return itemSaved, nil
}

// applyReceipt marks the first outbound message matching a reference as read.
// A receipt matching nothing is dropped.
func (s *Service) applyReceipt(ctx context.Context, accountID int64, refs []string) error {
	at := s.now().UTC()
	for _, ref := range refs {
		matched, err := s.store.MarkReceiptRead(ctx, accountID, ref, at)
		if err != nil {
			return err
		}
		if matched {
			return nil
		}
	}
	return nil
}

// Status returns the sync state of one account.
func (s *Service) Status(accountID int64) SyncStatus {
	return s.status.get(accountID)
}

// Statuses returns the sync state of every account synced since startup.
func (s *Service) Statuses() []SyncStatus {
	return s.status.all()
}
