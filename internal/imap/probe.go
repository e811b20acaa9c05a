package imap

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vdavid/mailchat/internal/db"
	apperrors "github.com/vdavid/mailchat/internal/errors"
)

// MailboxInfo describes an account's INBOX as the sync engine sees it.
type MailboxInfo struct {
	AccountID    int64    `json:"account_id"`
	Capabilities []string `json:"capabilities"`
	Messages     uint32   `json:"messages"`
	UIDValidity  uint32   `json:"uid_validity"`
	UIDNext      uint32   `json:"uid_next"`
	Watermark    uint32   `json:"watermark"`
	// Pending counts items above the watermark, before the fetch limit applies.
	Pending int `json:"pending"`
}

// Probe logs in, selects INBOX and reports what the next sync would see.
// It changes nothing.
func (s *Service) Probe(ctx context.Context, accountID int64) (*MailboxInfo, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, db.ErrAccountNotFound) {
		return nil, apperrors.NewAppError(apperrors.ErrConfiguration, err, fmt.Sprintf("account %d not found", accountID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	watermark, err := s.store.GetSyncWatermark(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync watermark: %w", err)
	}

	c, err := openInbox(account, s.Timeout, s.TLSConfig)
	if err != nil {
		return nil, err
	}
	defer closeSession(c)

	caps, err := c.Capability()
	if err != nil {
		return nil, classifyError(err, "CAPABILITY failed")
	}

	info := &MailboxInfo{
		AccountID:    accountID,
		Capabilities: make([]string, 0, len(caps)),
		Watermark:    watermark.LastUID,
	}
	for name, ok := range caps {
		if ok {
			info.Capabilities = append(info.Capabilities, name)
		}
	}
	sort.Strings(info.Capabilities)

	if mbox := c.Mailbox(); mbox != nil {
		info.Messages = mbox.Messages
		info.UIDValidity = mbox.UidValidity
		info.UIDNext = mbox.UidNext
	}

	found, err := SearchUIDsSince(c, watermark.LastUID+1)
	if err != nil {
		return nil, classifyError(err, "UID search failed")
	}
	info.Pending = len(selectUnseen(found, watermark.LastUID, 0))

	return info, nil
}
