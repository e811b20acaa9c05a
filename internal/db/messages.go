package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailchat/internal/models"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

// InsertOutcome tells a caller whether InsertMessage created a row.
type InsertOutcome int

const (
	// OutcomeSaved means a new row was inserted.
	OutcomeSaved InsertOutcome = iota
	// OutcomeDuplicate means (account, external_message_id) already existed; nothing changed.
	OutcomeDuplicate
)

func (o InsertOutcome) String() string {
	switch o {
	case OutcomeSaved:
		return "saved"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("InsertOutcome(%d)", int(o))
	}
}

const messageColumns = `
	id, account_id, contact_email, direction, subject, body, body_html, sent_at,
	external_message_id, attachments, in_reply_to_message_id, delivery_status,
	is_read, read_at, created_at`

// InsertMessage inserts msg. A uniqueness violation on (account_id, external_message_id)
// is reported as OutcomeDuplicate instead of an error. On OutcomeSaved, msg.ID and
// msg.CreatedAt are set.
func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) (InsertOutcome, error) {
	if msg.Attachments == nil {
		msg.Attachments = []models.AttachmentMeta{}
	}
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = models.DeliverySent
	}
	msg.SentAt = msg.SentAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (
			account_id,
			contact_email,
			direction,
			subject,
			body,
			body_html,
			sent_at,
			external_message_id,
			attachments,
			in_reply_to_message_id,
			delivery_status,
			is_read,
			read_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`,
		msg.AccountID,
		msg.ContactEmail,
		string(msg.Direction),
		msg.Subject,
		msg.Body,
		nullIfEmpty(msg.BodyHTML),
		msg.SentAt,
		msg.ExternalMessageID,
		msg.Attachments,
		nullIfEmpty(msg.InReplyTo),
		string(msg.DeliveryStatus),
		msg.IsRead,
		msg.ReadAt,
	).Scan(&msg.ID, &msg.CreatedAt)

	if isUniqueViolation(err) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	msg.CreatedAt = msg.CreatedAt.UTC()
	return OutcomeSaved, nil
}

// MarkReceiptRead transitions the outbound message with the given external identifier to
// delivery status read. read_at is written only if it was unset. Reports whether a message matched.
func (s *Store) MarkReceiptRead(ctx context.Context, accountID int64, externalMessageID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.pool.QueryRow(ctx, `
		UPDATE messages
		SET delivery_status = 'read',
			read_at = COALESCE(read_at, $3)
		WHERE account_id = $1
			AND direction = 'outbound'
			AND external_message_id = $2
		RETURNING id
	`, accountID, externalMessageID, at.UTC()).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to apply read receipt: %w", err)
	}

	return true, nil
}

// GetMessage returns a message by its database ID.
func (s *Store) GetMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessageByExternalID returns the message of an account with the given external identifier.
func (s *Store) GetMessageByExternalID(ctx context.Context, accountID int64, externalMessageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE account_id = $1 AND external_message_id = $2
	`, accountID, externalMessageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the conversation with contactEmail in insertion order.
// When sinceID > 0 only messages with a larger ID are returned.
func (s *Store) ListMessages(ctx context.Context, accountID int64, contactEmail string, sinceID int64) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE account_id = $1 AND contact_email = $2 AND id > $3
		ORDER BY id
	`, accountID, contactEmail, sinceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// MarkConversationRead marks every unread inbound message from contactEmail as read.
func (s *Store) MarkConversationRead(ctx context.Context, accountID int64, contactEmail string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE,
			read_at = COALESCE(read_at, $3)
		WHERE account_id = $1
			AND contact_email = $2
			AND direction = 'inbound'
			AND is_read = FALSE
	`, accountID, contactEmail, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}

	return tag.RowsAffected(), nil
}

// MarkMessageRead marks one inbound message as read. read_at is written only once.
func (s *Store) MarkMessageRead(ctx context.Context, accountID, messageID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE,
			read_at = COALESCE(read_at, $3)
		WHERE account_id = $1 AND id = $2 AND direction = 'inbound'
	`, accountID, messageID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}

	return nil
}

// ListChats summarizes each conversation of an account, most recent first.
func (s *Store) ListChats(ctx context.Context, accountID int64) ([]*models.ChatSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pool.Query(ctx, `
		SELECT
			m.contact_email,
			c.display_name,
			m.sent_at,
			m.body,
			(
				SELECT count(*)
				FROM messages u
				WHERE u.account_id = m.account_id
					AND u.contact_email = m.contact_email
					AND u.direction = 'inbound'
					AND u.is_read = FALSE
			) AS unread
		FROM (
			SELECT DISTINCT ON (contact_email) *
			FROM messages
			WHERE account_id = $1
			ORDER BY contact_email, sent_at DESC, id DESC
		) m
		LEFT JOIN contacts c ON c.account_id = m.account_id AND c.email = m.contact_email
		ORDER BY m.sent_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := []*models.ChatSummary{}
	for rows.Next() {
		var chat models.ChatSummary
		var displayName *string
		if err := rows.Scan(&chat.ContactEmail, &displayName, &chat.LastMessageAt, &chat.LastBody, &chat.UnreadCount); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chat.DisplayName = derefString(displayName)
		chat.LastMessageAt = chat.LastMessageAt.UTC()
		chats = append(chats, &chat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chats: %w", err)
	}

	return chats, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	var direction, status string
	var bodyHTML, inReplyTo *string

	err := row.Scan(
		&msg.ID,
		&msg.AccountID,
		&msg.ContactEmail,
		&direction,
		&msg.Subject,
		&msg.Body,
		&bodyHTML,
		&msg.SentAt,
		&msg.ExternalMessageID,
		&msg.Attachments,
		&inReplyTo,
		&status,
		&msg.IsRead,
		&msg.ReadAt,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.Direction = models.Direction(direction)
	msg.DeliveryStatus = models.DeliveryStatus(status)
	msg.BodyHTML = derefString(bodyHTML)
	msg.InReplyTo = derefString(inReplyTo)
	msg.SentAt = msg.SentAt.UTC()
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.ReadAt = utcPtr(msg.ReadAt)
	if msg.Attachments == nil {
		msg.Attachments = []models.AttachmentMeta{}
	}

	return &msg, nil
}
