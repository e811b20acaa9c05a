package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailchat/internal/models"
)

// ErrContactNotFound is returned when a requested contact cannot be found.
var ErrContactNotFound = errors.New("contact not found")

// UpsertContact records email as a known correspondent. A non-empty displayName
// replaces the stored one; an empty one leaves it untouched.
func (s *Store) UpsertContact(ctx context.Context, accountID int64, email, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO contacts (account_id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, email) DO UPDATE SET
			display_name = COALESCE(EXCLUDED.display_name, contacts.display_name)
	`, accountID, email, nullIfEmpty(displayName))
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}

	return nil
}

// ListContacts returns the contacts of an account ordered by address.
func (s *Store) ListContacts(ctx context.Context, accountID int64) ([]*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, email, display_name, created_at
		FROM contacts
		WHERE account_id = $1
		ORDER BY email
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	contacts := []*models.Contact{}
	for rows.Next() {
		var contact models.Contact
		var displayName *string
		if err := rows.Scan(&contact.ID, &contact.AccountID, &contact.Email, &displayName, &contact.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contact.DisplayName = derefString(displayName)
		contact.CreatedAt = contact.CreatedAt.UTC()
		contacts = append(contacts, &contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}

	return contacts, nil
}

// DeleteContact removes a contact together with its whole conversation.
func (s *Store) DeleteContact(ctx context.Context, accountID int64, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM contacts WHERE account_id = $1 AND email = $2`, accountID, email)
		if err != nil {
			return fmt.Errorf("failed to delete contact: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrContactNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE account_id = $1 AND contact_email = $2`, accountID, email); err != nil {
			return fmt.Errorf("failed to delete contact messages: %w", err)
		}
		return nil
	})
}
