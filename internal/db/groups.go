package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailchat/internal/models"
)

var (
	// ErrGroupNotFound is returned when a requested group cannot be found.
	ErrGroupNotFound = errors.New("group not found")
	// ErrGroupExists is returned when the account already has a group with that name.
	ErrGroupExists = errors.New("group already exists")
)

// CreateGroup inserts a group with its members. Member addresses are lowercased and deduplicated.
func (s *Store) CreateGroup(ctx context.Context, accountID int64, name string, members []string) (*models.Group, error) {
	group := &models.Group{
		AccountID: accountID,
		Name:      strings.TrimSpace(name),
		Members:   normalizeMembers(members),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO chat_groups (account_id, name)
			VALUES ($1, $2)
			RETURNING id, created_at
		`, accountID, group.Name).Scan(&group.ID, &group.CreatedAt)
		if isUniqueViolation(err) {
			return ErrGroupExists
		}
		if err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}

		for _, member := range group.Members {
			if _, err := tx.Exec(ctx, `
				INSERT INTO group_members (group_id, email) VALUES ($1, $2)
			`, group.ID, member); err != nil {
				return fmt.Errorf("failed to add group member: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	group.CreatedAt = group.CreatedAt.UTC()
	return group, nil
}

// GetGroup returns a group of the account with its members.
func (s *Store) GetGroup(ctx context.Context, accountID, groupID int64) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var group models.Group
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, name, created_at
		FROM chat_groups
		WHERE id = $1 AND account_id = $2
	`, groupID, accountID).Scan(&group.ID, &group.AccountID, &group.Name, &group.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	group.CreatedAt = group.CreatedAt.UTC()

	rows, err := s.pool.Query(ctx, `SELECT email FROM group_members WHERE group_id = $1 ORDER BY email`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	group.Members, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan group members: %w", err)
	}

	return &group, nil
}

// ListGroups returns the groups of an account with their members.
func (s *Store) ListGroups(ctx context.Context, accountID int64) ([]*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.account_id, g.name, g.created_at,
			COALESCE(array_agg(m.email ORDER BY m.email) FILTER (WHERE m.email IS NOT NULL), '{}')
		FROM chat_groups g
		LEFT JOIN group_members m ON m.group_id = g.id
		WHERE g.account_id = $1
		GROUP BY g.id
		ORDER BY g.name
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := []*models.Group{}
	for rows.Next() {
		var group models.Group
		if err := rows.Scan(&group.ID, &group.AccountID, &group.Name, &group.CreatedAt, &group.Members); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		group.CreatedAt = group.CreatedAt.UTC()
		groups = append(groups, &group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}

	return groups, nil
}

// DeleteGroup removes a group, its members and its message log.
func (s *Store) DeleteGroup(ctx context.Context, accountID, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_groups WHERE id = $1 AND account_id = $2`, groupID, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// InsertGroupMessage appends to the group conversation log and sets msg.ID.
func (s *Store) InsertGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	msg.SentAt = msg.SentAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.pool.QueryRow(ctx, `
		INSERT INTO group_messages (account_id, group_id, direction, sender_email, body, body_html, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		msg.AccountID,
		msg.GroupID,
		string(msg.Direction),
		msg.SenderEmail,
		msg.Body,
		nullIfEmpty(msg.BodyHTML),
		msg.SentAt,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to insert group message: %w", err)
	}

	return nil
}

// ListGroupMessages returns the log of a group in insertion order.
func (s *Store) ListGroupMessages(ctx context.Context, accountID, groupID int64) ([]*models.GroupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, group_id, direction, sender_email, body, body_html, sent_at
		FROM group_messages
		WHERE account_id = $1 AND group_id = $2
		ORDER BY id
	`, accountID, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.GroupMessage{}
	for rows.Next() {
		var msg models.GroupMessage
		var direction string
		var bodyHTML *string
		if err := rows.Scan(&msg.ID, &msg.AccountID, &msg.GroupID, &direction, &msg.SenderEmail, &msg.Body, &bodyHTML, &msg.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan group message: %w", err)
		}
		msg.Direction = models.Direction(direction)
		msg.BodyHTML = derefString(bodyHTML)
		msg.SentAt = msg.SentAt.UTC()
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group messages: %w", err)
	}

	return messages, nil
}

func normalizeMembers(members []string) []string {
	seen := make(map[string]bool, len(members))
	result := make([]string, 0, len(members))
	for _, member := range members {
		member = strings.ToLower(strings.TrimSpace(member))
		if member == "" || seen[member] {
			continue
		}
		seen[member] = true
		result = append(result, member)
	}
	sort.Strings(result)
	return result
}
