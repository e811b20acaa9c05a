package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailchat/internal/models"
)

var (
	// ErrAccountNotFound is returned when a requested account cannot be found.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when an account with the same address already exists.
	ErrAccountExists = errors.New("account already exists")
)

const accountColumns = `
	id, name, email, login, imap_host, imap_port, encrypted_imap_password,
	smtp_host, smtp_port, encrypted_smtp_password, use_ssl, smtp_security, created_at`

// CreateAccount seals the passwords and inserts the account, setting its ID and CreatedAt.
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	sealedIMAP, err := s.sealer.Seal(account.Email, account.IMAPPassword)
	if err != nil {
		return fmt.Errorf("failed to seal IMAP password: %w", err)
	}
	sealedSMTP, err := s.sealer.Seal(account.Email, account.SMTPPassword)
	if err != nil {
		return fmt.Errorf("failed to seal SMTP password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.pool.QueryRow(ctx, `
		INSERT INTO accounts (
			name, email, login, imap_host, imap_port, encrypted_imap_password,
			smtp_host, smtp_port, encrypted_smtp_password, use_ssl, smtp_security
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`,
		account.Name,
		account.Email,
		account.Login,
		account.IMAPHost,
		account.IMAPPort,
		sealedIMAP,
		account.SMTPHost,
		account.SMTPPort,
		sealedSMTP,
		account.UseTLS,
		string(account.SMTPSecurity),
	).Scan(&account.ID, &account.CreatedAt)

	if isUniqueViolation(err) {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	account.CreatedAt = account.CreatedAt.UTC()
	return nil
}

// GetAccount returns the account with decrypted passwords.
func (s *Store) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	account, err := s.scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ListAccounts returns all accounts ordered by ID, with decrypted passwords.
func (s *Store) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// UpdateAccountSecurity changes the transport security mode, the only mutable account field.
func (s *Store) UpdateAccountSecurity(ctx context.Context, accountID int64, mode models.SecurityMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET smtp_security = $2 WHERE id = $1`, accountID, string(mode))
	if err != nil {
		return fmt.Errorf("failed to update account security: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Store) scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	var sealedIMAP, sealedSMTP []byte
	var security string

	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.Login,
		&account.IMAPHost,
		&account.IMAPPort,
		&sealedIMAP,
		&account.SMTPHost,
		&account.SMTPPort,
		&sealedSMTP,
		&account.UseTLS,
		&security,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	account.SMTPSecurity = models.SecurityMode(security)
	account.CreatedAt = account.CreatedAt.UTC()

	if account.IMAPPassword, err = s.sealer.Open(account.Email, sealedIMAP); err != nil {
		return nil, fmt.Errorf("failed to open IMAP password for account %d: %w", account.ID, err)
	}
	if account.SMTPPassword, err = s.sealer.Open(account.Email, sealedSMTP); err != nil {
		return nil, fmt.Errorf("failed to open SMTP password for account %d: %w", account.ID, err)
	}

	return &account, nil
}
