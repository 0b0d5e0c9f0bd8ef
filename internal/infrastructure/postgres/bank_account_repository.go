package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"subsidia/internal/domain/bankaccount"
)

type BankAccountRepository struct {
	db *DB
}

func NewBankAccountRepository(db *DB) *BankAccountRepository {
	return &BankAccountRepository{db: db}
}

func (r *BankAccountRepository) Create(ctx context.Context, params bankaccount.CreateParams) (*bankaccount.BankAccount, error) {
	query := `
		INSERT INTO bank_accounts (owner_user_id, iban, name, institution_name, logo_url, requisition_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, owner_user_id, iban, name, institution_name, logo_url, requisition_ref, created_at
	`

	var account bankaccount.BankAccount
	err := r.db.QueryRowContext(ctx, query,
		params.OwnerUserID, params.IBAN, params.Name,
		params.InstitutionName, params.LogoURL, params.RequisitionRef,
	).Scan(
		&account.ID, &account.OwnerUserID, &account.IBAN, &account.Name,
		&account.InstitutionName, &account.LogoURL, &account.RequisitionRef, &account.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bank account: %w", err)
	}
	return &account, nil
}

func (r *BankAccountRepository) GetByID(ctx context.Context, id int64) (*bankaccount.BankAccount, error) {
	query := `
		SELECT id, owner_user_id, iban, name, institution_name, logo_url, requisition_ref, created_at
		FROM bank_accounts
		WHERE id = $1
	`

	var account bankaccount.BankAccount
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID, &account.OwnerUserID, &account.IBAN, &account.Name,
		&account.InstitutionName, &account.LogoURL, &account.RequisitionRef, &account.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bankaccount.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bank account: %w", err)
	}

	linked, err := r.linkedUserIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	account.LinkedUserIDs = linked
	return &account, nil
}

func (r *BankAccountRepository) linkedUserIDs(ctx context.Context, accountID int64) ([]int64, error) {
	query := `
		SELECT user_id
		FROM bank_account_members
		WHERE bank_account_id = $1
		ORDER BY user_id
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query account members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByUserID returns both owned accounts and accounts shared with the user.
func (r *BankAccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*bankaccount.BankAccount, error) {
	query := `
		SELECT DISTINCT a.id, a.owner_user_id, a.iban, a.name, a.institution_name,
		       a.logo_url, a.requisition_ref, a.created_at
		FROM bank_accounts a
		LEFT JOIN bank_account_members m ON m.bank_account_id = a.id
		WHERE a.owner_user_id = $1 OR m.user_id = $1
		ORDER BY a.created_at DESC, a.id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*bankaccount.BankAccount
	for rows.Next() {
		var account bankaccount.BankAccount
		if err := rows.Scan(
			&account.ID, &account.OwnerUserID, &account.IBAN, &account.Name,
			&account.InstitutionName, &account.LogoURL, &account.RequisitionRef, &account.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bank account: %w", err)
		}
		accounts = append(accounts, &account)
	}
	return accounts, rows.Err()
}

// Delete removes the account with its membership and every imported
// transaction in one database transaction.
func (r *BankAccountRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE bank_account_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete transactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bank_account_members WHERE bank_account_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete account members: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM bank_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bank account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return bankaccount.ErrAccountNotFound
	}

	return tx.Commit()
}

func (r *BankAccountRepository) ListMembers(ctx context.Context, accountID int64) ([]*bankaccount.Member, error) {
	query := `
		SELECT u.id, u.email, COALESCE(u.avatar_url, ''), (u.id = a.owner_user_id) AS owner
		FROM bank_accounts a
		JOIN users u ON u.id = a.owner_user_id OR u.id IN (
			SELECT user_id FROM bank_account_members WHERE bank_account_id = a.id
		)
		WHERE a.id = $1
		ORDER BY owner DESC, u.email
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list account members: %w", err)
	}
	defer rows.Close()

	var members []*bankaccount.Member
	for rows.Next() {
		var m bankaccount.Member
		if err := rows.Scan(&m.UserID, &m.Email, &m.AvatarURL, &m.Owner); err != nil {
			return nil, fmt.Errorf("failed to scan account member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// ReplaceMembers overwrites the full membership of an account. Callers
// always hand over the complete target list, never a delta.
func (r *BankAccountRepository) ReplaceMembers(ctx context.Context, accountID int64, userIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin membership transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bank_account_members WHERE bank_account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to clear account members: %w", err)
	}

	if len(userIDs) > 0 {
		query := `
			INSERT INTO bank_account_members (bank_account_id, user_id)
			SELECT $1, unnest($2::bigint[])
		`
		if _, err := tx.ExecContext(ctx, query, accountID, pq.Array(userIDs)); err != nil {
			return fmt.Errorf("failed to insert account members: %w", err)
		}
	}

	return tx.Commit()
}

func (r *BankAccountRepository) CountTransactions(ctx context.Context, accountID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE bank_account_id = $1`, accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func (r *BankAccountRepository) ListRecentTransactions(ctx context.Context, accountID int64, limit int) ([]*bankaccount.Transaction, error) {
	query := `
		SELECT id, bank_account_id, description, amount, booked_at
		FROM transactions
		WHERE bank_account_id = $1
		ORDER BY booked_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*bankaccount.Transaction
	for rows.Next() {
		var t bankaccount.Transaction
		var amount string
		if err := rows.Scan(&t.ID, &t.BankAccountID, &t.Description, &amount, &t.BookedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", amount, err)
		}
		transactions = append(transactions, &t)
	}
	return transactions, rows.Err()
}
