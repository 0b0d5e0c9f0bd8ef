// Package bankaccount holds linked bank connections: the accounts created
// by a completed consent flow, the transactions imported through them, and
// the revocation flow that permanently removes both.
package bankaccount

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrAccountNotFound is returned when a bank account does not exist or was
// already revoked.
var ErrAccountNotFound = errors.New("bank account not found")

// BankAccount is a linked bank connection. It is owned by exactly one
// principal user (the account holder who completed the consent flow);
// LinkedUserIDs are the users permitted to view its transactions and are
// mutated only through the invitation flow's membership commit.
type BankAccount struct {
	ID              int64     `json:"id"`
	OwnerUserID     int64     `json:"ownerUserId"`
	IBAN            string    `json:"iban"`
	Name            string    `json:"name"`
	InstitutionName string    `json:"institutionName"`
	LogoURL         string    `json:"logoUrl"`
	RequisitionRef  string    `json:"-"`
	LinkedUserIDs   []int64   `json:"linkedUserIds"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Member is one entry in a shared account's membership list.
type Member struct {
	UserID    int64  `json:"userId"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Owner     bool   `json:"owner"`
}

// Transaction is a booking imported through a linked account. Amounts are
// exact decimals; they are destroyed together with the account on
// revocation.
type Transaction struct {
	ID            int64           `json:"id"`
	BankAccountID int64           `json:"bankAccountId"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	BookedAt      time.Time       `json:"bookedAt"`
}

// CreateParams are the inputs for persisting a newly linked account.
type CreateParams struct {
	OwnerUserID     int64
	IBAN            string
	Name            string
	InstitutionName string
	LogoURL         string
	RequisitionRef  string
}

// Repository is the persistence boundary for bank accounts and their
// membership. Delete removes the account, its membership rows and every
// imported transaction in a single database transaction.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*BankAccount, error)
	GetByID(ctx context.Context, id int64) (*BankAccount, error)
	ListByUserID(ctx context.Context, userID int64) ([]*BankAccount, error)
	Delete(ctx context.Context, id int64) error
	ListMembers(ctx context.Context, accountID int64) ([]*Member, error)
	ReplaceMembers(ctx context.Context, accountID int64, userIDs []int64) error
	CountTransactions(ctx context.Context, accountID int64) (int, error)
	ListRecentTransactions(ctx context.Context, accountID int64, limit int) ([]*Transaction, error)
}
