package bankaccount

import (
	"context"
	"errors"
	"fmt"
	"log"

	"subsidia/internal/infrastructure/openbanking"
)

// ErrNotOwner is returned when someone other than the principal user tries
// to revoke or share an account.
var ErrNotOwner = errors.New("only the account owner may do this")

// ErrMissingIdentifier is returned when a required identifier is absent.
// Surfaced as a specific error rather than silently doing nothing.
var ErrMissingIdentifier = errors.New("missing required identifier")

// Service contains the business logic for linked bank accounts.
type Service struct {
	repo     Repository
	provider openbanking.ClientInterface
}

func NewService(repo Repository, provider openbanking.ClientInterface) *Service {
	return &Service{repo: repo, provider: provider}
}

// ListForUser returns every account the user owns or has been given access
// to through the invitation flow.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]*BankAccount, error) {
	if userID <= 0 {
		return nil, ErrMissingIdentifier
	}
	return s.repo.ListByUserID(ctx, userID)
}

// Detail is an account plus the membership and history size shown in the
// revocation warning and the invitation flow.
type Detail struct {
	Account            *BankAccount   `json:"account"`
	Members            []*Member      `json:"members"`
	TransactionCount   int            `json:"transactionCount"`
	RecentTransactions []*Transaction `json:"recentTransactions"`
}

const recentTransactionLimit = 10

// GetDetail returns an account with its membership, restricted to members.
func (s *Service) GetDetail(ctx context.Context, userID, accountID int64) (*Detail, error) {
	if userID <= 0 || accountID <= 0 {
		return nil, ErrMissingIdentifier
	}

	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Visible(userID) {
		return nil, ErrAccountNotFound
	}

	members, err := s.repo.ListMembers(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load members for account %d: %w", accountID, err)
	}
	count, err := s.repo.CountTransactions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions for account %d: %w", accountID, err)
	}
	recent, err := s.repo.ListRecentTransactions(ctx, accountID, recentTransactionLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for account %d: %w", accountID, err)
	}

	return &Detail{
		Account:            account,
		Members:            members,
		TransactionCount:   count,
		RecentTransactions: recent,
	}, nil
}

// Visible reports whether the user may see this account.
func (a *BankAccount) Visible(userID int64) bool {
	if a.OwnerUserID == userID {
		return true
	}
	for _, id := range a.LinkedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// LinkFromConsent persists the account behind a successfully completed
// consent session.
func (s *Service) LinkFromConsent(ctx context.Context, params CreateParams) (*BankAccount, error) {
	if params.OwnerUserID <= 0 {
		return nil, ErrMissingIdentifier
	}
	account, err := s.repo.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to persist linked account: %w", err)
	}
	log.Printf("User %d: linked bank account %d (%s)", params.OwnerUserID, account.ID, account.InstitutionName)
	return account, nil
}

// ReplaceMembers writes the complete target membership of a shared
// account. This is a full-replacement write, never a delta; callers hand
// over the final list.
func (s *Service) ReplaceMembers(ctx context.Context, ownerID, accountID int64, userIDs []int64) error {
	if ownerID <= 0 || accountID <= 0 {
		return ErrMissingIdentifier
	}
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.OwnerUserID != ownerID {
		return ErrNotOwner
	}
	return s.repo.ReplaceMembers(ctx, accountID, userIDs)
}

// revoke deletes the provider-side consent and then the account with all
// of its imported transactions. A consent the provider already forgot is
// not an error; the local data still has to go.
func (s *Service) revoke(ctx context.Context, account *BankAccount) error {
	if account.RequisitionRef != "" {
		err := s.provider.DeleteRequisition(ctx, account.RequisitionRef)
		if err != nil && !errors.Is(err, openbanking.ErrRequisitionNotFound) {
			return fmt.Errorf("failed to revoke provider consent: %w", err)
		}
	}
	if err := s.repo.Delete(ctx, account.ID); err != nil {
		return err
	}
	log.Printf("User %d: revoked bank account %d and its transaction history", account.OwnerUserID, account.ID)
	return nil
}
