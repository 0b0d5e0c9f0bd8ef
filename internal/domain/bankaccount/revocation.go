package bankaccount

import (
	"context"
	"errors"
	"sync"
)

// RevocationState is the state of a delete-bank-account wizard.
type RevocationState int

const (
	RevocationConfirmPending RevocationState = iota
	RevocationDeleting
	RevocationDeleted
	RevocationCancelled
)

func (s RevocationState) String() string {
	switch s {
	case RevocationConfirmPending:
		return "confirm-pending"
	case RevocationDeleting:
		return "deleting"
	case RevocationDeleted:
		return "deleted"
	case RevocationCancelled:
		return "cancelled"
	}
	return "unknown"
}

var (
	// ErrRevocationInFlight is returned when confirm is pressed while the
	// delete is already running.
	ErrRevocationInFlight = errors.New("revocation already in flight")
	// ErrRevocationFinished is returned for actions on a terminal flow.
	ErrRevocationFinished = errors.New("revocation flow already finished")
)

// RevocationFlow is the two-step wizard that permanently removes a linked
// bank account together with every transaction imported through it.
// ConfirmPending -> Deleting -> Deleted, terminal on Deleted; backing out
// of the confirmation moves to Cancelled.
type RevocationFlow struct {
	svc     *Service
	account *BankAccount

	mu      sync.Mutex
	state   RevocationState
	loading bool
	// TransactionCount is shown in the non-reversible-action warning.
	TransactionCount int
}

// StartRevocation opens a revocation wizard. Only the principal user may
// revoke, and all identifiers must be present; both failures are explicit.
func (s *Service) StartRevocation(ctx context.Context, userID, accountID int64) (*RevocationFlow, error) {
	if userID <= 0 || accountID <= 0 {
		return nil, ErrMissingIdentifier
	}

	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.OwnerUserID != userID {
		return nil, ErrNotOwner
	}

	count, err := s.repo.CountTransactions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &RevocationFlow{
		svc:              s,
		account:          account,
		state:            RevocationConfirmPending,
		TransactionCount: count,
	}, nil
}

// Confirm executes the delete. While the delete is in flight further
// confirms are rejected, so a double click cannot submit twice. Any
// failure, including an account the backend no longer knows, leaves the
// flow on the confirmation step with loading cleared so the user can retry,
// and the error is returned to be shown.
func (f *RevocationFlow) Confirm(ctx context.Context) error {
	f.mu.Lock()
	if f.loading {
		f.mu.Unlock()
		return ErrRevocationInFlight
	}
	if f.state != RevocationConfirmPending {
		f.mu.Unlock()
		return ErrRevocationFinished
	}
	f.loading = true
	f.state = RevocationDeleting
	f.mu.Unlock()

	err := f.svc.revoke(ctx, f.account)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.loading = false
	if err != nil {
		f.state = RevocationConfirmPending
		return err
	}
	f.state = RevocationDeleted
	return nil
}

// Cancel backs out of the confirmation step.
func (f *RevocationFlow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != RevocationConfirmPending || f.loading {
		return ErrRevocationFinished
	}
	f.state = RevocationCancelled
	return nil
}

// State returns the current flow state.
func (f *RevocationFlow) State() RevocationState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Loading reports whether the delete is in flight.
func (f *RevocationFlow) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

// Step maps the state onto the wizard's two screens: 1 is the warning and
// confirmation, 2 the static deleted confirmation. There is no automatic
// redirect from step 2; the user navigates back to the overview themselves.
func (f *RevocationFlow) Step() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == RevocationDeleted {
		return 2
	}
	return 1
}

// Account returns the account under revocation.
func (f *RevocationFlow) Account() *BankAccount {
	return f.account
}
