package bankaccount

import (
	"context"
	"errors"
	"sync"
	"testing"

	"subsidia/internal/infrastructure/openbanking"
)

// MockRepo implements Repository
type MockRepo struct {
	CreateFunc            func(ctx context.Context, params CreateParams) (*BankAccount, error)
	GetByIDFunc           func(ctx context.Context, id int64) (*BankAccount, error)
	ListByUserIDFunc      func(ctx context.Context, userID int64) ([]*BankAccount, error)
	DeleteFunc            func(ctx context.Context, id int64) error
	ListMembersFunc       func(ctx context.Context, accountID int64) ([]*Member, error)
	ReplaceMembersFunc    func(ctx context.Context, accountID int64, userIDs []int64) error
	CountTransactionsFunc func(ctx context.Context, accountID int64) (int, error)
}

func (m *MockRepo) Create(ctx context.Context, params CreateParams) (*BankAccount, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, params)
	}
	return &BankAccount{ID: 1, OwnerUserID: params.OwnerUserID}, nil
}

func (m *MockRepo) GetByID(ctx context.Context, id int64) (*BankAccount, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, ErrAccountNotFound
}

func (m *MockRepo) ListByUserID(ctx context.Context, userID int64) ([]*BankAccount, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockRepo) Delete(ctx context.Context, id int64) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockRepo) ListMembers(ctx context.Context, accountID int64) ([]*Member, error) {
	if m.ListMembersFunc != nil {
		return m.ListMembersFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *MockRepo) ReplaceMembers(ctx context.Context, accountID int64, userIDs []int64) error {
	if m.ReplaceMembersFunc != nil {
		return m.ReplaceMembersFunc(ctx, accountID, userIDs)
	}
	return nil
}

func (m *MockRepo) CountTransactions(ctx context.Context, accountID int64) (int, error) {
	if m.CountTransactionsFunc != nil {
		return m.CountTransactionsFunc(ctx, accountID)
	}
	return 0, nil
}

func (m *MockRepo) ListRecentTransactions(ctx context.Context, accountID int64, limit int) ([]*Transaction, error) {
	return nil, nil
}

// MockProvider implements openbanking.ClientInterface
type MockProvider struct {
	DeleteRequisitionFunc func(ctx context.Context, ref string) error
}

func (m *MockProvider) ListInstitutions(ctx context.Context) ([]openbanking.Institution, error) {
	return nil, nil
}

func (m *MockProvider) CreateRequisition(ctx context.Context, params openbanking.CreateRequisitionParams) (*openbanking.Requisition, error) {
	return nil, nil
}

func (m *MockProvider) GetRequisition(ctx context.Context, ref string) (*openbanking.Requisition, error) {
	return nil, nil
}

func (m *MockProvider) DeleteRequisition(ctx context.Context, ref string) error {
	if m.DeleteRequisitionFunc != nil {
		return m.DeleteRequisitionFunc(ctx, ref)
	}
	return nil
}

func ownedAccount() *BankAccount {
	return &BankAccount{
		ID:              10,
		OwnerUserID:     1,
		IBAN:            "NL02ABNA0123456789",
		InstitutionName: "Sandbox Bank",
		RequisitionRef:  "req-10",
	}
}

func TestStartRevocation_Guards(t *testing.T) {
	svc := NewService(&MockRepo{}, &MockProvider{})

	tests := []struct {
		name      string
		userID    int64
		accountID int64
		wantErr   error
	}{
		{"missing user", 0, 10, ErrMissingIdentifier},
		{"missing account", 1, 0, ErrMissingIdentifier},
		{"unknown account", 1, 99, ErrAccountNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.StartRevocation(context.Background(), tt.userID, tt.accountID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("StartRevocation() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStartRevocation_OnlyOwner(t *testing.T) {
	repo := &MockRepo{
		GetByIDFunc: func(ctx context.Context, id int64) (*BankAccount, error) {
			return ownedAccount(), nil
		},
	}
	svc := NewService(repo, &MockProvider{})

	if _, err := svc.StartRevocation(context.Background(), 2, 10); !errors.Is(err, ErrNotOwner) {
		t.Errorf("StartRevocation() error = %v, want ErrNotOwner", err)
	}
}

func TestRevocationFlow_ConfirmDeletes(t *testing.T) {
	var deletedAccount int64
	var revokedRef string
	repo := &MockRepo{
		GetByIDFunc: func(ctx context.Context, id int64) (*BankAccount, error) {
			return ownedAccount(), nil
		},
		DeleteFunc: func(ctx context.Context, id int64) error {
			deletedAccount = id
			return nil
		},
		CountTransactionsFunc: func(ctx context.Context, accountID int64) (int, error) {
			return 37, nil
		},
	}
	provider := &MockProvider{
		DeleteRequisitionFunc: func(ctx context.Context, ref string) error {
			revokedRef = ref
			return nil
		},
	}
	svc := NewService(repo, provider)

	flow, err := svc.StartRevocation(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("StartRevocation() failed: %v", err)
	}
	if flow.State() != RevocationConfirmPending {
		t.Errorf("initial state = %v", flow.State())
	}
	if flow.TransactionCount != 37 {
		t.Errorf("TransactionCount = %d, want 37", flow.TransactionCount)
	}
	if flow.Step() != 1 {
		t.Errorf("Step() = %d, want 1", flow.Step())
	}

	if err := flow.Confirm(context.Background()); err != nil {
		t.Fatalf("Confirm() failed: %v", err)
	}
	if flow.State() != RevocationDeleted {
		t.Errorf("state after confirm = %v, want deleted", flow.State())
	}
	if flow.Step() != 2 {
		t.Errorf("Step() after confirm = %d, want 2", flow.Step())
	}
	if deletedAccount != 10 {
		t.Errorf("deleted account = %d, want 10", deletedAccount)
	}
	if revokedRef != "req-10" {
		t.Errorf("revoked requisition = %q, want req-10", revokedRef)
	}

	// The flow is terminal; a second confirm must not delete again.
	if err := flow.Confirm(context.Background()); !errors.Is(err, ErrRevocationFinished) {
		t.Errorf("second Confirm() error = %v, want ErrRevocationFinished", err)
	}
}

func TestRevocationFlow_BackendGoneStaysOnConfirm(t *testing.T) {
	repo := &MockRepo{
		GetByIDFunc: func(ctx context.Context, id int64) (*BankAccount, error) {
			return ownedAccount(), nil
		},
		DeleteFunc: func(ctx context.Context, id int64) error {
			return ErrAccountNotFound // backend 404
		},
	}
	svc := NewService(repo, &MockProvider{})

	flow, err := svc.StartRevocation(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("StartRevocation() failed: %v", err)
	}

	if err := flow.Confirm(context.Background()); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Confirm() error = %v, want ErrAccountNotFound", err)
	}
	if flow.State() != RevocationConfirmPending {
		t.Errorf("state after failed delete = %v, want confirm-pending", flow.State())
	}
	if flow.Loading() {
		t.Error("loading flag not cleared after failure")
	}
	if flow.Step() != 1 {
		t.Errorf("Step() after failure = %d, want 1", flow.Step())
	}
}

func TestRevocationFlow_DuplicateSubmitBlocked(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	repo := &MockRepo{
		GetByIDFunc: func(ctx context.Context, id int64) (*BankAccount, error) {
			return ownedAccount(), nil
		},
		DeleteFunc: func(ctx context.Context, id int64) error {
			close(started)
			<-release
			return nil
		},
	}
	svc := NewService(repo, &MockProvider{})

	flow, err := svc.StartRevocation(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("StartRevocation() failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		flow.Confirm(context.Background())
	}()

	<-started
	if err := flow.Confirm(context.Background()); !errors.Is(err, ErrRevocationInFlight) {
		t.Errorf("concurrent Confirm() error = %v, want ErrRevocationInFlight", err)
	}
	close(release)
	wg.Wait()

	if flow.State() != RevocationDeleted {
		t.Errorf("final state = %v, want deleted", flow.State())
	}
}

func TestRevocationFlow_Cancel(t *testing.T) {
	repo := &MockRepo{
		GetByIDFunc: func(ctx context.Context, id int64) (*BankAccount, error) {
			return ownedAccount(), nil
		},
	}
	svc := NewService(repo, &MockProvider{})

	flow, _ := svc.StartRevocation(context.Background(), 1, 10)
	if err := flow.Cancel(); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	if flow.State() != RevocationCancelled {
		t.Errorf("state after cancel = %v, want cancelled", flow.State())
	}
	if err := flow.Confirm(context.Background()); !errors.Is(err, ErrRevocationFinished) {
		t.Errorf("Confirm() after cancel error = %v, want ErrRevocationFinished", err)
	}
}
