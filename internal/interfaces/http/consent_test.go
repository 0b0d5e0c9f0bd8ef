package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"subsidia/internal/domain/consent"
	"subsidia/internal/infrastructure/openbanking"
	"subsidia/internal/shared/middleware"
)

// MockProvider implements openbanking.ClientInterface for testing
type MockProvider struct {
	ListInstitutionsFunc  func(ctx context.Context) ([]openbanking.Institution, error)
	CreateRequisitionFunc func(ctx context.Context, params openbanking.CreateRequisitionParams) (*openbanking.Requisition, error)
	GetRequisitionFunc    func(ctx context.Context, ref string) (*openbanking.Requisition, error)
	DeleteRequisitionFunc func(ctx context.Context, ref string) error
}

func (m *MockProvider) ListInstitutions(ctx context.Context) ([]openbanking.Institution, error) {
	if m.ListInstitutionsFunc != nil {
		return m.ListInstitutionsFunc(ctx)
	}
	return []openbanking.Institution{{ID: "SANDBOX_SB", Name: "Sandbox Bank"}}, nil
}

func (m *MockProvider) CreateRequisition(ctx context.Context, params openbanking.CreateRequisitionParams) (*openbanking.Requisition, error) {
	if m.CreateRequisitionFunc != nil {
		return m.CreateRequisitionFunc(ctx, params)
	}
	return &openbanking.Requisition{
		Ref:           params.Reference,
		InstitutionID: params.InstitutionID,
		Status:        openbanking.StatusCreated,
		ConsentURL:    "https://consent.example.com/" + params.Reference,
	}, nil
}

func (m *MockProvider) GetRequisition(ctx context.Context, ref string) (*openbanking.Requisition, error) {
	if m.GetRequisitionFunc != nil {
		return m.GetRequisitionFunc(ctx, ref)
	}
	return &openbanking.Requisition{Ref: ref, Status: openbanking.StatusCreated}, nil
}

func (m *MockProvider) DeleteRequisition(ctx context.Context, ref string) error {
	if m.DeleteRequisitionFunc != nil {
		return m.DeleteRequisitionFunc(ctx, ref)
	}
	return nil
}

// memStore is an in-memory consent.SessionStore
type memStore struct {
	mu       sync.Mutex
	sessions map[string]consent.Session
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]consent.Session)}
}

func (s *memStore) Save(ctx context.Context, session *consent.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Ref] = *session
	return nil
}

func (s *memStore) Get(ctx context.Context, ref string) (*consent.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[ref]
	if !ok {
		return nil, consent.ErrSessionNotFound
	}
	out := session
	return &out, nil
}

func (s *memStore) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, ref)
	return nil
}

func newConsentHandler(t *testing.T, provider *MockProvider) (*BankConnectionHandler, *consent.Service, *memStore) {
	t.Helper()
	store := newMemStore()
	svc := consent.NewService(provider, store, consent.Options{
		CallbackURL:  "https://api.example.com/api/bank-connections/callback",
		PollInterval: 5 * time.Millisecond,
		CloseDelay:   5 * time.Millisecond,
	})
	t.Cleanup(svc.Shutdown)
	return NewBankConnectionHandler(svc, "https://app.example.com"), svc, store
}

func authedRequest(method, target string, body []byte, userID int64) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID)
	return req.WithContext(ctx)
}

func TestHandleOpenFlow_RequiresAuth(t *testing.T) {
	handler, _, _ := newConsentHandler(t, &MockProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/bank-connections/flows", nil)
	rec := httptest.NewRecorder()
	handler.HandleOpenFlow(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleOpenFlow_ReturnsWizardState(t *testing.T) {
	handler, _, _ := newConsentHandler(t, &MockProvider{})

	req := authedRequest(http.MethodPost, "/api/bank-connections/flows", []byte(`{}`), 1)
	rec := httptest.NewRecorder()
	handler.HandleOpenFlow(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var view consent.FlowView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.Ref == "" {
		t.Error("response missing flow reference")
	}
	if view.Step != consent.StepSelectInstitution {
		t.Errorf("step = %d, want %d", view.Step, consent.StepSelectInstitution)
	}
}

func TestHandleInstitutions_ProviderDown(t *testing.T) {
	handler, _, _ := newConsentHandler(t, &MockProvider{
		ListInstitutionsFunc: func(ctx context.Context) ([]openbanking.Institution, error) {
			return nil, errors.New("connection refused")
		},
	})

	req := authedRequest(http.MethodGet, "/api/bank-connections/institutions", nil, 1)
	rec := httptest.NewRecorder()
	handler.HandleInstitutions(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestHandleSelectInstitution_UnknownFlow(t *testing.T) {
	handler, _, _ := newConsentHandler(t, &MockProvider{})

	body := []byte(`{"id":"SANDBOX_SB","name":"Sandbox Bank"}`)
	req := authedRequest(http.MethodPost, "/api/bank-connections/flows/nope/institution", body, 1)
	req.SetPathValue("ref", "nope")
	rec := httptest.NewRecorder()
	handler.HandleSelectInstitution(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestWizard_SelectThenAccept(t *testing.T) {
	handler, svc, _ := newConsentHandler(t, &MockProvider{})

	view, err := svc.Open(1, false)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	body := []byte(`{"id":"SANDBOX_SB","name":"Sandbox Bank"}`)
	req := authedRequest(http.MethodPost, "/api/bank-connections/flows/"+view.Ref+"/institution", body, 1)
	req.SetPathValue("ref", view.Ref)
	rec := httptest.NewRecorder()
	handler.HandleSelectInstitution(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("select status = %d, body %s", rec.Code, rec.Body.String())
	}

	var session ConsentSessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&session); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if session.ConsentURL == "" {
		t.Error("session missing consent URL")
	}

	req = authedRequest(http.MethodPost, "/api/bank-connections/flows/"+view.Ref+"/accept", nil, 1)
	req.SetPathValue("ref", view.Ref)
	rec = httptest.NewRecorder()
	handler.HandleAccept(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("accept status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.Monitor().ActivePolls() != 1 {
		t.Errorf("active polls = %d, want 1", svc.Monitor().ActivePolls())
	}
}

func TestHandleAccept_WithoutSession(t *testing.T) {
	handler, svc, _ := newConsentHandler(t, &MockProvider{})

	view, _ := svc.Open(1, false)
	req := authedRequest(http.MethodPost, "/api/bank-connections/flows/"+view.Ref+"/accept", nil, 1)
	req.SetPathValue("ref", view.Ref)
	rec := httptest.NewRecorder()
	handler.HandleAccept(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleCallback_RedirectsToOutcomeStep(t *testing.T) {
	handler, svc, store := newConsentHandler(t, &MockProvider{})

	view, _ := svc.Open(1, false)
	store.Save(context.Background(), &consent.Session{Ref: view.Ref, UserID: 1})

	req := httptest.NewRequest(http.MethodGet, "/api/bank-connections/callback?ref="+view.Ref+"&message=user-404", nil)
	rec := httptest.NewRecorder()
	handler.HandleCallback(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	location := rec.Header().Get("Location")
	want := "https://app.example.com/bankaccounts/add-bank?step=3&message=user-404"
	if location != want {
		t.Errorf("redirect = %q, want %q", location, want)
	}
}

func TestHandleCallback_NormalizesUnknownCode(t *testing.T) {
	handler, svc, store := newConsentHandler(t, &MockProvider{})

	view, _ := svc.Open(1, false)
	store.Save(context.Background(), &consent.Session{Ref: view.Ref, UserID: 1})

	req := httptest.NewRequest(http.MethodGet, "/api/bank-connections/callback?ref="+view.Ref+"&message=<script>", nil)
	rec := httptest.NewRecorder()
	handler.HandleCallback(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	want := "https://app.example.com/bankaccounts/add-bank?step=3&message=error"
	if got := rec.Header().Get("Location"); got != want {
		t.Errorf("redirect = %q, want %q", got, want)
	}
}

func TestHandleFlow_CloseAccepted(t *testing.T) {
	handler, svc, _ := newConsentHandler(t, &MockProvider{})

	view, _ := svc.Open(1, false)
	req := authedRequest(http.MethodDelete, "/api/bank-connections/flows/"+view.Ref, nil, 1)
	req.SetPathValue("ref", view.Ref)
	rec := httptest.NewRecorder()
	handler.HandleFlow(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}

func TestHandleFlow_ResumeFromURL(t *testing.T) {
	handler, svc, _ := newConsentHandler(t, &MockProvider{})

	view, _ := svc.Open(1, false)
	target := "/api/bank-connections/flows/" + view.Ref + "?url=" +
		"https%3A%2F%2Fapp.example.com%2Fbankaccounts%2Fadd-bank%3Fstep%3D3%26message%3Dsuccess"
	req := authedRequest(http.MethodGet, target, nil, 1)
	req.SetPathValue("ref", view.Ref)
	rec := httptest.NewRecorder()
	handler.HandleFlow(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resumed consent.FlowView
	if err := json.NewDecoder(rec.Body).Decode(&resumed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resumed.Step != consent.StepOutcome {
		t.Errorf("step = %d, want %d", resumed.Step, consent.StepOutcome)
	}
	if resumed.Outcome == nil || resumed.Outcome.Title != "Koppelen voltooid!" {
		t.Errorf("outcome = %+v, want success record", resumed.Outcome)
	}
}
