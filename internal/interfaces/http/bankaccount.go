package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"

	"subsidia/internal/domain/bankaccount"
	"subsidia/internal/domain/notification"
	"subsidia/internal/shared/middleware"
)

// BankAccountHandler serves linked accounts and the two-step revocation
// wizard. Revocation flows are per user per account; starting one again
// simply replaces the previous one.
type BankAccountHandler struct {
	accountService      *bankaccount.Service
	notificationService *notification.Service

	mu    sync.Mutex
	flows map[flowKey]*bankaccount.RevocationFlow
}

type flowKey struct {
	userID    int64
	accountID int64
}

func NewBankAccountHandler(accountService *bankaccount.Service, notificationService *notification.Service) *BankAccountHandler {
	return &BankAccountHandler{
		accountService:      accountService,
		notificationService: notificationService,
		flows:               make(map[flowKey]*bankaccount.RevocationFlow),
	}
}

// HandleListAccounts returns all accounts visible to the authenticated user
func (h *BankAccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accounts, err := h.accountService.ListForUser(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing bank accounts for user %d: %v", userID, err)
		http.Error(w, "Failed to list bank accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []*bankaccount.BankAccount{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}

// HandleAccountByID returns one account with membership and recent history
func (h *BankAccountHandler) HandleAccountByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, accountID, ok := h.identify(w, r)
	if !ok {
		return
	}

	detail, err := h.accountService.GetDetail(r.Context(), userID, accountID)
	if errors.Is(err, bankaccount.ErrAccountNotFound) {
		http.Error(w, "Bank account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error loading bank account %d: %v", accountID, err)
		http.Error(w, "Failed to load bank account", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}

type RevocationStateResponse struct {
	Step             int    `json:"step"`
	State            string `json:"state"`
	Loading          bool   `json:"loading"`
	TransactionCount int    `json:"transactionCount"`
}

// HandleStartRevocation opens the delete-account wizard on its confirmation step
func (h *BankAccountHandler) HandleStartRevocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, accountID, ok := h.identify(w, r)
	if !ok {
		return
	}

	flow, err := h.accountService.StartRevocation(r.Context(), userID, accountID)
	switch {
	case errors.Is(err, bankaccount.ErrAccountNotFound):
		http.Error(w, "Bank account not found", http.StatusNotFound)
		return
	case errors.Is(err, bankaccount.ErrNotOwner):
		http.Error(w, "Only the account owner can remove a connection", http.StatusForbidden)
		return
	case err != nil:
		log.Printf("Error starting revocation for account %d: %v", accountID, err)
		http.Error(w, "Failed to start revocation", http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.flows[flowKey{userID, accountID}] = flow
	h.mu.Unlock()

	writeRevocationState(w, flow)
}

// HandleConfirmRevocation deletes the connection and everything behind it
func (h *BankAccountHandler) HandleConfirmRevocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, accountID, ok := h.identify(w, r)
	if !ok {
		return
	}

	flow := h.flow(userID, accountID)
	if flow == nil {
		http.Error(w, "No revocation in progress", http.StatusNotFound)
		return
	}

	err := flow.Confirm(r.Context())
	switch {
	case errors.Is(err, bankaccount.ErrRevocationInFlight):
		http.Error(w, "Revocation already in progress", http.StatusConflict)
		return
	case errors.Is(err, bankaccount.ErrRevocationFinished):
		http.Error(w, "Revocation already finished", http.StatusConflict)
		return
	case errors.Is(err, bankaccount.ErrAccountNotFound):
		// The wizard stays on its confirmation step; the client may retry
		// or close.
		http.Error(w, "Bank account not found", http.StatusNotFound)
		return
	case err != nil:
		log.Printf("Error confirming revocation for account %d: %v", accountID, err)
		http.Error(w, "Failed to delete bank connection", http.StatusInternalServerError)
		return
	}

	h.drop(userID, accountID)
	if h.notificationService != nil {
		account := flow.Account()
		if err := h.notificationService.BankRevoked(r.Context(), userID, account.InstitutionName); err != nil {
			log.Printf("Error notifying user %d about revoked connection: %v", userID, err)
		}
	}
	writeRevocationState(w, flow)
}

// HandleCancelRevocation backs out of the confirmation step
func (h *BankAccountHandler) HandleCancelRevocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, accountID, ok := h.identify(w, r)
	if !ok {
		return
	}

	flow := h.flow(userID, accountID)
	if flow == nil {
		http.Error(w, "No revocation in progress", http.StatusNotFound)
		return
	}

	if err := flow.Cancel(); err != nil {
		http.Error(w, "Revocation cannot be cancelled anymore", http.StatusConflict)
		return
	}

	h.drop(userID, accountID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *BankAccountHandler) identify(w http.ResponseWriter, r *http.Request) (userID, accountID int64, ok bool) {
	userID, authed := r.Context().Value(middleware.UserIDKey).(int64)
	if !authed {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, 0, false
	}

	accountID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || accountID <= 0 {
		http.Error(w, "Valid account ID is required", http.StatusBadRequest)
		return 0, 0, false
	}
	return userID, accountID, true
}

func (h *BankAccountHandler) flow(userID, accountID int64) *bankaccount.RevocationFlow {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flows[flowKey{userID, accountID}]
}

func (h *BankAccountHandler) drop(userID, accountID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.flows, flowKey{userID, accountID})
}

func writeRevocationState(w http.ResponseWriter, flow *bankaccount.RevocationFlow) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RevocationStateResponse{
		Step:             flow.Step(),
		State:            flow.State().String(),
		Loading:          flow.Loading(),
		TransactionCount: flow.TransactionCount,
	})
}
