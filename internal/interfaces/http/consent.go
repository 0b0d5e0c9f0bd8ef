package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"subsidia/internal/domain/consent"
	"subsidia/internal/infrastructure/openbanking"
	"subsidia/internal/shared/middleware"
)

// BankConnectionHandler exposes the add-bank wizard over HTTP: institution
// catalog, flow lifecycle and the provider redirect callback.
type BankConnectionHandler struct {
	consentService *consent.Service
	appURL         string
}

func NewBankConnectionHandler(consentService *consent.Service, appURL string) *BankConnectionHandler {
	return &BankConnectionHandler{consentService: consentService, appURL: appURL}
}

type OpenFlowRequest struct {
	Reconnecting bool `json:"reconnecting"`
}

type SelectInstitutionRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logo"`
}

type ConsentSessionResponse struct {
	Ref               string `json:"ref"`
	InstitutionID     string `json:"institutionId"`
	InstitutionName   string `json:"institutionName"`
	ConsentURL        string `json:"consentUrl"`
	AccessWindowDays  int    `json:"accessWindowDays"`
	HistoryWindowDays int    `json:"historyWindowDays"`
}

// HandleInstitutions returns the provider's bank catalog
func (h *BankConnectionHandler) HandleInstitutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	institutions, err := h.consentService.Institutions(r.Context())
	if err != nil {
		log.Printf("Error fetching institutions: %v", err)
		http.Error(w, "Failed to fetch institutions", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(institutions)
}

// HandleOpenFlow starts a new add-bank wizard for the authenticated user
func (h *BankConnectionHandler) HandleOpenFlow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req OpenFlowRequest
	if r.Body != nil {
		// An empty body means a fresh connection.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	view, err := h.consentService.Open(userID, req.Reconnecting)
	if err != nil {
		log.Printf("Error opening consent flow for user %d: %v", userID, err)
		http.Error(w, "Failed to open flow", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// HandleFlow handles operations on a specific flow (GET state and DELETE/close).
// A GET with a url query parameter resumes the wizard from that location.
func (h *BankConnectionHandler) HandleFlow(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	if ref == "" {
		http.Error(w, "Flow reference is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGetFlow(w, r, ref)
	case http.MethodDelete:
		h.handleCloseFlow(w, r, ref)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *BankConnectionHandler) handleGetFlow(w http.ResponseWriter, r *http.Request, ref string) {
	var view *consent.FlowView
	var err error

	if rawURL := r.URL.Query().Get("url"); rawURL != "" {
		userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		view, err = h.consentService.Resume(r.Context(), userID, ref, rawURL)
	} else {
		view, err = h.consentService.Flow(ref)
	}
	if errors.Is(err, consent.ErrFlowNotFound) {
		http.Error(w, "Flow not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error loading consent flow %s: %v", ref, err)
		http.Error(w, "Failed to load flow", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (h *BankConnectionHandler) handleCloseFlow(w http.ResponseWriter, _ *http.Request, ref string) {
	// A request while a previous close is committing is debounced away;
	// from the client's point of view the wizard is closing either way.
	h.consentService.RequestClose(ref)
	w.WriteHeader(http.StatusAccepted)
}

// HandleSelectInstitution records the chosen bank and creates a fresh
// consent session with the provider
func (h *BankConnectionHandler) HandleSelectInstitution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ref := r.PathValue("ref")
	if ref == "" {
		http.Error(w, "Flow reference is required", http.StatusBadRequest)
		return
	}

	var req SelectInstitutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "Institution ID is required", http.StatusBadRequest)
		return
	}

	session, err := h.consentService.SelectInstitution(r.Context(), ref, openbanking.Institution{
		ID:      req.ID,
		Name:    req.Name,
		LogoURL: req.LogoURL,
	})
	switch {
	case errors.Is(err, consent.ErrFlowNotFound):
		http.Error(w, "Flow not found", http.StatusNotFound)
		return
	case errors.Is(err, consent.ErrFlowClosed):
		http.Error(w, "Flow was closed", http.StatusConflict)
		return
	case err != nil:
		log.Printf("Error selecting institution for flow %s: %v", ref, err)
		http.Error(w, "Failed to create consent session", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSessionResponse(session))
}

// HandleAccept is the explicit accept-and-continue action: it hands out the
// consent URL and arms the window monitor
func (h *BankConnectionHandler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ref := r.PathValue("ref")
	if ref == "" {
		http.Error(w, "Flow reference is required", http.StatusBadRequest)
		return
	}

	session, err := h.consentService.Accept(r.Context(), ref)
	switch {
	case errors.Is(err, consent.ErrSessionNotFound):
		http.Error(w, "No consent session for this flow", http.StatusNotFound)
		return
	case errors.Is(err, consent.ErrNoConsentURL):
		http.Error(w, "Consent session has no approval URL", http.StatusConflict)
		return
	case err != nil:
		log.Printf("Error accepting consent for flow %s: %v", ref, err)
		http.Error(w, "Failed to accept consent", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSessionResponse(session))
}

// HandleCallback receives the provider redirect after the user finished (or
// abandoned) the external consent page, records the outcome and sends the
// browser to the wizard's outcome step.
func (h *BankConnectionHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ref := r.URL.Query().Get("ref")
	code := r.URL.Query().Get("message")

	if ref == "" {
		http.Error(w, "Missing flow reference", http.StatusBadRequest)
		return
	}

	recorded, err := h.consentService.RecordCallback(r.Context(), ref, code)
	if err != nil {
		// The redirect must still land somewhere sensible; the outcome
		// screen resolves the code on its own.
		log.Printf("Error recording consent callback for %s: %v", ref, err)
	}

	http.Redirect(w, r, h.outcomeURL(recorded), http.StatusFound)
}

// outcomeURL builds the frontend outcome-step address carrying the code.
func (h *BankConnectionHandler) outcomeURL(code string) string {
	return fmt.Sprintf("%s/bankaccounts/add-bank?step=3&message=%s", h.appURL, url.QueryEscape(code))
}

func toSessionResponse(s *consent.Session) ConsentSessionResponse {
	return ConsentSessionResponse{
		Ref:               s.Ref,
		InstitutionID:     s.InstitutionID,
		InstitutionName:   s.InstitutionName,
		ConsentURL:        s.ConsentURL,
		AccessWindowDays:  s.AccessWindowDays,
		HistoryWindowDays: s.HistoryWindowDays,
	}
}
