package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"

	"subsidia/internal/domain/bankaccount"
	"subsidia/internal/domain/invitation"
	"subsidia/internal/domain/notification"
	"subsidia/internal/domain/user"
	"subsidia/internal/shared/middleware"
)

// InvitationHandler serves the share-account wizard. One flow lives per
// owner per account; opening again replaces the previous one.
type InvitationHandler struct {
	invitationService   *invitation.Service
	notificationService *notification.Service
	userRepo            user.Repository

	mu    sync.Mutex
	flows map[flowKey]*invitation.Flow
}

func NewInvitationHandler(invitationService *invitation.Service, notificationService *notification.Service, userRepo user.Repository) *InvitationHandler {
	return &InvitationHandler{
		invitationService:   invitationService,
		notificationService: notificationService,
		userRepo:            userRepo,
		flows:               make(map[flowKey]*invitation.Flow),
	}
}

type InvitationStateResponse struct {
	Step    int                 `json:"step"`
	Members []invitation.Member `json:"members"`
	Results []*user.User        `json:"results"`
}

type SearchRequest struct {
	Query string `json:"query"`
}

type AddMemberRequest struct {
	UserID int64 `json:"userId"`
}

// HandleInvitations routes the collection-level invitation actions:
// POST opens a flow, GET reads its state, DELETE cancels it.
func (h *InvitationHandler) HandleInvitations(w http.ResponseWriter, r *http.Request) {
	userID, accountID, ok := h.identify(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handleOpen(w, r, userID, accountID)
	case http.MethodGet:
		h.handleState(w, r, userID, accountID)
	case http.MethodDelete:
		h.handleCancel(w, userID, accountID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *InvitationHandler) handleOpen(w http.ResponseWriter, r *http.Request, userID, accountID int64) {
	flow, err := h.invitationService.Open(r.Context(), userID, accountID)
	switch {
	case errors.Is(err, bankaccount.ErrAccountNotFound):
		http.Error(w, "Bank account not found", http.StatusNotFound)
		return
	case errors.Is(err, bankaccount.ErrNotOwner):
		http.Error(w, "Only the account owner can share it", http.StatusForbidden)
		return
	case err != nil:
		log.Printf("Error opening invitation flow for account %d: %v", accountID, err)
		http.Error(w, "Failed to open invitation flow", http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.flows[flowKey{userID, accountID}] = flow
	h.mu.Unlock()

	writeInvitationState(w, flow)
}

// handleState returns the wizard state. A url query parameter resumes the
// flow from that location first, so a reload lands on the step the URL names.
func (h *InvitationHandler) handleState(w http.ResponseWriter, r *http.Request, userID, accountID int64) {
	flow := h.flow(userID, accountID)
	if flow == nil {
		http.Error(w, "No invitation flow in progress", http.StatusNotFound)
		return
	}

	if rawURL := r.URL.Query().Get("url"); rawURL != "" {
		if err := flow.Resume(rawURL); err != nil {
			http.Error(w, "Cannot resume invitation flow", http.StatusConflict)
			return
		}
	}
	writeInvitationState(w, flow)
}

func (h *InvitationHandler) handleCancel(w http.ResponseWriter, userID, accountID int64) {
	flow := h.flow(userID, accountID)
	if flow == nil {
		http.Error(w, "No invitation flow in progress", http.StatusNotFound)
		return
	}

	if err := flow.Cancel(); err != nil {
		http.Error(w, "Invitation flow cannot be cancelled anymore", http.StatusConflict)
		return
	}

	h.drop(userID, accountID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSearch schedules a debounced member search. Results appear in the
// flow state once the query settles.
func (h *InvitationHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
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
		http.Error(w, "No invitation flow in progress", http.StatusNotFound)
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	flow.Search(req.Query)
	w.WriteHeader(http.StatusAccepted)
}

// HandleMembers adds a member to the working set (POST) or removes one (DELETE)
func (h *InvitationHandler) HandleMembers(w http.ResponseWriter, r *http.Request) {
	userID, accountID, ok := h.identify(w, r)
	if !ok {
		return
	}

	flow := h.flow(userID, accountID)
	if flow == nil {
		http.Error(w, "No invitation flow in progress", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handleAddMember(w, r, flow)
	case http.MethodDelete:
		h.handleRemoveMember(w, r, flow)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *InvitationHandler) handleAddMember(w http.ResponseWriter, r *http.Request, flow *invitation.Flow) {
	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	u, err := h.userRepo.GetByID(r.Context(), req.UserID)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	if err := flow.Add(u); err != nil {
		http.Error(w, "Cannot add this user", http.StatusConflict)
		return
	}
	writeInvitationState(w, flow)
}

func (h *InvitationHandler) handleRemoveMember(w http.ResponseWriter, r *http.Request, flow *invitation.Flow) {
	memberID, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	if err != nil || memberID <= 0 {
		http.Error(w, "Valid user ID is required", http.StatusBadRequest)
		return
	}

	if err := flow.Remove(memberID); err != nil {
		http.Error(w, "Cannot remove this user", http.StatusConflict)
		return
	}
	writeInvitationState(w, flow)
}

// HandleNext moves the wizard to the confirmation step without saving
func (h *InvitationHandler) HandleNext(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(flow *invitation.Flow) error { return flow.Next() })
}

// HandleBack returns to the compose step
func (h *InvitationHandler) HandleBack(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(flow *invitation.Flow) error { return flow.Back() })
}

func (h *InvitationHandler) transition(w http.ResponseWriter, r *http.Request, step func(*invitation.Flow) error) {
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
		http.Error(w, "No invitation flow in progress", http.StatusNotFound)
		return
	}

	if err := step(flow); err != nil {
		http.Error(w, "Action not allowed on this step", http.StatusConflict)
		return
	}
	writeInvitationState(w, flow)
}

// HandleConfirm commits the full membership in one write and notifies the
// newly added members
func (h *InvitationHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
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
		http.Error(w, "No invitation flow in progress", http.StatusNotFound)
		return
	}

	// Captured before the commit finishes the flow.
	members := flow.Members()

	err := flow.Confirm(r.Context())
	switch {
	case errors.Is(err, invitation.ErrWrongStep):
		http.Error(w, "Confirm the membership from the confirmation step", http.StatusConflict)
		return
	case errors.Is(err, invitation.ErrCommitInFlight):
		http.Error(w, "Commit already in progress", http.StatusConflict)
		return
	case errors.Is(err, invitation.ErrFlowFinished):
		http.Error(w, "Invitation flow already finished", http.StatusConflict)
		return
	case err != nil:
		log.Printf("Error committing membership for account %d: %v", accountID, err)
		http.Error(w, "Failed to save membership", http.StatusInternalServerError)
		return
	}

	h.drop(userID, accountID)
	h.notifyNewMembers(r, userID, members)
	w.WriteHeader(http.StatusNoContent)
}

func (h *InvitationHandler) notifyNewMembers(r *http.Request, ownerID int64, members []invitation.Member) {
	if h.notificationService == nil {
		return
	}

	ownerName := ""
	if owner, err := h.userRepo.GetByID(r.Context(), ownerID); err == nil {
		ownerName = owner.Name
	}

	for _, m := range members {
		if !m.New {
			continue
		}
		if err := h.notificationService.InvitedToAccount(r.Context(), m.UserID, ownerName); err != nil {
			log.Printf("Error notifying user %d about shared account: %v", m.UserID, err)
		}
	}
}

func (h *InvitationHandler) identify(w http.ResponseWriter, r *http.Request) (userID, accountID int64, ok bool) {
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

func (h *InvitationHandler) flow(userID, accountID int64) *invitation.Flow {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flows[flowKey{userID, accountID}]
}

func (h *InvitationHandler) drop(userID, accountID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.flows, flowKey{userID, accountID})
}

func writeInvitationState(w http.ResponseWriter, flow *invitation.Flow) {
	results := flow.Results()
	if results == nil {
		results = []*user.User{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(InvitationStateResponse{
		Step:    flow.Step(),
		Members: flow.Members(),
		Results: results,
	})
}
