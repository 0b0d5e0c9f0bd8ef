package consent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"subsidia/internal/infrastructure/openbanking"
)

var (
	// ErrFlowNotFound is returned for operations on a wizard that was never
	// opened or has already been closed.
	ErrFlowNotFound = errors.New("consent flow not found")
	// ErrNotAuthenticated is returned when a consent session is requested
	// without a resolved user. Surfaced, never silently skipped.
	ErrNotAuthenticated = errors.New("cannot start consent: not authenticated")
	// ErrNoConsentURL is returned when the provider did not hand back a
	// consent URL, the server-side analogue of a blocked popup.
	ErrNoConsentURL = errors.New("provider returned no consent URL")
	// ErrFlowClosed is returned when a response arrives for a wizard that
	// closed while the call was in flight; the result is discarded.
	ErrFlowClosed = errors.New("consent flow closed")
)

// closeDebounce suppresses a second close request while the close of a
// wizard is still committing, preventing a double-navigation race.
const closeDebounce = 300 * time.Millisecond

// Options configure the consent service.
type Options struct {
	CallbackURL       string
	AccessWindowDays  int
	HistoryWindowDays int
	PollInterval      time.Duration
	CloseDelay        time.Duration

	// OnWindowClosed runs after the external consent window closed and the
	// outcome is known, e.g. to persist a successfully linked account.
	OnWindowClosed func(ref, outcome string)
}

// flowState is the in-memory wizard state. Step is strictly a cache of
// DeriveStep over the client's current URL; it is never advanced
// independently of a navigation the client makes or is about to make.
type flowState struct {
	ref          string
	userID       int64
	step         Step
	visible      bool
	selectedID   string
	reconnecting bool
	generation   uint64
	blocking     bool
}

// FlowView is the wizard state handed to the transport layer.
type FlowView struct {
	Ref                   string   `json:"ref"`
	Step                  Step     `json:"step"`
	Visible               bool     `json:"visible"`
	SelectedInstitutionID string   `json:"selectedInstitutionId,omitempty"`
	Outcome               *Outcome `json:"outcome,omitempty"`
}

// Service is the add-bank wizard controller: it owns flow state, drives the
// provider client and the window monitor, and keeps the step cache in line
// with the URL contract.
type Service struct {
	client  openbanking.ClientInterface
	store   SessionStore
	monitor *Monitor
	opts    Options

	baseCtx context.Context
	cancel  context.CancelFunc

	mu    sync.Mutex
	flows map[string]*flowState
}

// NewService wires the consent flow controller. Call Shutdown to stop all
// window polls on teardown.
func NewService(client openbanking.ClientInterface, store SessionStore, opts Options) *Service {
	if opts.AccessWindowDays <= 0 {
		opts.AccessWindowDays = 90
	}
	if opts.HistoryWindowDays <= 0 {
		opts.HistoryWindowDays = 90
	}
	if opts.CloseDelay <= 0 {
		opts.CloseDelay = closeDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		client:  client,
		store:   store,
		opts:    opts,
		baseCtx: ctx,
		cancel:  cancel,
		flows:   make(map[string]*flowState),
	}
	s.monitor = NewMonitor(client, store, opts.PollInterval, s.windowClosed)
	return s
}

// Shutdown stops every active window poll.
func (s *Service) Shutdown() {
	s.cancel()
	s.monitor.StopAll()
}

// Monitor exposes the window monitor, mainly for observability.
func (s *Service) Monitor() *Monitor {
	return s.monitor
}

// Open starts a new add-bank wizard for a user. Reconnecting an existing
// connection skips institution selection and opens on the approval step.
func (s *Service) Open(userID int64, reconnecting bool) (*FlowView, error) {
	if userID <= 0 {
		return nil, ErrNotAuthenticated
	}

	step := StepSelectInstitution
	if reconnecting {
		step = StepApproveConsent
	}

	flow := &flowState{
		ref:          uuid.NewString(),
		userID:       userID,
		step:         step,
		visible:      true,
		reconnecting: reconnecting,
	}

	s.mu.Lock()
	s.flows[flow.ref] = flow
	s.mu.Unlock()

	return s.viewLocked(flow), nil
}

// Institutions returns the catalog of supported banks, fetched fresh from
// the provider. Failures are returned to the caller so the UI can show a
// retryable error instead of a silently empty list.
func (s *Service) Institutions(ctx context.Context) ([]openbanking.Institution, error) {
	institutions, err := s.client.ListInstitutions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch institution catalog: %w", err)
	}
	return institutions, nil
}

// SelectInstitution records the chosen institution, creates a fresh consent
// session at the provider and advances the wizard to the approval step.
// Selecting again always creates a new session; sessions are never reused.
func (s *Service) SelectInstitution(ctx context.Context, ref string, institution openbanking.Institution) (*Session, error) {
	s.mu.Lock()
	flow, ok := s.flows[ref]
	if !ok || !flow.visible {
		s.mu.Unlock()
		return nil, ErrFlowNotFound
	}
	userID := flow.userID
	reconnecting := flow.reconnecting
	generation := flow.generation
	s.mu.Unlock()

	if userID <= 0 {
		return nil, ErrNotAuthenticated
	}

	requisition, err := s.client.CreateRequisition(ctx, openbanking.CreateRequisitionParams{
		Reference:         ref,
		InstitutionID:     institution.ID,
		RedirectURL:       s.callbackURL(ref),
		AccessWindowDays:  s.opts.AccessWindowDays,
		HistoryWindowDays: s.opts.HistoryWindowDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consent session: %w", err)
	}

	session := &Session{
		Ref:               ref,
		UserID:            userID,
		InstitutionID:     institution.ID,
		InstitutionName:   institution.Name,
		LogoURL:           institution.LogoURL,
		AccessWindowDays:  s.opts.AccessWindowDays,
		HistoryWindowDays: s.opts.HistoryWindowDays,
		ConsentURL:        requisition.ConsentURL,
		Reconnecting:      reconnecting,
		CreatedAt:         time.Now(),
	}

	// The wizard may have been closed while the provider call was in
	// flight; a stale response must not resurrect it.
	s.mu.Lock()
	flow, ok = s.flows[ref]
	if !ok || !flow.visible || flow.generation != generation {
		s.mu.Unlock()
		return nil, ErrFlowClosed
	}
	flow.selectedID = institution.ID
	flow.step = StepApproveConsent
	s.mu.Unlock()

	if err := s.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save consent session: %w", err)
	}

	return session, nil
}

// Accept is the explicit "accept and continue" action: only now is the
// external consent window opened, so the monitor must not run before it.
// A missing consent URL is surfaced instead of silently doing nothing.
func (s *Service) Accept(ctx context.Context, ref string) (*Session, error) {
	session, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if session.ConsentURL == "" {
		return nil, ErrNoConsentURL
	}

	s.monitor.Start(s.baseCtx, ref)
	return session, nil
}

// RecordCallback stores the outcome marker delivered by the provider
// redirect. The code is untrusted input: anything outside the closed set is
// normalized to the generic failure code before it is echoed onward.
func (s *Service) RecordCallback(ctx context.Context, ref, code string) (string, error) {
	if !KnownOutcome(code) {
		log.Printf("Consent callback for %s carried unknown outcome %q", ref, code)
		code = genericFailure.Code
	}

	session, err := s.store.Get(ctx, ref)
	if err != nil {
		return code, err
	}
	session.Outcome = code
	if err := s.store.Save(ctx, session); err != nil {
		return code, fmt.Errorf("failed to record consent outcome: %w", err)
	}
	return code, nil
}

// Resume re-derives the wizard step for the authenticated user from a bare
// URL and refreshes the cached state. This is what makes the flow survive a
// full page reload: repeated application over the same URL is idempotent.
// A flow this process never saw is recreated only when a consent session
// for the ref still exists, so fabricated refs cannot grow the flow table
// and the recreated flow keeps its user and reconnecting hint.
func (s *Service) Resume(ctx context.Context, userID int64, ref, rawURL string) (*FlowView, error) {
	if userID <= 0 {
		return nil, ErrNotAuthenticated
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse resume URL: %w", err)
	}

	s.mu.Lock()
	if flow, ok := s.flows[ref]; ok {
		if flow.userID != 0 && flow.userID != userID {
			s.mu.Unlock()
			return nil, ErrFlowNotFound
		}
		flow.userID = userID
		view := s.resumeLocked(flow, u)
		s.mu.Unlock()
		return view, nil
	}
	s.mu.Unlock()

	// Deep-link re-entry after a restart or in another tab: the flow
	// record is gone, but the session plus the URL still determine the
	// state.
	session, err := s.store.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrFlowNotFound
		}
		return nil, fmt.Errorf("failed to load consent session: %w", err)
	}
	if session.UserID != userID {
		return nil, ErrFlowNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[ref]
	if !ok {
		flow = &flowState{
			ref:          ref,
			userID:       userID,
			visible:      true,
			reconnecting: session.Reconnecting,
			selectedID:   session.InstitutionID,
		}
		s.flows[ref] = flow
	}
	return s.resumeLocked(flow, u), nil
}

// resumeLocked applies the URL derivation to a flow. Caller holds the lock.
func (s *Service) resumeLocked(flow *flowState, u *url.URL) *FlowView {
	flow.step = DeriveStep(u, flow.reconnecting)

	view := s.viewLocked(flow)
	if flow.step == StepOutcome {
		outcome := ResolveOutcome(u.Query().Get("message"))
		view.Outcome = &outcome
	}
	return view
}

// RequestClose asks the wizard to close. While a previous close is still
// committing the request is ignored (debounced); otherwise the close is
// scheduled, the session discarded and the step reset for the next run.
// Returns whether the close was accepted.
func (s *Service) RequestClose(ref string) bool {
	s.mu.Lock()
	flow, ok := s.flows[ref]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if flow.blocking {
		s.mu.Unlock()
		return false
	}
	flow.blocking = true
	flow.generation++
	s.mu.Unlock()

	s.monitor.Stop(ref)

	time.AfterFunc(s.opts.CloseDelay, func() {
		s.mu.Lock()
		if flow, ok := s.flows[ref]; ok {
			flow.visible = false
			flow.step = StepSelectInstitution
			flow.selectedID = ""
			flow.blocking = false
			delete(s.flows, ref)
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Delete(ctx, ref); err != nil && !errors.Is(err, ErrSessionNotFound) {
			log.Printf("Failed to discard consent session %s: %v", ref, err)
		}
	})
	return true
}

// Flow returns the current wizard state for a flow reference.
func (s *Service) Flow(ref string) (*FlowView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[ref]
	if !ok {
		return nil, ErrFlowNotFound
	}
	return s.viewLocked(flow), nil
}

// windowClosed is the monitor callback: the user left the provider, so the
// next navigation lands on the outcome step. The cached step is advanced to
// match the URL the client is being sent to.
func (s *Service) windowClosed(ref, outcome string) {
	s.mu.Lock()
	if flow, ok := s.flows[ref]; ok && flow.visible {
		flow.step = StepOutcome
	}
	s.mu.Unlock()
	log.Printf("Consent window for %s closed with outcome %q", ref, outcome)

	if s.opts.OnWindowClosed != nil {
		go s.opts.OnWindowClosed(ref, outcome)
	}
}

func (s *Service) callbackURL(ref string) string {
	u, err := url.Parse(s.opts.CallbackURL)
	if err != nil || s.opts.CallbackURL == "" {
		return s.opts.CallbackURL
	}
	q := u.Query()
	q.Set("ref", ref)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) viewLocked(flow *flowState) *FlowView {
	return &FlowView{
		Ref:                   flow.ref,
		Step:                  flow.step,
		Visible:               flow.visible,
		SelectedInstitutionID: flow.selectedID,
	}
}
