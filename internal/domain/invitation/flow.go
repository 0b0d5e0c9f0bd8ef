package invitation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"subsidia/internal/domain/bankaccount"
	"subsidia/internal/domain/consent"
	"subsidia/internal/domain/user"
)

const (
	// StepCompose is where members are searched, added and removed.
	StepCompose = 1
	// StepConfirm shows the resulting membership before anything is saved.
	StepConfirm = 2
)

const defaultSearchDelay = 400 * time.Millisecond

var (
	// ErrWrongStep is returned for an action that does not belong to the
	// flow's current step.
	ErrWrongStep = errors.New("action not allowed on this step")
	// ErrCommitInFlight is returned when confirm is pressed while a commit
	// is still running.
	ErrCommitInFlight = errors.New("invitation commit already in flight")
	// ErrFlowFinished is returned for actions on a committed or cancelled flow.
	ErrFlowFinished = errors.New("invitation flow already finished")
)

const searchLimit = 10

// Service opens invitation flows for shared bank accounts.
type Service struct {
	accounts    *bankaccount.Service
	users       user.Repository
	searchDelay time.Duration
	// baseCtx backs the debounced searches, which fire after the request
	// that scheduled them has already been answered. The generation
	// counter, not the caller's context, cancels superseded lookups.
	baseCtx context.Context
}

type Options struct {
	// SearchDelay is how long a search query must stay unchanged before it
	// hits the user repository.
	SearchDelay time.Duration
}

func NewService(accounts *bankaccount.Service, users user.Repository, opts Options) *Service {
	if opts.SearchDelay <= 0 {
		opts.SearchDelay = defaultSearchDelay
	}
	return &Service{
		accounts:    accounts,
		users:       users,
		searchDelay: opts.SearchDelay,
		baseCtx:     context.Background(),
	}
}

// Flow tracks one owner sharing one bank account. All membership edits are
// local to the flow; nothing is saved until Confirm succeeds.
type Flow struct {
	svc       *Service
	ownerID   int64
	accountID int64

	mu         sync.Mutex
	step       int
	existing   []*bankaccount.Member
	added      []*user.User
	results    []*user.User
	searchGen  uint64
	pending    *time.Timer
	committing bool
	done       bool
}

// Open loads the account's current members and starts a flow on the compose
// step. Only the owner may share an account.
func (s *Service) Open(ctx context.Context, userID, accountID int64) (*Flow, error) {
	if userID == 0 || accountID == 0 {
		return nil, bankaccount.ErrMissingIdentifier
	}

	detail, err := s.accounts.GetDetail(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if detail.Account.OwnerUserID != userID {
		return nil, bankaccount.ErrNotOwner
	}

	existing := make([]*bankaccount.Member, 0, len(detail.Members))
	for _, m := range detail.Members {
		if m.Owner {
			continue
		}
		existing = append(existing, m)
	}

	return &Flow{
		svc:       s,
		ownerID:   userID,
		accountID: accountID,
		step:      StepCompose,
		existing:  existing,
	}, nil
}

// Search schedules a debounced lookup for users matching query. A newer call
// supersedes any pending or in-flight one; superseded results are dropped.
// A blank query clears the results immediately. The lookup runs after the
// scheduling request has been answered, so it runs on the service's own
// context rather than the caller's.
func (f *Flow) Search(query string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done || f.step != StepCompose {
		return
	}

	f.searchGen++
	gen := f.searchGen
	if f.pending != nil {
		f.pending.Stop()
		f.pending = nil
	}

	query = strings.TrimSpace(query)
	if query == "" {
		f.results = nil
		return
	}

	f.pending = time.AfterFunc(f.svc.searchDelay, func() {
		f.runSearch(gen, query)
	})
}

func (f *Flow) runSearch(gen uint64, query string) {
	f.mu.Lock()
	if gen != f.searchGen {
		f.mu.Unlock()
		return
	}
	exclude := f.excludedIDs()
	f.mu.Unlock()

	users, err := f.svc.users.SearchByEmail(f.svc.baseCtx, query, exclude, searchLimit)
	if err != nil {
		log.Printf("invitation: user search for %q failed: %v", query, err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.searchGen {
		return
	}
	f.results = users
}

// excludedIDs lists everyone a search should not return: the owner, the
// current members and anyone already picked. Caller holds the lock.
func (f *Flow) excludedIDs() []int64 {
	ids := make([]int64, 0, 1+len(f.existing)+len(f.added))
	ids = append(ids, f.ownerID)
	for _, m := range f.existing {
		ids = append(ids, m.UserID)
	}
	for _, u := range f.added {
		ids = append(ids, u.ID)
	}
	return ids
}

// Results returns the current search results.
func (f *Flow) Results() []*user.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results
}

// Add moves a search result into the set of newly added members.
func (f *Flow) Add(u *user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return ErrFlowFinished
	}
	if f.step != StepCompose {
		return ErrWrongStep
	}
	if u == nil || u.ID == 0 || u.ID == f.ownerID {
		return bankaccount.ErrMissingIdentifier
	}
	for _, m := range f.existing {
		if m.UserID == u.ID {
			return nil
		}
	}
	for _, have := range f.added {
		if have.ID == u.ID {
			return nil
		}
	}

	f.added = append(f.added, u)

	kept := f.results[:0]
	for _, r := range f.results {
		if r.ID != u.ID {
			kept = append(kept, r)
		}
	}
	f.results = kept
	return nil
}

// Remove drops a member from the working set, whether they were already on
// the account or picked during this flow. Removing an existing member only
// takes effect when the flow is confirmed.
func (f *Flow) Remove(userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return ErrFlowFinished
	}
	if f.step != StepCompose {
		return ErrWrongStep
	}

	for i, m := range f.existing {
		if m.UserID == userID {
			f.existing = append(f.existing[:i], f.existing[i+1:]...)
			return nil
		}
	}
	for i, u := range f.added {
		if u.ID == userID {
			f.added = append(f.added[:i], f.added[i+1:]...)
			return nil
		}
	}
	return nil
}

// Member is one row of the working membership, existing and new alike.
type Member struct {
	UserID    int64  `json:"userId"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	New       bool   `json:"new"`
}

// Members returns the membership as it would be after a successful confirm.
func (f *Flow) Members() []Member {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Member, 0, len(f.existing)+len(f.added))
	for _, m := range f.existing {
		out = append(out, Member{UserID: m.UserID, Email: m.Email, AvatarURL: m.AvatarURL})
	}
	for _, u := range f.added {
		row := Member{UserID: u.ID, Email: u.Email, New: true}
		if u.AvatarURL != nil {
			row.AvatarURL = *u.AvatarURL
		}
		out = append(out, row)
	}
	return out
}

// Next advances from compose to the confirmation step. Nothing is saved here.
func (f *Flow) Next() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return ErrFlowFinished
	}
	if f.step != StepCompose {
		return ErrWrongStep
	}
	f.searchGen++ // drop any search still in flight
	f.results = nil
	f.step = StepConfirm
	return nil
}

// Back returns from the confirmation step to compose.
func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return ErrFlowFinished
	}
	if f.step != StepConfirm || f.committing {
		return ErrWrongStep
	}
	f.step = StepCompose
	return nil
}

// Resume re-derives the wizard step from a bare URL. The resumption marker
// ...bankaccounts/invite-users?step=2 lands on the confirmation step;
// anything else is compose. Repeated application over the same URL is
// idempotent, which is what makes a page reload land on the right screen.
func (f *Flow) Resume(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse resume URL: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return ErrFlowFinished
	}
	if f.committing {
		return ErrCommitInFlight
	}

	step := StepCompose
	if consent.DeriveInviteStep(u) == consent.InviteStepConfirm {
		step = StepConfirm
	}
	if step == StepConfirm && f.step == StepCompose {
		f.searchGen++ // drop any search still in flight
		f.results = nil
	}
	f.step = step
	return nil
}

// Confirm replaces the account's membership with the working set in one
// write. On failure the flow stays on the confirmation step so the user can
// retry; on success it is finished.
func (f *Flow) Confirm(ctx context.Context) error {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return ErrFlowFinished
	}
	if f.step != StepConfirm {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if f.committing {
		f.mu.Unlock()
		return ErrCommitInFlight
	}
	f.committing = true
	ids := make([]int64, 0, len(f.existing)+len(f.added))
	for _, m := range f.existing {
		ids = append(ids, m.UserID)
	}
	for _, u := range f.added {
		ids = append(ids, u.ID)
	}
	f.mu.Unlock()

	err := f.svc.accounts.ReplaceMembers(ctx, f.ownerID, f.accountID, ids)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.committing = false
	if err != nil {
		return err
	}
	f.done = true
	return nil
}

// Cancel discards the flow without touching the account's membership.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done {
		return ErrFlowFinished
	}
	if f.committing {
		return ErrCommitInFlight
	}
	f.searchGen++
	if f.pending != nil {
		f.pending.Stop()
		f.pending = nil
	}
	f.done = true
	return nil
}

// Step reports the current wizard step.
func (f *Flow) Step() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Done reports whether the flow has been committed or cancelled.
func (f *Flow) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}
