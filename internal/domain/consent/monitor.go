package consent

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"subsidia/internal/infrastructure/openbanking"
)

// ClosedFunc is invoked exactly once per poll when the external consent
// window is detected closed, with the outcome marker that accompanied it.
type ClosedFunc func(ref, outcome string)

// Monitor watches consent sessions that are out at the provider. The
// console cannot see inside the provider's screens; it can only poll
// whether the user is still there. Once the requisition leaves its pending
// state the "window" is considered closed and the flow is advanced to the
// outcome step.
type Monitor struct {
	client   openbanking.ClientInterface
	store    SessionStore
	interval time.Duration
	onClosed ClosedFunc

	mu    sync.Mutex
	polls map[string]*poll
	wg    sync.WaitGroup
}

type poll struct {
	cancel context.CancelFunc
}

// NewMonitor creates a monitor polling at the given interval (1s in
// production). onClosed may be nil.
func NewMonitor(client openbanking.ClientInterface, store SessionStore, interval time.Duration, onClosed ClosedFunc) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		client:   client,
		store:    store,
		interval: interval,
		onClosed: onClosed,
		polls:    make(map[string]*poll),
	}
}

// Start begins polling the requisition behind ref. Starting an already
// monitored ref first cancels the running poll, so at most one timer ever
// exists per session and closure can never trigger a double navigation.
func (m *Monitor) Start(ctx context.Context, ref string) {
	pollCtx, cancel := context.WithCancel(ctx)
	p := &poll{cancel: cancel}

	m.mu.Lock()
	if old, ok := m.polls[ref]; ok {
		old.cancel()
	}
	m.polls[ref] = p
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(pollCtx, ref, p)
}

// Stop cancels the poll for ref, if any. Safe to call for unknown refs.
func (m *Monitor) Stop(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.polls[ref]; ok {
		p.cancel()
		delete(m.polls, ref)
	}
}

// StopAll cancels every active poll and waits for them to finish.
// Called on service shutdown so no timer outlives the process teardown.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	for ref, p := range m.polls {
		p.cancel()
		delete(m.polls, ref)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// ActivePolls returns the number of sessions currently being monitored.
func (m *Monitor) ActivePolls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.polls)
}

func (m *Monitor) run(ctx context.Context, ref string, p *poll) {
	defer m.wg.Done()
	defer p.cancel()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, outcome := m.check(ctx, ref)
			if !closed {
				continue
			}
			m.finish(ref, p)
			if m.onClosed != nil {
				m.onClosed(ref, outcome)
			}
			return
		}
	}
}

// check asks the provider whether the user has left the consent screens.
// Transient provider errors keep the poll alive; a vanished requisition
// counts as closed with the requisition-404 marker.
func (m *Monitor) check(ctx context.Context, ref string) (bool, string) {
	req, err := m.client.GetRequisition(ctx, ref)
	if err != nil {
		if errors.Is(err, openbanking.ErrRequisitionNotFound) {
			return true, OutcomeRequisitionMissing
		}
		if ctx.Err() == nil {
			log.Printf("Consent monitor: poll for %s failed: %v", ref, err)
		}
		return false, ""
	}
	if req.Pending() {
		return false, ""
	}

	// The window navigated through the backend callback before closing;
	// prefer whatever outcome marker that redirect recorded.
	if sess, err := m.store.Get(ctx, ref); err == nil && sess.Outcome != "" {
		return true, sess.Outcome
	}
	if req.Linked() {
		return true, OutcomeSuccess
	}
	return true, OutcomeThirdPartyError
}

// finish removes the poll from the registry, but only if it is still the
// registered one: a restarted poll must not unregister its replacement.
func (m *Monitor) finish(ref string, p *poll) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.polls[ref]; ok && cur == p {
		delete(m.polls, ref)
	}
}
