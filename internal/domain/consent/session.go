package consent

import (
	"context"
	"errors"
	"time"
)

// Session is one consent/requisition run: created when the user selects an
// institution, discarded when the wizard closes or completes. It must
// survive the cross-origin redirect through the provider, so it lives in
// the session store rather than in process memory.
type Session struct {
	Ref               string    `json:"ref"`
	UserID            int64     `json:"userId"`
	InstitutionID     string    `json:"institutionId"`
	InstitutionName   string    `json:"institutionName"`
	LogoURL           string    `json:"logoUrl"`
	AccessWindowDays  int       `json:"accessWindowDays"`
	HistoryWindowDays int       `json:"historyWindowDays"`
	ConsentURL        string    `json:"consentUrl"`
	Outcome           string    `json:"outcome,omitempty"`
	Reconnecting      bool      `json:"reconnecting"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ErrSessionNotFound is returned when no session exists for a reference,
// typically because it expired or the wizard already completed.
var ErrSessionNotFound = errors.New("consent session not found")

// SessionStore persists consent sessions across page navigations and the
// provider redirect. Implementations must expire sessions on their own
// (the store is handed a TTL at construction).
type SessionStore interface {
	Save(ctx context.Context, session *Session) error
	Get(ctx context.Context, ref string) (*Session, error)
	Delete(ctx context.Context, ref string) error
}
