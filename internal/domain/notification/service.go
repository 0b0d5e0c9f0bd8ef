package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"subsidia/internal/shared/messages"
)

// Service contains the business logic for notification operations
type Service struct {
	repo      Repository
	messenger Messenger
	texts     *messages.Messages
}

// NewService creates a new notification service. A nil messenger disables
// push delivery; token registration keeps working.
func NewService(repo Repository, messenger Messenger, texts *messages.Messages) *Service {
	if texts == nil {
		texts = messages.Defaults()
	}
	return &Service{repo: repo, messenger: messenger, texts: texts}
}

// RegisterDevice registers a device token for the authenticated user.
// If the token already belongs to another user, it is reassigned.
func (s *Service) RegisterDevice(ctx context.Context, params CreateDeviceTokenParams) (*DeviceToken, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.UpsertDeviceToken(ctx, params)
}

// BankLinked notifies a user that their bank account was linked.
func (s *Service) BankLinked(ctx context.Context, userID int64, institutionName string) error {
	text := s.texts.BankLinked
	return s.sendToUser(ctx, userID, text.Title, fmt.Sprintf(text.Body, institutionName), map[string]string{
		"type": "bank_linked",
	})
}

// BankRevoked notifies a user that a bank connection and its data were removed.
func (s *Service) BankRevoked(ctx context.Context, userID int64, institutionName string) error {
	text := s.texts.BankRevoked
	return s.sendToUser(ctx, userID, text.Title, fmt.Sprintf(text.Body, institutionName), map[string]string{
		"type": "bank_revoked",
	})
}

// InvitedToAccount notifies a user that someone shared a bank account with them.
func (s *Service) InvitedToAccount(ctx context.Context, userID int64, ownerName string) error {
	text := s.texts.InvitationReceived
	return s.sendToUser(ctx, userID, text.Title, fmt.Sprintf(text.Body, ownerName), map[string]string{
		"type": "shared_account_invitation",
	})
}

// sendToUser delivers a push to every active device of a user. A user
// without devices is not an error. Tokens Firebase reports as gone are
// deactivated so they are not retried forever.
func (s *Service) sendToUser(ctx context.Context, userID int64, title, body string, data map[string]string) error {
	if userID <= 0 {
		return errors.New("valid user ID is required")
	}
	if s.messenger == nil {
		return nil
	}

	devices, err := s.repo.GetActiveTokensByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load device tokens for user %d: %w", userID, err)
	}
	if len(devices) == 0 {
		return nil
	}

	tokens := make([]string, len(devices))
	for i, d := range devices {
		tokens[i] = d.Token
	}

	if err := s.messenger.SendMulticast(ctx, tokens, title, body, data); err != nil {
		if isUnregisteredToken(err) {
			for _, token := range tokens {
				if derr := s.repo.DeactivateToken(ctx, token); derr != nil {
					log.Printf("Warning: failed to deactivate stale token for user %d: %v", userID, derr)
				}
			}
			return nil
		}
		return fmt.Errorf("failed to send push to user %d: %w", userID, err)
	}
	return nil
}

func isUnregisteredToken(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "registration-token-not-registered") ||
		strings.Contains(msg, "unregistered")
}
