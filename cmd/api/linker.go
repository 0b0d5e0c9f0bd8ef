package main

import (
	"context"
	"log"
	"time"

	"subsidia/internal/domain/bankaccount"
	"subsidia/internal/domain/consent"
	"subsidia/internal/domain/notification"
	"subsidia/internal/infrastructure/openbanking"
)

// newLinkOnSuccess builds the consent service's window-closed hook: when a
// consent run finishes successfully the linked account is persisted and the
// user gets a push. Failed outcomes only reach the outcome screen.
func newLinkOnSuccess(
	store consent.SessionStore,
	client openbanking.ClientInterface,
	accounts *bankaccount.Service,
	notify *notification.Service,
) func(ref, outcome string) {
	return func(ref, outcome string) {
		if outcome != consent.OutcomeSuccess {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		session, err := store.Get(ctx, ref)
		if err != nil {
			log.Printf("Cannot link account for %s, session gone: %v", ref, err)
			return
		}

		requisition, err := client.GetRequisition(ctx, ref)
		if err != nil {
			log.Printf("Cannot link account for %s, requisition lookup failed: %v", ref, err)
			return
		}

		account, err := accounts.LinkFromConsent(ctx, bankaccount.CreateParams{
			OwnerUserID:     session.UserID,
			IBAN:            requisition.IBAN,
			Name:            requisition.AccountName,
			InstitutionName: session.InstitutionName,
			LogoURL:         session.LogoURL,
			RequisitionRef:  ref,
		})
		if err != nil {
			log.Printf("Failed to persist linked account for %s: %v", ref, err)
			return
		}

		if err := notify.BankLinked(ctx, account.OwnerUserID, account.InstitutionName); err != nil {
			log.Printf("Failed to notify user %d about linked account: %v", account.OwnerUserID, err)
		}
	}
}
