package consent

import (
	"net/url"
	"strings"
)

// Step identifies which screen of the add-bank wizard is active.
type Step int

const (
	StepSelectInstitution Step = 1
	StepApproveConsent    Step = 2
	StepOutcome           Step = 3
)

// Invitation flow steps (two-step variant).
const (
	InviteStepCompose Step = 1
	InviteStepConfirm Step = 2
)

// DeriveStep computes the wizard step from a URL. The URL is the single
// source of truth: any in-memory step is a cache of this derivation, which
// is what makes a page reload or deep-link re-entry land on the right
// screen. A step=3 marker always wins; otherwise the add-bank route is
// step 2 when reconnecting an existing account and step 1 for a new link.
func DeriveStep(u *url.URL, reconnecting bool) Step {
	if u == nil {
		return StepSelectInstitution
	}
	if u.Query().Get("step") == "3" {
		return StepOutcome
	}
	if isAddBankPath(u.Path) {
		if reconnecting {
			return StepApproveConsent
		}
		return StepSelectInstitution
	}
	return StepSelectInstitution
}

// DeriveInviteStep computes the invitation wizard step from a URL
// (resumption marker: …/bankaccounts/invite-users?step=2).
func DeriveInviteStep(u *url.URL) Step {
	if u != nil && u.Query().Get("step") == "2" {
		return InviteStepConfirm
	}
	return InviteStepCompose
}

func isAddBankPath(path string) bool {
	return strings.HasSuffix(strings.TrimSuffix(path, "/"), "/add-bank")
}
