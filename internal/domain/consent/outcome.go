// Package consent implements the bank-consent linking flow: consent
// sessions against the open-banking provider, the wizard step machine that
// survives the cross-origin redirect, and the outcome classification shown
// when the user lands back on the console.
package consent

// Outcome codes appended to the callback URL by the consent redirect.
// The set is closed; anything else degrades to the generic failure record.
const (
	OutcomeSuccess            = "success"
	OutcomeThirdPartyError    = "third-party-error"
	OutcomeTokenExpired       = "jwt-token-expired"
	OutcomeTokenInvalid       = "jwt-validation-error"
	OutcomeUserNotFound       = "user-404"
	OutcomeRequisitionMissing = "requisition-404"
)

// Outcome is the user-facing classification of how a consent flow ended.
// Note is only set on success: the fixed sentence about transaction
// categorization still being underway.
type Outcome struct {
	Code        string `json:"code"`
	Success     bool   `json:"success"`
	Title       string `json:"title"`
	Description string `json:"description"`
	HasIcon     bool   `json:"hasIcon"`
	Note        string `json:"note,omitempty"`
}

const categorizationNote = "Het kan enkele minuten duren voordat alle transacties zijn opgehaald en gecategoriseerd."

var outcomes = map[string]Outcome{
	OutcomeSuccess: {
		Code:        OutcomeSuccess,
		Success:     true,
		Title:       "Koppelen voltooid!",
		Description: "Je bankrekening is succesvol gekoppeld aan de omgeving.",
		HasIcon:     true,
		Note:        categorizationNote,
	},
	OutcomeThirdPartyError: {
		Code:        OutcomeThirdPartyError,
		Title:       "Er ging iets mis bij je bank",
		Description: "De verbinding met je bank is niet tot stand gekomen. Probeer het later opnieuw.",
	},
	OutcomeTokenExpired: {
		Code:        OutcomeTokenExpired,
		Title:       "Sessie verlopen",
		Description: "Je sessie is verlopen tijdens het koppelen. Log opnieuw in en probeer het nog een keer.",
	},
	OutcomeTokenInvalid: {
		Code:        OutcomeTokenInvalid,
		Title:       "Sessie ongeldig",
		Description: "Je sessie kon niet worden geverifieerd. Log opnieuw in en probeer het nog een keer.",
	},
	OutcomeUserNotFound: {
		Code:        OutcomeUserNotFound,
		Title:       "Gebruiker Niet Gevonden",
		Description: "We konden je gebruikersaccount niet vinden. Neem contact op met de beheerder.",
	},
	OutcomeRequisitionMissing: {
		Code:        OutcomeRequisitionMissing,
		Title:       "Aanvraag niet gevonden",
		Description: "De koppelingsaanvraag kon niet worden teruggevonden. Start het koppelen opnieuw.",
	},
}

var genericFailure = Outcome{
	Code:        "error",
	Title:       "Koppelen mislukt",
	Description: "Er is iets misgegaan bij het koppelen van je bankrekening. Probeer het opnieuw.",
}

// ResolveOutcome maps a callback message code to its display record.
// The mapping is total: unrecognized or empty codes yield the generic
// failure record, never an error.
func ResolveOutcome(code string) Outcome {
	if outcome, ok := outcomes[code]; ok {
		return outcome
	}
	return genericFailure
}

// KnownOutcome reports whether code belongs to the closed outcome set.
// Callback input is untrusted; unknown codes are normalized before they
// are echoed into a redirect URL.
func KnownOutcome(code string) bool {
	_, ok := outcomes[code]
	return ok
}
