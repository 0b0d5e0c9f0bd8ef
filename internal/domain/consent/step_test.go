package consent

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, rawURL string) *url.URL {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", rawURL, err)
	}
	return u
}

func TestDeriveStep(t *testing.T) {
	tests := []struct {
		name         string
		url          string
		reconnecting bool
		want         Step
	}{
		{
			name: "add-bank route, new connection",
			url:  "https://console.example.com/bankaccounts/add-bank",
			want: StepSelectInstitution,
		},
		{
			name:         "add-bank route, reconnecting",
			url:          "https://console.example.com/bankaccounts/add-bank",
			reconnecting: true,
			want:         StepApproveConsent,
		},
		{
			name: "step=3 marker forces outcome step",
			url:  "https://console.example.com/bankaccounts/add-bank?step=3&message=success",
			want: StepOutcome,
		},
		{
			name:         "step=3 wins over reconnecting",
			url:          "https://console.example.com/bankaccounts/add-bank?step=3&message=user-404",
			reconnecting: true,
			want:         StepOutcome,
		},
		{
			name: "step=3 on an unrelated path still forces outcome",
			url:  "https://console.example.com/bankaccounts?step=3",
			want: StepOutcome,
		},
		{
			name: "trailing slash",
			url:  "https://console.example.com/bankaccounts/add-bank/",
			want: StepSelectInstitution,
		},
		{
			name: "other step values are ignored",
			url:  "https://console.example.com/bankaccounts/add-bank?step=2",
			want: StepSelectInstitution,
		},
		{
			name: "unrelated path defaults to step 1",
			url:  "https://console.example.com/grants",
			want: StepSelectInstitution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := mustParse(t, tt.url)

			got := DeriveStep(u, tt.reconnecting)
			if got != tt.want {
				t.Errorf("DeriveStep() = %d, want %d", got, tt.want)
			}

			// Re-deriving from the same URL must be idempotent: prior
			// in-memory state plays no role.
			if again := DeriveStep(u, tt.reconnecting); again != got {
				t.Errorf("DeriveStep() not idempotent: %d then %d", got, again)
			}
		})
	}
}

func TestDeriveStep_NilURL(t *testing.T) {
	if got := DeriveStep(nil, true); got != StepSelectInstitution {
		t.Errorf("DeriveStep(nil) = %d, want %d", got, StepSelectInstitution)
	}
}

func TestDeriveInviteStep(t *testing.T) {
	tests := []struct {
		url  string
		want Step
	}{
		{"https://console.example.com/bankaccounts/invite-users", InviteStepCompose},
		{"https://console.example.com/bankaccounts/invite-users?step=2", InviteStepConfirm},
		{"https://console.example.com/bankaccounts/invite-users?step=3", InviteStepCompose},
	}

	for _, tt := range tests {
		got := DeriveInviteStep(mustParse(t, tt.url))
		if got != tt.want {
			t.Errorf("DeriveInviteStep(%q) = %d, want %d", tt.url, got, tt.want)
		}
	}
}
