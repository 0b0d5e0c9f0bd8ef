package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsRequest(t *testing.T, allowedHosts []string, origin string) *httptest.ResponseRecorder {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/bank-connections/institutions", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rr := httptest.NewRecorder()
	CORS(allowedHosts)(next).ServeHTTP(rr, req)
	return rr
}

func TestCORS_NoAllowListIsOpen(t *testing.T) {
	rr := corsRequest(t, nil, "https://anywhere.example.com")

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	rr := corsRequest(t, []string{"console.subsidia.nl"}, "https://console.subsidia.nl")

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://console.subsidia.nl" {
		t.Errorf("Allow-Origin = %q, want the echoing origin", got)
	}
	// The auth cookie must be sendable from the console.
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true", got)
	}
	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
}

func TestCORS_UnknownOrigin(t *testing.T) {
	rr := corsRequest(t, []string{"console.subsidia.nl"}, "https://evil.example.com")

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for an unknown origin, want none", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Allow-Credentials = %q for an unknown origin, want none", got)
	}
}

func TestCORS_OriginPortIgnored(t *testing.T) {
	rr := corsRequest(t, []string{"localhost"}, "http://localhost:5173")

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q, want the dev origin echoed", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight reached the handler")
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/bank-accounts/10/invitations/search", nil)
	req.Header.Set("Origin", "https://console.subsidia.nl")
	rr := httptest.NewRecorder()
	CORS([]string{"console.subsidia.nl"})(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Error("preflight response missing Allow-Methods")
	}
}
