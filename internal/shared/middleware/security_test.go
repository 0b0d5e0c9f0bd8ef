package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHSTS_SetsHeader(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	HSTS(next).ServeHTTP(rr, req)

	got := rr.Header().Get("Strict-Transport-Security")
	if !strings.Contains(got, "max-age=31536000") {
		t.Errorf("Strict-Transport-Security = %q, want a one-year max-age", got)
	}
}

func TestHardenCookie(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		want   []string
	}{
		{
			name:   "bare session cookie gets all attributes",
			cookie: "access_token=abc123; Path=/",
			want:   []string{"Secure", "HttpOnly", "SameSite=Lax"},
		},
		{
			name:   "existing SameSite is kept",
			cookie: "access_token=abc123; Path=/; SameSite=Lax; HttpOnly",
			want:   []string{"Secure", "SameSite=Lax"},
		},
		{
			name:   "fully hardened cookie is unchanged",
			cookie: "access_token=abc123; Path=/; Secure; HttpOnly; SameSite=Lax",
			want:   []string{"Secure", "HttpOnly", "SameSite=Lax"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hardenCookie(tt.cookie)
			for _, attr := range tt.want {
				if !strings.Contains(got, attr) {
					t.Errorf("hardenCookie(%q) = %q, missing %q", tt.cookie, got, attr)
				}
			}
			if strings.Count(got, "SameSite") != 1 {
				t.Errorf("hardenCookie(%q) = %q, want exactly one SameSite attribute", tt.cookie, got)
			}
		})
	}
}

func TestSecureCookies_DoesNotForceStrict(t *testing.T) {
	// The consent window returns through a cross-site top-level GET; a
	// Strict default would drop the session on that navigation.
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "access_token=abc123; Path=/")
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/login", nil)
	rr := httptest.NewRecorder()
	SecureCookies(next).ServeHTTP(rr, req)

	cookie := rr.Header().Get("Set-Cookie")
	if !strings.Contains(cookie, "SameSite=Lax") {
		t.Errorf("Set-Cookie = %q, want SameSite=Lax appended", cookie)
	}
	if strings.Contains(cookie, "SameSite=Strict") {
		t.Errorf("Set-Cookie = %q, must not force SameSite=Strict", cookie)
	}
}

func TestSecureCookies_BodyOnlyHandler(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "access_token=abc123")
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	SecureCookies(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if cookie := rr.Header().Get("Set-Cookie"); !strings.Contains(cookie, "Secure") {
		t.Errorf("Set-Cookie = %q, want Secure appended before the body flush", cookie)
	}
}

func TestRequireHTTPS_RedirectsPlainHTTP(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "http://api.subsidia.nl/api/bank-accounts", nil)
	// Real clients send origin-form request targets; httptest fills in the
	// absolute URL otherwise.
	req.RequestURI = "/api/bank-accounts"
	rr := httptest.NewRecorder()
	RequireHTTPS(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusMovedPermanently)
	}
	want := "https://api.subsidia.nl/api/bank-accounts"
	if got := rr.Header().Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}

func TestRequireHTTPS_PassesForwardedHTTPS(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "http://api.subsidia.nl/health", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	RequireHTTPS(next).ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("request behind a TLS-terminating proxy was redirected")
	}
}

func TestIsHostAllowed(t *testing.T) {
	allowed := []string{"api.subsidia.nl", "console.subsidia.nl:8443"}

	tests := []struct {
		name string
		host string
		want bool
	}{
		{"exact match", "api.subsidia.nl", true},
		{"match ignoring request port", "api.subsidia.nl:443", true},
		{"match ignoring configured port", "console.subsidia.nl", true},
		{"case insensitive", "API.Subsidia.NL", true},
		{"unknown host", "evil.example.com", false},
		{"subdomain does not inherit", "x.api.subsidia.nl", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHostAllowed(tt.host, allowed); got != tt.want {
				t.Errorf("IsHostAllowed(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}

	if !IsHostAllowed("anything.example.com", nil) {
		t.Error("empty allow list must allow every host")
	}
}
