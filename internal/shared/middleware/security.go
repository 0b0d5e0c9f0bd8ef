package middleware

import (
	"net"
	"net/http"
	"strings"
)

// HSTS instructs browsers to keep using HTTPS for a year, subdomains
// included. Applied only when the server actually terminates TLS.
func HSTS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// SecureCookies rewrites outgoing Set-Cookie headers so every cookie
// carries Secure, HttpOnly and a SameSite attribute.
func SecureCookies(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&cookieSecurer{ResponseWriter: w}, r)
	})
}

// cookieSecurer hardens Set-Cookie headers just before they are flushed.
type cookieSecurer struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *cookieSecurer) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *cookieSecurer) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	header := w.ResponseWriter.Header()
	if cookies := header["Set-Cookie"]; len(cookies) > 0 {
		header.Del("Set-Cookie")
		for _, cookie := range cookies {
			header.Add("Set-Cookie", hardenCookie(cookie))
		}
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

// hardenCookie appends Secure, HttpOnly and SameSite=Lax to a cookie that
// lacks them. Lax, not Strict: the session cookie has to survive the
// top-level navigation back from the bank's consent pages, which is a
// cross-site GET.
func hardenCookie(cookie string) string {
	parts := strings.Split(cookie, ";")

	var hasSecure, hasHTTPOnly, hasSameSite bool
	for i, p := range parts {
		p = strings.TrimSpace(p)
		switch lower := strings.ToLower(p); {
		case lower == "secure":
			hasSecure = true
		case lower == "httponly":
			hasHTTPOnly = true
		case strings.HasPrefix(lower, "samesite"):
			hasSameSite = true
		}
		parts[i] = p
	}

	if !hasSecure {
		parts = append(parts, "Secure")
	}
	if !hasHTTPOnly {
		parts = append(parts, "HttpOnly")
	}
	if !hasSameSite {
		parts = append(parts, "SameSite=Lax")
	}
	return strings.Join(parts, "; ")
}

// RequireHTTPS redirects plain-HTTP requests to their HTTPS equivalent.
// Only used when this process terminates TLS itself; behind a proxy the
// X-Forwarded-Proto header already settles the scheme.
func RequireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isHTTPS := r.TLS != nil ||
			r.Header.Get("X-Forwarded-Proto") == "https" ||
			r.URL.Scheme == "https"
		if !isHTTPS {
			http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IsHostAllowed checks a request's Host against the configured allow list,
// ignoring ports on both sides. The HTTP-to-HTTPS redirect uses it so an
// attacker-controlled Host header cannot steer the redirect. An empty list
// allows everything.
func IsHostAllowed(host string, allowedHosts []string) bool {
	if len(allowedHosts) == 0 {
		return true
	}

	host = strings.ToLower(strings.TrimSpace(host))
	bareHost, _, err := net.SplitHostPort(host)
	if err != nil {
		bareHost = host
	}

	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		bareAllowed := allowed
		if idx := strings.Index(allowed, ":"); idx != -1 {
			bareAllowed = allowed[:idx]
		}
		if host == allowed || bareHost == bareAllowed {
			return true
		}
	}
	return false
}
