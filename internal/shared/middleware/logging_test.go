package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusWriter_RecordsFirstStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := newStatusWriter(rr)

	sw.WriteHeader(http.StatusConflict)
	sw.WriteHeader(http.StatusOK) // a handler's second write is ignored

	if sw.Status() != http.StatusConflict {
		t.Errorf("Status() = %d, want %d", sw.Status(), http.StatusConflict)
	}
	if rr.Code != http.StatusConflict {
		t.Errorf("recorded code = %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestStatusWriter_ImplicitOK(t *testing.T) {
	sw := newStatusWriter(httptest.NewRecorder())

	if sw.Status() != 0 {
		t.Errorf("Status() before any write = %d, want 0", sw.Status())
	}
	if sw.StatusOrOK() != http.StatusOK {
		t.Errorf("StatusOrOK() = %d, want %d", sw.StatusOrOK(), http.StatusOK)
	}
}

func TestLogging_PassesStatusThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/bank-connections/flows/abc", nil)
	rr := httptest.NewRecorder()
	Logging(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
}

func TestLogging_BodyOnlyHandler(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/bank-accounts", nil)
	rr := httptest.NewRecorder()
	Logging(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Body.String() != `[]` {
		t.Errorf("body = %q, want %q", rr.Body.String(), `[]`)
	}
}
