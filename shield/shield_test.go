package shield

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func chain(h http.Handler) http.Handler {
	stack := DefaultStack()
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}
	return h
}

func TestDefaultStack(t *testing.T) {
	var gotTrace, gotMethod string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrace = GetTraceID(r.Context())
		gotMethod = r.Method
		if GetLogger(r.Context()) == nil {
			t.Fatal("no request logger")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/vitals", nil))

	if gotMethod != http.MethodGet {
		t.Fatalf("method = %s, want GET", gotMethod)
	}
	if gotTrace == "" || rec.Header().Get("X-Trace-ID") != gotTrace {
		t.Fatalf("trace id %q, header %q", gotTrace, rec.Header().Get("X-Trace-ID"))
	}
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "Cache-Control"} {
		if rec.Header().Get(h) == "" {
			t.Fatalf("missing %s", h)
		}
	}
}

func TestTraceID_Propagates(t *testing.T) {
	h := TraceID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "abc123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Trace-ID") != "abc123" {
		t.Fatalf("trace id = %q", rec.Header().Get("X-Trace-ID"))
	}
}
