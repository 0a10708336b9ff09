package idempotency

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pressgate/pkg/store"
)

func newTestGate() (*Gate, *atomic.Int64, http.Handler) {
	gate := NewGate(store.NewMemoryStore(), time.Minute, time.Hour)
	var calls atomic.Int64
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"echo":` + string(body) + `}`))
	}))
	return gate, &calls, handler
}

func doRequest(t *testing.T, handler http.Handler, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/actions/execute", bytes.NewReader([]byte(body)))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestFirstRequestMarkedCreated(t *testing.T) {
	_, calls, handler := newTestGate()

	rr := doRequest(t, handler, "key-1", `{"n":1}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get(HeaderStatus); got != StatusCreated {
		t.Fatalf("%s = %q, want %q", HeaderStatus, got, StatusCreated)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler calls = %d", calls.Load())
	}
}

func TestReplaySameKeySameBody(t *testing.T) {
	_, calls, handler := newTestGate()

	first := doRequest(t, handler, "key-1", `{"n":1}`)
	second := doRequest(t, handler, "key-1", `{"n":1}`)

	if got := second.Header().Get(HeaderStatus); got != StatusReplayed {
		t.Fatalf("%s = %q, want %q", HeaderStatus, got, StatusReplayed)
	}
	if second.Code != first.Code {
		t.Fatalf("replay status %d, original %d", second.Code, first.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replay body %q, original %q", second.Body.String(), first.Body.String())
	}
	if got := second.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("replay content-type = %q", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
}

func TestKeyReuseWithDifferentBodyConflicts(t *testing.T) {
	_, calls, handler := newTestGate()

	doRequest(t, handler, "key-1", `{"n":1}`)
	rr := doRequest(t, handler, "key-1", `{"n":2}`)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != codeConflict {
		t.Fatalf("error = %q, want %q", body["error"], codeConflict)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
}

func TestInProgressRequestRejected(t *testing.T) {
	gate := NewGate(store.NewMemoryStore(), time.Minute, time.Hour)

	release := make(chan struct{})
	started := make(chan struct{})
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		doRequest(t, handler, "key-1", `{}`)
	}()
	<-started

	rr := doRequest(t, handler, "key-1", `{}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["error"] != codeInProgress {
		t.Fatalf("error = %q, want %q", body["error"], codeInProgress)
	}

	close(release)
	<-done
}

func TestServerErrorNotCached(t *testing.T) {
	gate := NewGate(store.NewMemoryStore(), time.Minute, time.Hour)

	var calls atomic.Int64
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	first := doRequest(t, handler, "key-1", `{}`)
	if first.Code != http.StatusInternalServerError {
		t.Fatalf("first status = %d", first.Code)
	}

	second := doRequest(t, handler, "key-1", `{}`)
	if second.Code != http.StatusOK {
		t.Fatalf("retry after 500 status = %d, want 200", second.Code)
	}
	if got := second.Header().Get(HeaderStatus); got != StatusCreated {
		t.Fatalf("retry %s = %q, want %q", HeaderStatus, got, StatusCreated)
	}
	if calls.Load() != 2 {
		t.Fatalf("handler ran %d times, want 2", calls.Load())
	}
}

func TestClientErrorIsCached(t *testing.T) {
	gate := NewGate(store.NewMemoryStore(), time.Minute, time.Hour)

	var calls atomic.Int64
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("nope"))
	}))

	doRequest(t, handler, "key-1", `{}`)
	rr := doRequest(t, handler, "key-1", `{}`)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("replay status = %d", rr.Code)
	}
	if got := rr.Header().Get(HeaderStatus); got != StatusReplayed {
		t.Fatalf("%s = %q, want %q", HeaderStatus, got, StatusReplayed)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", calls.Load())
	}
}

func TestMissingKeyBypassesGate(t *testing.T) {
	_, calls, handler := newTestGate()

	rr := doRequest(t, handler, "", `{}`)
	if rr.Header().Get(HeaderStatus) != "" {
		t.Fatalf("unexpected %s header %q", HeaderStatus, rr.Header().Get(HeaderStatus))
	}
	doRequest(t, handler, "", `{}`)
	if calls.Load() != 2 {
		t.Fatalf("handler ran %d times, want 2", calls.Load())
	}
}

func TestGetRequestsBypassGate(t *testing.T) {
	gate := NewGate(store.NewMemoryStore(), time.Minute, time.Hour)
	var calls atomic.Int64
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(HeaderKey, "key-1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("handler ran %d times, want 2", calls.Load())
	}
}

func TestHandlerSeesFullBody(t *testing.T) {
	gate := NewGate(store.NewMemoryStore(), time.Minute, time.Hour)
	var seen string
	handler := gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	}))

	doRequest(t, handler, "key-1", `{"payload":"intact"}`)
	if seen != `{"payload":"intact"}` {
		t.Fatalf("handler saw body %q", seen)
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint("POST", "/a", "q=1", []byte(`{}`))
	if Fingerprint("PUT", "/a", "q=1", []byte(`{}`)) == base {
		t.Fatal("method must affect fingerprint")
	}
	if Fingerprint("POST", "/b", "q=1", []byte(`{}`)) == base {
		t.Fatal("path must affect fingerprint")
	}
	if Fingerprint("POST", "/a", "q=2", []byte(`{}`)) == base {
		t.Fatal("query must affect fingerprint")
	}
	if Fingerprint("POST", "/a", "q=1", []byte(`{"x":1}`)) == base {
		t.Fatal("body must affect fingerprint")
	}
	if Fingerprint("POST", "/a", "q=1", []byte(`{}`)) != base {
		t.Fatal("identical requests must fingerprint identically")
	}
}
