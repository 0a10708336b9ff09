package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestRequestJSONRetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	status, body, err := RequestJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL, []byte(`{}`), nil, 2, 0)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if status != http.StatusOK || string(body) != `{"ok":true}` {
		t.Fatalf("status = %d body = %s", status, body)
	}
	if hits.Load() != 3 {
		t.Fatalf("server hit %d times", hits.Load())
	}
}

func TestRequestJSONDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	status, _, err := RequestJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL, nil, nil, 3, 0)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", status)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hit %d times", hits.Load())
	}
}

func TestRequestJSONSetsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("content type = %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Fatalf("auth header = %q", r.Header.Get("Authorization"))
		}
	}))
	defer srv.Close()

	headers := map[string]string{"Authorization": "Bearer tok"}
	if _, _, err := RequestJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL, []byte(`{}`), headers, 0, 0); err != nil {
		t.Fatalf("request: %v", err)
	}
}

func TestRequestJSONTransportError(t *testing.T) {
	if _, _, err := RequestJSON(context.Background(), nil, http.MethodGet, "http://127.0.0.1:1/none", nil, nil, 1, 0); err == nil {
		t.Fatal("expected transport error")
	}
}
