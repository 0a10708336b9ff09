package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"pressgate/pkg/httpx"
	"pressgate/pkg/store"
)

const (
	// HeaderKey is the client-supplied at-most-once key.
	HeaderKey = "Idempotency-Key"
	// HeaderStatus distinguishes first-time processing from cached replay.
	HeaderStatus = "Idempotency-Status"

	StatusCreated  = "created"
	StatusReplayed = "replayed"

	stateInProgress = "in_progress"
	stateCompleted  = "completed"

	codeConflict   = "IDEMPOTENCY_KEY_CONFLICT"
	codeInProgress = "IDEMPOTENCY_REQUEST_IN_PROGRESS"
)

// Record is the stored outcome of one client-declared operation.
type Record struct {
	State       string    `json:"state"`
	Fingerprint string    `json:"fingerprint"`
	StatusCode  int       `json:"statusCode,omitempty"`
	BodyType    string    `json:"bodyType,omitempty"`
	Body        string    `json:"body,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Gate enforces at-most-once processing per (method, Idempotency-Key).
// Bookkeeping failures fail open: the primary operation always proceeds,
// at worst without replay protection.
type Gate struct {
	Store         store.Store
	InProgressTTL time.Duration
	CompletedTTL  time.Duration
}

func NewGate(s store.Store, inProgressTTL, completedTTL time.Duration) *Gate {
	if inProgressTTL <= 0 {
		inProgressTTL = 30 * time.Second
	}
	if completedTTL <= 0 {
		completedTTL = 24 * time.Hour
	}
	return &Gate{Store: s, InProgressTTL: inProgressTTL, CompletedTTL: completedTTL}
}

func recordKey(method, key string) string { return "idem:" + method + ":" + key }

// Fingerprint hashes the request shape so that a reused key with a
// different payload is detected as a conflict.
func Fingerprint(method, path, query string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write([]byte(query))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}
		key := strings.TrimSpace(r.Header.Get(HeaderKey))
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		fingerprint := Fingerprint(r.Method, r.URL.Path, r.URL.RawQuery, body)
		storeKey := recordKey(r.Method, key)
		marker, _ := json.Marshal(Record{
			State:       stateInProgress,
			Fingerprint: fingerprint,
			CreatedAt:   time.Now().UTC(),
		})

		claimed, err := g.Store.SetNX(r.Context(), storeKey, string(marker), g.InProgressTTL)
		if err != nil {
			log.Printf("idempotency: claim %s failed, proceeding uncached: %v", key, err)
			next.ServeHTTP(w, r)
			return
		}
		if !claimed {
			g.answerFromRecord(w, r, storeKey, fingerprint, next)
			return
		}

		w.Header().Set(HeaderStatus, StatusCreated)
		capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(capture, r)
		g.finish(r, storeKey, fingerprint, capture)
	})
}

func (g *Gate) answerFromRecord(w http.ResponseWriter, r *http.Request, storeKey, fingerprint string, next http.Handler) {
	raw, err := g.Store.Get(r.Context(), storeKey)
	if err != nil {
		// the record vanished (TTL) or the store misbehaved; run the
		// request uncached rather than blocking it
		next.ServeHTTP(w, r)
		return
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		next.ServeHTTP(w, r)
		return
	}
	if rec.Fingerprint != fingerprint {
		httpx.ErrorCode(w, http.StatusConflict, codeConflict, "idempotency key reused with a different request")
		return
	}
	if rec.State == stateInProgress {
		httpx.ErrorCode(w, http.StatusConflict, codeInProgress, "request with this idempotency key is still in progress")
		return
	}
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(HeaderStatus, StatusReplayed)
	w.WriteHeader(rec.StatusCode)
	if rec.BodyType != "empty" {
		_, _ = w.Write([]byte(rec.Body))
	}
}

// finish either promotes the record to completed or deletes it. Server
// errors are never cached: the client must be able to retry them fresh.
func (g *Gate) finish(r *http.Request, storeKey, fingerprint string, capture *responseCapture) {
	ctx := r.Context()
	if capture.statusCode >= 500 {
		_ = g.Store.Del(ctx, storeKey)
		return
	}
	contentType := capture.Header().Get("Content-Type")
	bodyType := "empty"
	if capture.body.Len() > 0 {
		if strings.Contains(contentType, "json") {
			bodyType = "json"
		} else {
			bodyType = "text"
		}
	}
	payload, _ := json.Marshal(Record{
		State:       stateCompleted,
		Fingerprint: fingerprint,
		StatusCode:  capture.statusCode,
		BodyType:    bodyType,
		Body:        capture.body.String(),
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
	})
	if err := g.Store.Set(ctx, storeKey, string(payload), g.CompletedTTL); err != nil {
		log.Printf("idempotency: store completion failed, dropping record: %v", err)
		_ = g.Store.Del(ctx, storeKey)
	}
}

type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}
