package confirm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pressgate/pkg/auth"
	"pressgate/pkg/store"
)

var (
	ErrNotFound  = errors.New("confirm: intent not found")
	ErrExpired   = errors.New("confirm: intent expired")
	ErrForbidden = errors.New("confirm: actor mismatch")
	ErrDenied    = errors.New("confirm: confirmation denied")
)

const (
	DefaultTTL = 10 * time.Minute
	MaxTTL     = time.Hour
)

// Intent is a recorded request for a sensitive action awaiting confirmation.
type Intent struct {
	ID           string `json:"id"`
	ActorID      string `json:"actorId"`
	ActorRole    string `json:"actorRole"`
	ToolName     string `json:"toolName"`
	InputHash    string `json:"inputHash"`
	ExpiresAtMs  int64  `json:"expiresAtMs"`
	ConfirmToken string `json:"confirmToken,omitempty"`
}

func (in Intent) ExpiresAt() time.Time {
	return time.UnixMilli(in.ExpiresAtMs)
}

// Intents manages pending intents and their single-use confirm tokens on
// top of the ephemeral store. Store failures here fail closed: an action
// that cannot be recorded cannot be confirmed.
type Intents struct {
	store store.Store
	ttl   time.Duration
}

func NewIntents(s store.Store, ttl time.Duration) *Intents {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	return &Intents{store: s, ttl: ttl}
}

func (i *Intents) TTL() time.Duration { return i.ttl }

func intentKey(id string) string   { return "intent:" + id }
func tokenKey(token string) string { return "confirm:" + token }

// CreateIntent records a pending intent and returns its unguessable id.
func (i *Intents) CreateIntent(ctx context.Context, actor auth.Actor, toolName, inputHash string) (Intent, error) {
	intent := Intent{
		ID:          uuid.NewString(),
		ActorID:     actor.ID,
		ActorRole:   actor.Role,
		ToolName:    toolName,
		InputHash:   inputHash,
		ExpiresAtMs: time.Now().Add(i.ttl).UnixMilli(),
	}
	if err := i.writeIntent(ctx, intent, i.ttl); err != nil {
		return Intent{}, fmt.Errorf("confirm: record intent: %w", err)
	}
	return intent, nil
}

// IssueToken attaches a confirm token to a still-valid intent owned by
// actor. Issuance is idempotent: re-issuing for the same intent returns the
// same token until it is consumed or the intent expires.
func (i *Intents) IssueToken(ctx context.Context, intentID string, actor auth.Actor) (string, time.Time, error) {
	intent, err := i.loadIntent(ctx, intentID)
	if err != nil {
		return "", time.Time{}, err
	}
	if time.Now().After(intent.ExpiresAt()) {
		i.deleteIntent(ctx, intent)
		return "", time.Time{}, ErrExpired
	}
	if intent.ActorID != actor.ID {
		return "", time.Time{}, ErrForbidden
	}
	remaining := time.Until(intent.ExpiresAt())
	if intent.ConfirmToken == "" {
		intent.ConfirmToken = newToken()
		if err := i.writeIntent(ctx, intent, remaining); err != nil {
			i.deleteIntent(ctx, intent)
			return "", time.Time{}, fmt.Errorf("confirm: attach token: %w", err)
		}
	}
	if err := i.store.Set(ctx, tokenKey(intent.ConfirmToken), intent.ID, remaining); err != nil {
		i.deleteIntent(ctx, intent)
		return "", time.Time{}, fmt.Errorf("confirm: write token index: %w", err)
	}
	return intent.ConfirmToken, intent.ExpiresAt(), nil
}

// ConsumeToken validates and burns a confirm token. The token must belong
// to the calling actor and must have been issued for exactly this tool and
// input; on success both the intent and the token index are deleted, so a
// second consumption fails.
func (i *Intents) ConsumeToken(ctx context.Context, token string, actor auth.Actor, toolName, inputHash string) error {
	intentID, err := i.store.Get(ctx, tokenKey(token))
	if err != nil {
		return ErrDenied
	}
	intent, err := i.loadIntent(ctx, intentID)
	if err != nil {
		_ = i.store.Del(ctx, tokenKey(token))
		return ErrDenied
	}
	if time.Now().After(intent.ExpiresAt()) {
		i.deleteIntent(ctx, intent)
		return ErrExpired
	}
	if intent.ActorID != actor.ID || intent.ToolName != toolName || intent.InputHash != inputHash {
		return ErrDenied
	}
	i.deleteIntent(ctx, intent)
	return nil
}

func (i *Intents) loadIntent(ctx context.Context, id string) (Intent, error) {
	raw, err := i.store.Get(ctx, intentKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Intent{}, ErrNotFound
		}
		return Intent{}, fmt.Errorf("confirm: load intent: %w", err)
	}
	var intent Intent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return Intent{}, fmt.Errorf("confirm: decode intent: %w", err)
	}
	return intent, nil
}

func (i *Intents) writeIntent(ctx context.Context, intent Intent, ttl time.Duration) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return i.store.Set(ctx, intentKey(intent.ID), string(payload), ttl)
}

// deleteIntent removes the intent and its token index together; an orphan
// index would leave a replayable token behind.
func (i *Intents) deleteIntent(ctx context.Context, intent Intent) {
	_ = i.store.Del(ctx, intentKey(intent.ID))
	if intent.ConfirmToken != "" {
		_ = i.store.Del(ctx, tokenKey(intent.ConfirmToken))
	}
}

func newToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
