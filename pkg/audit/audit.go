// Package audit persists a durable trail of gateway decisions in Postgres.
// One row per action request, keyed by correlation id.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Writer appends decision records. With Redact enabled the actor id and the
// raw tool input are replaced by salted hashes before they reach the database.
type Writer struct {
	DB       auditDB
	HashSalt []byte
	Redact   bool
}

type Record struct {
	CorrelationID string          `json:"correlationId"`
	Tool          string          `json:"tool"`
	ActorID       string          `json:"actorId"`
	ActorRole     string          `json:"actorRole"`
	Decision      string          `json:"decision"`
	Status        string          `json:"status"`
	InputRaw      json.RawMessage `json:"inputRaw,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func (w *Writer) Append(ctx context.Context, rec Record) error {
	if w.Redact {
		rec = redactRecord(rec, w.HashSalt)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO action_audit
		(correlation_id, tool, actor_id, actor_role, decision, status, input_raw, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.CorrelationID, rec.Tool, rec.ActorID, rec.ActorRole, rec.Decision, rec.Status, rec.InputRaw, rec.CreatedAt)
	return err
}

func (w *Writer) Get(ctx context.Context, correlationID string) (Record, error) {
	var rec Record
	row := w.DB.QueryRow(ctx, `
		SELECT correlation_id, tool, actor_id, actor_role, decision, status, input_raw, created_at
		FROM action_audit WHERE correlation_id=$1
	`, correlationID)
	var input json.RawMessage
	if err := row.Scan(&rec.CorrelationID, &rec.Tool, &rec.ActorID, &rec.ActorRole, &rec.Decision, &rec.Status, &input, &rec.CreatedAt); err != nil {
		return rec, err
	}
	rec.InputRaw = input
	return rec, nil
}
