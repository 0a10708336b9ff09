package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification describes the outcome of a gated action for downstream
// consumers (audit trails, chat alerts, dashboards).
type Notification struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	ToolName      string          `json:"toolName"`
	ActorID       string          `json:"actorId"`
	ActorRole     string          `json:"actorRole"`
	Decision      string          `json:"decision"`
	Status        string          `json:"status"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Detail        json.RawMessage `json:"detail,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// New fills in the generated fields of a notification.
func New(kind, tool, actorID, actorRole, decision, status, correlationID string) Notification {
	return Notification{
		ID:            uuid.NewString(),
		Kind:          kind,
		ToolName:      tool,
		ActorID:       actorID,
		ActorRole:     actorRole,
		Decision:      decision,
		Status:        status,
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
	}
}

// Publisher delivers notifications to an external channel. Delivery is
// best-effort from the gateway's perspective.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
	Close() error
}

// NopPublisher drops every notification. Used when no channel is
// configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Notification) error { return nil }
func (NopPublisher) Close() error                                { return nil }
