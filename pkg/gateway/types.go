package gateway

import (
	"encoding/json"
	"time"
)

// ActionRequest is one tool invocation submitted by a client.
type ActionRequest struct {
	ToolName     string          `json:"toolName"`
	ToolInput    json.RawMessage `json:"toolInput,omitempty"`
	ConfirmToken string          `json:"confirmToken,omitempty"`
	DryRun       bool            `json:"dryRun,omitempty"`
}

// Action response statuses.
const (
	StatusSuccess              = "success"
	StatusConfirmationRequired = "confirmation_required"
	StatusDenied               = "denied"
	StatusError                = "error"
)

// Confirmation points the client at the parked intent it must approve.
type Confirmation struct {
	IntentID  string    `json:"intentId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ActionResponse is the gateway's answer to an ActionRequest.
type ActionResponse struct {
	Status        string          `json:"status"`
	Message       string          `json:"message,omitempty"`
	ToolName      string          `json:"toolName"`
	Policy        string          `json:"policy"`
	Result        json.RawMessage `json:"result,omitempty"`
	Confirmation  *Confirmation   `json:"confirmation,omitempty"`
	CorrelationID string          `json:"correlationId"`
}
