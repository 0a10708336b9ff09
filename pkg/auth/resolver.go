package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"pressgate/pkg/httpx"
)

// ErrBadCredentials is returned when the identity backend rejects a
// username/password pair.
var ErrBadCredentials = errors.New("auth: bad credentials")

// Resolver maps a username/password credential to an actor. The platform's
// user directory is an external collaborator reached over HTTP.
type Resolver interface {
	Resolve(ctx context.Context, username, password string) (Actor, error)
}

type HTTPResolver struct {
	Client     *http.Client
	Endpoint   string
	Headers    map[string]string
	Retries    int
	RetryDelay time.Duration
}

func (h HTTPResolver) Resolve(ctx context.Context, username, password string) (Actor, error) {
	if h.Endpoint == "" {
		return Actor{}, errors.New("auth: resolver endpoint is empty")
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	payload, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return Actor{}, err
	}
	status, body, err := httpx.RequestJSON(ctx, client, http.MethodPost, h.Endpoint, payload, h.Headers, h.Retries, h.RetryDelay)
	if err != nil {
		return Actor{}, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return Actor{}, ErrBadCredentials
	}
	if status >= 300 {
		return Actor{}, errors.New("auth: identity upstream error")
	}
	var actor Actor
	if err := json.Unmarshal(body, &actor); err != nil {
		return Actor{}, err
	}
	if actor.ID == "" || actor.Role == "" {
		return Actor{}, errors.New("auth: identity response missing id or role")
	}
	return actor, nil
}
