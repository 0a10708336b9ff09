package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pressgate/pkg/httpx"
)

// WebhookPublisher POSTs each notification as JSON to a fixed URL.
type WebhookPublisher struct {
	Client     *http.Client
	URL        string
	Headers    map[string]string
	Retries    int
	RetryDelay time.Duration
}

func (p *WebhookPublisher) Publish(ctx context.Context, n Notification) error {
	if p == nil || p.URL == "" {
		return fmt.Errorf("webhook url is empty")
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	status, _, err := httpx.RequestJSON(ctx, client, http.MethodPost, p.URL, payload, p.Headers, p.Retries, p.RetryDelay)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("webhook returned status %d", status)
	}
	return nil
}

func (p *WebhookPublisher) Close() error { return nil }
