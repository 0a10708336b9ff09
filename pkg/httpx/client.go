package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// RequestJSON posts a JSON payload and returns the response status and body.
// Transport errors and 5xx responses are retried up to retries times with a
// fixed delay; 4xx responses are returned to the caller untouched.
func RequestJSON(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string, retries int, retryDelay time.Duration) (int, []byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		status, respBody, err := doJSONRequest(ctx, client, method, url, body, headers)
		if err == nil && status < 500 {
			return status, respBody, nil
		}
		if err == nil {
			// retryable server error
			if attempt == retries {
				return status, respBody, nil
			}
		} else {
			lastErr = err
			if attempt == retries {
				return 0, nil, err
			}
		}
		time.Sleep(retryDelay)
	}
	return 0, nil, lastErr
}

func doJSONRequest(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}
