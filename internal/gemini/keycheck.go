package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ubuygold/gosparklio/internal/failure"
)

// HTTPClient defines the interface for making HTTP requests.
// This allows for mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// KeyChecker verifies that an API key is accepted by the provider.
type KeyChecker struct {
	baseURL    string
	httpClient HTTPClient
}

// NewKeyChecker creates a KeyChecker against baseURL. A nil client uses a 10s timeout client.
func NewKeyChecker(baseURL string, client HTTPClient) *KeyChecker {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeyChecker{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

// CheckKey performs a simple, low-cost request to the Gemini API to validate a key.
// A nil error means the key works. Quota responses come back as failure.ErrQuotaExceeded
// (the key itself is valid), rejections as failure.ErrInvalidCredential and transport
// problems as failure.ErrNetwork.
func (c *KeyChecker) CheckKey(ctx context.Context, apiKey string) error {
	// Listing one model costs no tokens.
	testURL := c.baseURL + "/v1beta/models?pageSize=1&key=" + url.QueryEscape(apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, testURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create test request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failure.Wrap(failure.KindNetwork, failure.ErrNetwork.Message, redactKey(err, apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	detail := fmt.Errorf("test request returned status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || strings.Contains(strings.ToLower(string(body)), "quota"):
		return failure.Wrap(failure.KindQuotaExceeded, failure.ErrQuotaExceeded.Message, detail)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return failure.Wrap(failure.KindInvalidCredential, failure.ErrInvalidCredential.Message, detail)
	case resp.StatusCode >= http.StatusInternalServerError:
		return failure.Wrap(failure.KindNetwork, failure.ErrNetwork.Message, detail)
	}
	return failure.Wrap(failure.KindGeneric, "unexpected response while verifying API key", detail)
}

// redactKey strips the key from transport errors, which echo the request URL.
func redactKey(err error, apiKey string) error {
	if apiKey == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), url.QueryEscape(apiKey), "REDACTED")
	return fmt.Errorf("test request failed: %s", strings.ReplaceAll(msg, apiKey, "REDACTED"))
}
