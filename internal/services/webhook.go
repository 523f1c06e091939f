package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// OpsWebhookService posts checkout events (payments completed, refunds
// issued, cleanup runs) to an internal operations webhook so the team sees
// money-related activity without tailing logs.
type OpsWebhookService struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewOpsWebhookService() *OpsWebhookService {
	url := os.Getenv("OPS_WEBHOOK_URL")
	return &OpsWebhookService{
		baseURL: url,
		apiKey:  os.Getenv("OPS_WEBHOOK_API_KEY"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a webhook endpoint is configured
func (s *OpsWebhookService) Enabled() bool {
	return s != nil && s.baseURL != ""
}

func (s *OpsWebhookService) makeRequest(method, endpoint string, payload interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, fmt.Sprintf("%s%s", s.baseURL, endpoint), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// NotifyEvent posts a named event with arbitrary details. No-op when the
// webhook is not configured.
func (s *OpsWebhookService) NotifyEvent(event string, details map[string]interface{}) error {
	if !s.Enabled() {
		return nil
	}
	return s.makeRequest("POST", "/api/events", map[string]interface{}{
		"event":   event,
		"sent_at": time.Now().UTC(),
		"details": details,
	})
}
