package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

const maxResponseBytes = 4096

// WebhookPayload is the JSON body sent by webhook actions without a template
type WebhookPayload struct {
	Event    string               `json:"event"`
	Message  string               `json:"message"`
	Instance *model.AlertInstance `json:"instance"`
	SentAt   time.Time            `json:"sent_at"`
}

// WebhookExecutor delivers alerts to an HTTP endpoint
type WebhookExecutor struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// NewWebhookExecutor creates a webhook executor
func NewWebhookExecutor(httpClient *http.Client, logger *zap.Logger) *WebhookExecutor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookExecutor{
		logger:     logger.Named("webhook"),
		httpClient: httpClient,
	}
}

// Execute implements Executor. Config keys: url, method (default POST),
// content_type, template and any number of "header.<Name>" entries.
func (e *WebhookExecutor) Execute(ctx context.Context, action *model.Action, instance *model.AlertInstance) (*model.ExecutionResult, error) {
	url := action.Get("url", "")
	if url == "" {
		return nil, fmt.Errorf("webhook action has no url")
	}
	method := strings.ToUpper(action.Get("method", http.MethodPost))

	body, contentType, err := webhookBody(action, instance)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for key, value := range action.Config {
		if name, ok := strings.CutPrefix(key, "header."); ok {
			req.Header.Set(name, value)
		}
	}

	e.logger.Info("Executing webhook",
		zap.String("instance_id", instance.ID),
		zap.String("method", method),
		zap.String("url", url))

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return failed("request failed: %v", err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result := failed("HTTP request failed with status: %d", resp.StatusCode)
		result.Response = string(respBody)
		return result, nil
	}
	return succeeded(string(respBody)), nil
}

func webhookBody(action *model.Action, instance *model.AlertInstance) ([]byte, string, error) {
	if _, ok := action.Config["template"]; ok {
		text, err := Render(action, instance)
		if err != nil {
			return nil, "", err
		}
		return []byte(text), action.Get("content_type", "text/plain"), nil
	}

	message, err := Render(action, instance)
	if err != nil {
		return nil, "", err
	}
	body, err := json.Marshal(WebhookPayload{
		Event:    "alert.triggered",
		Message:  message,
		Instance: instance,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return body, action.Get("content_type", "application/json"), nil
}
