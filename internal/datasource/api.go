package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/evaluator"
	"github.com/t77yq/alert-engine/internal/model"
)

// APISource polls a JSON HTTP endpoint and extracts a field by dotted path
type APISource struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// NewAPISource creates an API source
func NewAPISource(httpClient *http.Client, logger *zap.Logger) *APISource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &APISource{
		logger:     logger.Named("api-source"),
		httpClient: httpClient,
	}
}

// Fetch implements Source. A 404 or a missing field is reported as no data.
func (s *APISource) Fetch(ctx context.Context, cond *model.Condition, tenantID string, evalCtx *evaluator.Context) (any, error) {
	endpoint := cond.DataSource.Endpoint
	if endpoint == "" {
		return nil, fmt.Errorf("api source needs an endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)
	for key, value := range cond.DataSource.Params {
		req.Header.Set(key, value)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP request failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) == 0 {
		return nil, nil
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	value, ok := lookupPath(doc, cond.DataSource.Field)
	if !ok {
		return nil, nil
	}
	return value, nil
}
