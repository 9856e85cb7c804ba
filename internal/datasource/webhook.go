package datasource

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/evaluator"
	"github.com/t77yq/alert-engine/internal/model"
)

const maxWebhookSamples = 500

type webhookSample struct {
	ReceivedAt time.Time
	Payload    any
}

// WebhookSource keeps recently captured webhook payloads per tenant and
// source name. Payloads expire after the configured TTL.
type WebhookSource struct {
	logger  *zap.Logger
	mu      sync.Mutex
	samples *cache.Cache
}

// NewWebhookSource creates a webhook source whose samples live for ttl
func NewWebhookSource(ttl time.Duration, logger *zap.Logger) *WebhookSource {
	return &WebhookSource{
		logger:  logger.Named("webhook-source"),
		samples: cache.New(ttl, ttl/2),
	}
}

// Capture records a payload received for tenantID on source
func (s *WebhookSource) Capture(tenantID, source string, payload any, at time.Time) {
	key := webhookKey(tenantID, source)

	s.mu.Lock()
	defer s.mu.Unlock()

	var samples []webhookSample
	if cached, ok := s.samples.Get(key); ok {
		samples = cached.([]webhookSample)
	}
	samples = append(samples, webhookSample{ReceivedAt: at, Payload: payload})
	if len(samples) > maxWebhookSamples {
		samples = samples[len(samples)-maxWebhookSamples:]
	}
	s.samples.SetDefault(key, samples)

	s.logger.Debug("Captured webhook payload",
		zap.String("tenant_id", tenantID),
		zap.String("source", source),
		zap.Int("buffered", len(samples)))
}

// Fetch implements Source. Without a window the latest payload is used;
// with one, every payload received inside it.
func (s *WebhookSource) Fetch(ctx context.Context, cond *model.Condition, tenantID string, evalCtx *evaluator.Context) (any, error) {
	s.mu.Lock()
	cached, ok := s.samples.Get(webhookKey(tenantID, cond.DataSource.Endpoint))
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	samples := cached.([]webhookSample)
	if len(samples) == 0 {
		return nil, nil
	}

	since, windowed := windowStart(cond, now(evalCtx))
	if !windowed {
		value, found := lookupPath(samples[len(samples)-1].Payload, cond.DataSource.Field)
		if !found {
			return nil, nil
		}
		return value, nil
	}

	var values []any
	for _, sample := range samples {
		if sample.ReceivedAt.Before(since) {
			continue
		}
		if value, found := lookupPath(sample.Payload, cond.DataSource.Field); found {
			values = append(values, value)
		}
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

func webhookKey(tenantID, source string) string {
	return tenantID + "/" + source
}
