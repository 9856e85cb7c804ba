package datasource

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/evaluator"
	"github.com/t77yq/alert-engine/internal/model"
)

// Source fetches data for one data source type. Like evaluator.DataFetcher
// it returns nil, nil when there is no data.
type Source interface {
	Fetch(ctx context.Context, cond *model.Condition, tenantID string, evalCtx *evaluator.Context) (any, error)
}

// Registry routes fetches by condition.DataSource.Type
type Registry struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	sources map[model.DataSourceType]Source
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger.Named("datasource"),
		sources: make(map[model.DataSourceType]Source),
	}
}

// Register installs the source for typ
func (r *Registry) Register(typ model.DataSourceType, source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[typ] = source
}

// Fetch implements evaluator.DataFetcher
func (r *Registry) Fetch(ctx context.Context, cond *model.Condition, tenantID string, evalCtx *evaluator.Context) (any, error) {
	r.mu.RLock()
	source, ok := r.sources[cond.DataSource.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", evaluator.ErrUnknownSource, cond.DataSource.Type)
	}

	value, err := source.Fetch(ctx, cond, tenantID, evalCtx)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Fetched data",
		zap.String("tenant_id", tenantID),
		zap.String("source", string(cond.DataSource.Type)),
		zap.String("condition_id", cond.ID),
		zap.Bool("empty", value == nil))
	return value, nil
}
