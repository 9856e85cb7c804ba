package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

// ErrUnknownAction is returned when no executor is registered for an action type
var ErrUnknownAction = errors.New("unknown action type")

// Executor performs one attempt of an action for an alert instance.
// A returned error or an unsuccessful result both count as a failed attempt.
type Executor interface {
	Execute(ctx context.Context, action *model.Action, instance *model.AlertInstance) (*model.ExecutionResult, error)
}

// Registry routes actions to executors by type
type Registry struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	executors map[model.ActionType]Executor
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:    logger.Named("handler"),
		executors: make(map[model.ActionType]Executor),
	}
}

// Register installs the executor for typ
func (r *Registry) Register(typ model.ActionType, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[typ] = executor
}

// Execute implements Executor
func (r *Registry) Execute(ctx context.Context, action *model.Action, instance *model.AlertInstance) (*model.ExecutionResult, error) {
	r.mu.RLock()
	executor, ok := r.executors[action.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action.Type)
	}

	r.logger.Debug("Executing action",
		zap.String("action_id", action.ID),
		zap.String("type", string(action.Type)),
		zap.String("instance_id", instance.ID))
	return executor.Execute(ctx, action, instance)
}

func succeeded(response string) *model.ExecutionResult {
	return &model.ExecutionResult{Success: true, Response: response}
}

func failed(format string, args ...interface{}) *model.ExecutionResult {
	return &model.ExecutionResult{Success: false, Error: fmt.Sprintf(format, args...)}
}
