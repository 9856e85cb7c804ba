package handler

import (
	"context"
	"fmt"

	"github.com/nicholas-fedor/shoutrrr"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

// ChatExecutor sends alerts through a shoutrrr service URL, which covers
// ntfy, discord, telegram, teams, gotify and friends.
type ChatExecutor struct {
	logger *zap.Logger
	send   func(url, message string) error
}

// NewChatExecutor creates a chat executor
func NewChatExecutor(logger *zap.Logger) *ChatExecutor {
	return &ChatExecutor{
		logger: logger.Named("chat"),
		send:   shoutrrr.Send,
	}
}

// Execute implements Executor
func (e *ChatExecutor) Execute(ctx context.Context, action *model.Action, instance *model.AlertInstance) (*model.ExecutionResult, error) {
	url := action.Get("url", "")
	if url == "" {
		return nil, fmt.Errorf("chat action has no url")
	}
	message, err := Render(action, instance)
	if err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() { done <- e.send(url, message) }()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return failed("failed to send chat message: %v", err), nil
		}
	}

	e.logger.Info("Sent chat message", zap.String("instance_id", instance.ID))
	return succeeded("sent"), nil
}
