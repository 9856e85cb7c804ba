package handler

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/t77yq/alert-engine/internal/model"
)

// EmailConfig holds the SMTP settings for email actions
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailExecutor sends alert notifications over SMTP
type EmailExecutor struct {
	logger *zap.Logger
	config EmailConfig
	sender mailSender
}

// NewEmailExecutor creates an email executor
func NewEmailExecutor(config EmailConfig, logger *zap.Logger) *EmailExecutor {
	return &EmailExecutor{
		logger: logger.Named("email"),
		config: config,
		sender: gomail.NewDialer(config.Host, config.Port, config.Username, config.Password),
	}
}

// Execute implements Executor
func (e *EmailExecutor) Execute(ctx context.Context, action *model.Action, instance *model.AlertInstance) (*model.ExecutionResult, error) {
	recipients := action.List("to")
	if len(recipients) == 0 {
		return nil, fmt.Errorf("email action has no recipients")
	}

	subject, err := Subject(action, instance)
	if err != nil {
		return nil, err
	}
	body, err := Render(action, instance)
	if err != nil {
		return nil, err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", action.Get("from", e.config.From))
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	e.logger.Info("Sending email",
		zap.String("instance_id", instance.ID),
		zap.Int("recipients", len(recipients)))

	done := make(chan error, 1)
	go func() { done <- e.sender.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return failed("failed to send email: %v", err), nil
		}
	}
	return succeeded(fmt.Sprintf("sent to %s", strings.Join(recipients, ", "))), nil
}
