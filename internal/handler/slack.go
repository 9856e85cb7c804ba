package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

// SlackConfig holds the bot token used by slack actions
type SlackConfig struct {
	Token string
}

// SlackExecutor posts alerts to a Slack channel
type SlackExecutor struct {
	logger *zap.Logger
	client *slack.Client
}

// NewSlackExecutor creates a Slack executor
func NewSlackExecutor(config SlackConfig, logger *zap.Logger, options ...slack.Option) *SlackExecutor {
	return &SlackExecutor{
		logger: logger.Named("slack"),
		client: slack.New(config.Token, options...),
	}
}

// Execute implements Executor
func (e *SlackExecutor) Execute(ctx context.Context, action *model.Action, instance *model.AlertInstance) (*model.ExecutionResult, error) {
	channel := action.Get("channel", "")
	if channel == "" {
		return nil, fmt.Errorf("slack action has no channel")
	}

	text, err := Render(action, instance)
	if err != nil {
		return nil, err
	}
	title, err := Subject(action, instance)
	if err != nil {
		return nil, err
	}

	attachment := slack.Attachment{
		Color: severityColor(instance.Severity),
		Title: title,
		Text:  text,
		Fields: []slack.AttachmentField{
			{Title: "Status", Value: string(instance.Status), Short: true},
			{Title: "Alert", Value: instance.ID, Short: true},
		},
		Ts: slackJSONTime(instance),
	}

	channelID, timestamp, err := e.client.PostMessageContext(ctx, channel,
		slack.MsgOptionText(title, false),
		slack.MsgOptionAttachments(attachment))
	if err != nil {
		return failed("failed to post to slack: %v", err), nil
	}

	e.logger.Info("Posted slack message",
		zap.String("instance_id", instance.ID),
		zap.String("channel", channelID),
		zap.String("ts", timestamp))
	return succeeded(fmt.Sprintf("%s/%s", channelID, timestamp)), nil
}

func slackJSONTime(instance *model.AlertInstance) json.Number {
	return json.Number(strconv.FormatInt(instance.TriggeredAt.Unix(), 10))
}

func severityColor(p model.Priority) string {
	switch p {
	case model.PriorityCritical:
		return "danger"
	case model.PriorityHigh:
		return "warning"
	case model.PriorityMedium:
		return "#439FE0"
	default:
		return "good"
	}
}
