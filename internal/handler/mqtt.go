package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/model"
)

// MQTTConfig holds the broker settings for mqtt actions
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
}

type mqttPublisher interface {
	IsConnected() bool
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTExecutor publishes alerts to an MQTT broker. The connection is
// opened on first use and kept for later actions.
type MQTTExecutor struct {
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	client mqttPublisher
}

// NewMQTTExecutor creates an MQTT executor
func NewMQTTExecutor(config MQTTConfig, logger *zap.Logger) *MQTTExecutor {
	clientID := config.ClientID
	if clientID == "" {
		clientID = "alert-engine"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)

	return newMQTTExecutor(mqtt.NewClient(opts), timeout, logger)
}

func newMQTTExecutor(client mqttPublisher, timeout time.Duration, logger *zap.Logger) *MQTTExecutor {
	return &MQTTExecutor{
		logger:  logger.Named("mqtt"),
		timeout: timeout,
		client:  client,
	}
}

// Execute implements Executor. Config keys: topic, qos (0-2), retained.
func (e *MQTTExecutor) Execute(ctx context.Context, action *model.Action, instance *model.AlertInstance) (*model.ExecutionResult, error) {
	topic := action.Get("topic", "")
	if topic == "" {
		return nil, fmt.Errorf("mqtt action has no topic")
	}
	qos, err := strconv.Atoi(action.Get("qos", "0"))
	if err != nil || qos < 0 || qos > 2 {
		return nil, fmt.Errorf("invalid qos %q", action.Get("qos", ""))
	}
	retained := action.Get("retained", "false") == "true"

	payload, err := mqttPayload(action, instance)
	if err != nil {
		return nil, err
	}

	if err := e.connect(); err != nil {
		return failed("%v", err), nil
	}

	token := e.client.Publish(topic, byte(qos), retained, payload)
	if err := e.wait(ctx, token); err != nil {
		return failed("failed to publish: %v", err), nil
	}

	e.logger.Info("Published alert",
		zap.String("instance_id", instance.ID),
		zap.String("topic", topic),
		zap.Int("qos", qos))
	return succeeded(topic), nil
}

// Close disconnects from the broker
func (e *MQTTExecutor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client.IsConnected() {
		e.client.Disconnect(250)
	}
}

func (e *MQTTExecutor) connect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client.IsConnected() {
		return nil
	}
	token := e.client.Connect()
	if !token.WaitTimeout(e.timeout) {
		return fmt.Errorf("connect timeout after %s", e.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	return nil
}

func (e *MQTTExecutor) wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}

func mqttPayload(action *model.Action, instance *model.AlertInstance) ([]byte, error) {
	if _, ok := action.Config["template"]; ok {
		text, err := Render(action, instance)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	}
	body, err := json.Marshal(instance)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instance: %w", err)
	}
	return body, nil
}
