package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jarcoal/httpmock"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/t77yq/alert-engine/internal/model"
)

func testInstance() *model.AlertInstance {
	pct := 58.3
	return &model.AlertInstance{
		ID:          "inst-1",
		RuleID:      "rule-1",
		RuleName:    "High CPU",
		TenantID:    "t1",
		TriggeredAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Severity:    model.PriorityCritical,
		Status:      model.AlertStatusActive,
		TriggerData: &model.Snapshot{ConditionID: "c1", ObservedValue: 95.0, PercentChange: &pct},
	}
}

func TestRender(t *testing.T) {
	action := &model.Action{Type: model.ActionChat}
	text, err := Render(action, testInstance())
	require.NoError(t, err)
	assert.Contains(t, text, "[CRITICAL] High CPU triggered at 2026-03-14 09:30:00 UTC")
	assert.Contains(t, text, "Condition c1 observed 95")
	assert.Contains(t, text, "(58.3% change)")

	action.Config = map[string]string{"template": "{{ .TenantID }}/{{ .RuleName }}"}
	text, err = Render(action, testInstance())
	require.NoError(t, err)
	assert.Equal(t, "t1/High CPU", text)

	action.Config["template"] = "{{ .Nope "
	_, err = Render(action, testInstance())
	assert.Error(t, err)
}

func TestRegistryUnknownType(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	_, err := reg.Execute(context.Background(), &model.Action{Type: "pager"}, testInstance())
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestWebhookExecutor(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	var received WebhookPayload
	httpmock.RegisterResponder(http.MethodPost, "https://hooks.example.com/alerts",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			assert.Equal(t, "secret", req.Header.Get("X-Token"))
			body, _ := io.ReadAll(req.Body)
			require.NoError(t, json.Unmarshal(body, &received))
			return httpmock.NewStringResponse(200, "ok"), nil
		})
	httpmock.RegisterResponder(http.MethodPut, "https://hooks.example.com/down",
		httpmock.NewStringResponder(503, "unavailable"))

	executor := NewWebhookExecutor(client, zap.NewNop())
	action := &model.Action{Type: model.ActionWebhook, Config: map[string]string{
		"url":            "https://hooks.example.com/alerts",
		"header.X-Token": "secret",
	}}

	result, err := executor.Execute(context.Background(), action, testInstance())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Response)
	assert.Equal(t, "alert.triggered", received.Event)
	assert.Equal(t, "inst-1", received.Instance.ID)

	action.Config = map[string]string{"url": "https://hooks.example.com/down", "method": "put"}
	result, err = executor.Execute(context.Background(), action, testInstance())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "503")

	// anything outside 2xx is a failure, not just errors
	httpmock.RegisterResponder(http.MethodPost, "https://hooks.example.com/cached",
		httpmock.NewStringResponder(http.StatusNotModified, ""))
	action.Config = map[string]string{"url": "https://hooks.example.com/cached"}
	result, err = executor.Execute(context.Background(), action, testInstance())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "304")
}

func TestSlackExecutor(t *testing.T) {
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://slack.com/api/chat.postMessage",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseForm())
			assert.Equal(t, "#ops", req.PostForm.Get("channel"))
			assert.Contains(t, req.PostForm.Get("attachments"), "danger")
			return httpmock.NewJsonResponse(200, map[string]any{
				"ok": true, "channel": "C123", "ts": "1700000000.000100",
			})
		})

	executor := NewSlackExecutor(SlackConfig{Token: "xoxb-test"}, zap.NewNop(), slack.OptionHTTPClient(client))
	action := &model.Action{Type: model.ActionSlack, Config: map[string]string{"channel": "#ops"}}

	result, err := executor.Execute(context.Background(), action, testInstance())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "C123/1700000000.000100", result.Response)

	httpmock.RegisterResponder(http.MethodPost, "https://slack.com/api/chat.postMessage",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"ok": false, "error": "channel_not_found"}))
	result, err = executor.Execute(context.Background(), action, testInstance())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "channel_not_found")
}

type fakeMailer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeMailer) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func TestEmailExecutor(t *testing.T) {
	mailer := &fakeMailer{}
	executor := NewEmailExecutor(EmailConfig{From: "alerts@example.com"}, zap.NewNop())
	executor.sender = mailer

	action := &model.Action{Type: model.ActionEmail, Config: map[string]string{
		"to":      "a@example.com, b@example.com",
		"subject": "{{ .RuleName }} fired",
	}}
	result, err := executor.Execute(context.Background(), action, testInstance())
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, mailer.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"High CPU fired"}, mailer.sent[0].GetHeader("Subject"))

	mailer.err = errors.New("connection refused")
	result, err = executor.Execute(context.Background(), action, testInstance())
	require.NoError(t, err)
	assert.False(t, result.Success)

	_, err = executor.Execute(context.Background(), &model.Action{Type: model.ActionEmail}, testInstance())
	assert.Error(t, err)
}

func TestChatExecutor(t *testing.T) {
	var gotURL, gotMessage string
	executor := NewChatExecutor(zap.NewNop())
	executor.send = func(url, message string) error {
		gotURL, gotMessage = url, message
		return nil
	}

	action := &model.Action{Type: model.ActionChat, Config: map[string]string{
		"url":      "ntfy://ntfy.sh/ops-alerts",
		"template": "{{ .RuleName }} is {{ .Status }}",
	}}
	result, err := executor.Execute(context.Background(), action, testInstance())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ntfy://ntfy.sh/ops-alerts", gotURL)
	assert.Equal(t, "High CPU is active", gotMessage)

	executor.send = func(string, string) error { return errors.New("service unreachable") }
	result, err = executor.Execute(context.Background(), action, testInstance())
	require.NoError(t, err)
	assert.False(t, result.Success)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMQTT struct {
	connected bool
	topic     string
	qos       byte
	payload   []byte
	err       error
}

func (f *fakeMQTT) IsConnected() bool   { return f.connected }
func (f *fakeMQTT) Disconnect(uint)     { f.connected = false }
func (f *fakeMQTT) Connect() mqtt.Token { f.connected = true; return newFakeToken(nil) }
func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.topic, f.qos, f.payload = topic, qos, payload.([]byte)
	return newFakeToken(f.err)
}

func TestMQTTExecutor(t *testing.T) {
	client := &fakeMQTT{}
	executor := newMQTTExecutor(client, time.Second, zap.NewNop())

	action := &model.Action{Type: model.ActionMQTT, Config: map[string]string{"topic": "alerts/t1", "qos": "1"}}
	result, err := executor.Execute(context.Background(), action, testInstance())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, client.connected)
	assert.Equal(t, "alerts/t1", client.topic)
	assert.Equal(t, byte(1), client.qos)

	var published model.AlertInstance
	require.NoError(t, json.Unmarshal(client.payload, &published))
	assert.Equal(t, "inst-1", published.ID)

	client.err = errors.New("not authorized")
	result, err = executor.Execute(context.Background(), action, testInstance())
	require.NoError(t, err)
	assert.False(t, result.Success)

	action.Config["qos"] = "3"
	_, err = executor.Execute(context.Background(), action, testInstance())
	assert.Error(t, err)

	executor.Close()
	assert.False(t, client.connected)
}
