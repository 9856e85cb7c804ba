package handler

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/t77yq/alert-engine/internal/model"
)

const defaultTemplate = `[{{ upper .Severity }}] {{ .RuleName }} triggered at {{ .TriggeredAt.Format "2006-01-02 15:04:05 MST" }}
{{- with .TriggerData }}
Condition {{ .ConditionID }} observed {{ .ObservedValue }}
{{- with .PercentChange }} ({{ printf "%.1f" (deref .) }}% change){{ end }}
{{- end }}`

var (
	templateFuncs = template.FuncMap{
		"upper": func(v interface{}) string { return strings.ToUpper(fmt.Sprint(v)) },
		"since": func(t time.Time) string { return time.Since(t).Round(time.Second).String() },
		"deref": func(f *float64) float64 {
			if f == nil {
				return 0
			}
			return *f
		},
	}
	templates sync.Map // source -> *template.Template
)

// Render builds the message text for an action. The action's "template"
// config is a text/template evaluated over the alert instance.
func Render(action *model.Action, instance *model.AlertInstance) (string, error) {
	return renderTemplate(action.Get("template", defaultTemplate), instance)
}

// Subject builds a one-line summary used by email and chat titles
func Subject(action *model.Action, instance *model.AlertInstance) (string, error) {
	return renderTemplate(action.Get("subject", "[{{ upper .Severity }}] {{ .RuleName }}"), instance)
}

func renderTemplate(source string, instance *model.AlertInstance) (string, error) {
	tmpl, err := parseTemplate(source)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, instance); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}

func parseTemplate(source string) (*template.Template, error) {
	if cached, ok := templates.Load(source); ok {
		return cached.(*template.Template), nil
	}
	tmpl, err := template.New("action").Funcs(templateFuncs).Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	templates.Store(source, tmpl)
	return tmpl, nil
}
