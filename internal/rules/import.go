package rules

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/t77yq/alert-engine/internal/model"
)

// ImportError reports which document entry failed validation
type ImportError struct {
	Index int
	Name  string
	Err   error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("rule %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// ParseYAML decodes rules from YAML. The document is either a list of
// rules or a mapping with a "rules" list. Multiple documents are allowed.
func ParseYAML(data []byte) ([]*model.Rule, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))

	var rules []*model.Rule
	for {
		var doc yaml.Node
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse yaml: %v", model.ErrInvalidRule, err)
		}
		if len(doc.Content) == 0 {
			continue
		}

		list := doc.Content[0]
		if list.Kind == yaml.MappingNode {
			list = mappingValue(list, "rules")
			if list == nil {
				return nil, fmt.Errorf("%w: yaml mapping has no rules key", model.ErrInvalidRule)
			}
		}
		if list.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("%w: expected a list of rules", model.ErrInvalidRule)
		}

		for _, item := range list.Content {
			rule := NewDraft()
			if err := item.Decode(rule); err != nil {
				return nil, &ImportError{Index: len(rules), Err: fmt.Errorf("%w: %v", model.ErrInvalidRule, err)}
			}
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// Import parses and stores a batch of rules for tenantID. Every rule is
// validated before any is stored.
func (s *Service) Import(ctx context.Context, tenantID string, data []byte) ([]*model.Rule, error) {
	rules, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: no rules in document", model.ErrInvalidRule)
	}

	for i, rule := range rules {
		if err := s.prepare(tenantID, rule); err != nil {
			return nil, &ImportError{Index: i, Name: rule.Name, Err: err}
		}
	}

	for i, rule := range rules {
		if err := s.store.CreateRule(ctx, rule); err != nil {
			return rules[:i], fmt.Errorf("failed to store rule %q: %w", rule.Name, err)
		}
	}

	s.logger.Info("Rules imported",
		zap.String("tenant_id", tenantID),
		zap.Int("count", len(rules)))
	return rules, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
