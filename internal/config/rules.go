package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeywordRule is one (keyword, canned answer) pair. Order is significant.
type KeywordRule struct {
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`
	Keyword string `json:"keyword" yaml:"keyword"`
	Answer  string `json:"answer" yaml:"answer"`
}

// ParseKeywordRules decodes an ordered rule list. YAML is a superset of JSON, so
// both `[{"keyword":"pto","answer":"..."}]` and block YAML lists are accepted.
func ParseKeywordRules(raw string) ([]KeywordRule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var rules []KeywordRule
	if err := yaml.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("KEYWORD_RULES is not a valid rule list: %w", err)
	}
	if err := validateRules(rules); err != nil {
		return nil, fmt.Errorf("KEYWORD_RULES: %w", err)
	}
	return rules, nil
}

// LoadKeywordRulesFile reads the same list shape from a YAML or JSON file.
func LoadKeywordRulesFile(path string) ([]KeywordRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("KEYWORD_RULES_FILE: %w", err)
	}
	var rules []KeywordRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("KEYWORD_RULES_FILE %s: %w", path, err)
	}
	if err := validateRules(rules); err != nil {
		return nil, fmt.Errorf("KEYWORD_RULES_FILE %s: %w", path, err)
	}
	return rules, nil
}

// AssignRuleIDs fills missing ids with the rule's 1-based position.
func AssignRuleIDs(rules []KeywordRule) []KeywordRule {
	if len(rules) == 0 {
		return nil
	}
	out := make([]KeywordRule, len(rules))
	for i, r := range rules {
		r.Keyword = strings.TrimSpace(r.Keyword)
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			r.ID = fmt.Sprintf("rule-%d", i+1)
		}
		out[i] = r
	}
	return out
}

func validateRules(rules []KeywordRule) error {
	for i, r := range rules {
		if strings.TrimSpace(r.Keyword) == "" {
			return fmt.Errorf("rule %d has an empty keyword", i+1)
		}
		if strings.TrimSpace(r.Answer) == "" {
			return fmt.Errorf("rule %d (%q) has an empty answer", i+1, r.Keyword)
		}
	}
	return nil
}
