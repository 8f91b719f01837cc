package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agrisense/crop-fusion-service/internal/domain"
)

// LoadRules reads the threshold rule set from a YAML file, or returns the
// built-in defaults when path is empty.
func LoadRules(path string) (domain.RuleSet, error) {
	if path == "" {
		return domain.DefaultRuleSet(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RuleSet{}, fmt.Errorf("read rules file %s: %w", path, err)
	}

	var rs domain.RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return domain.RuleSet{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if err := rs.Validate(); err != nil {
		return domain.RuleSet{}, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rs, nil
}
