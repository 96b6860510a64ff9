package prompt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []InjectionRule `yaml:"rules"`
}

// LoadInjectionRules reads extra injection rules from a YAML file of the form
//
//	rules:
//	  - pattern: 'reveal\s+your\s+prompt'
//	    category: instruction_override
func LoadInjectionRules(path string) ([]InjectionRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read injection rules: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse injection rules %s: %w", path, err)
	}
	for i, r := range f.Rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("injection rule %d in %s: pattern is required", i, path)
		}
		if r.Category == "" {
			f.Rules[i].Category = CategoryInstructionOverride
		}
	}
	return f.Rules, nil
}
