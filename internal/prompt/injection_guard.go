package prompt

import (
	"fmt"
	"regexp"
)

// Category groups injection rules by the kind of attack they describe
type Category string

const (
	CategoryInstructionOverride Category = "instruction_override"
	CategoryRoleManipulation    Category = "role_manipulation"
	CategorySystemDelimiter     Category = "system_delimiter"
	CategoryJailbreak           Category = "jailbreak"
)

// InjectionRule is one entry of the declarative injection table.
// Patterns are matched case-insensitively. Exclude, when set, vetoes a match
// of Pattern that it also matches at the same start position.
type InjectionRule struct {
	Pattern  string   `yaml:"pattern"`
	Category Category `yaml:"category"`
	Exclude  string   `yaml:"exclude,omitempty"`
}

// DefaultInjectionRules covers known override and jailbreak phrasings
var DefaultInjectionRules = []InjectionRule{
	{Pattern: `ignore\s+(previous|all|prior)\s+instructions`, Category: CategoryInstructionOverride},
	{Pattern: `new\s+instructions`, Category: CategoryInstructionOverride},
	{Pattern: `forget\s+(everything|all|previous)`, Category: CategoryInstructionOverride},
	{Pattern: `disregard\s+(previous|all|prior)`, Category: CategoryInstructionOverride},
	{Pattern: `override\s+instructions`, Category: CategoryInstructionOverride},

	{Pattern: `you\s+are\s+now`, Category: CategoryRoleManipulation},
	{Pattern: `your\s+new\s+role`, Category: CategoryRoleManipulation},
	{Pattern: `act\s+as\s+`, Category: CategoryRoleManipulation, Exclude: `act\s+as\s+a\s+helpful`},
	{Pattern: `pretend\s+to\s+be`, Category: CategoryRoleManipulation},
	{Pattern: `simulate\s+being`, Category: CategoryRoleManipulation},

	{Pattern: `system\s*:`, Category: CategorySystemDelimiter},
	{Pattern: `assistant\s*:`, Category: CategorySystemDelimiter},

	{Pattern: `hypothetically`, Category: CategoryJailbreak},
	{Pattern: `in\s+this\s+scenario`, Category: CategoryJailbreak},
	{Pattern: `jailbreak`, Category: CategoryJailbreak},
	{Pattern: `DAN\s+mode`, Category: CategoryJailbreak},
}

// Detection represents a detected injection attempt
type Detection struct {
	Category Category
	Pattern  string
	StartPos int
	EndPos   int
}

type compiledRule struct {
	rule    InjectionRule
	re      *regexp.Regexp
	exclude *regexp.Regexp
}

func compileRules(rules []InjectionRule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("injection rule %d: empty pattern", i)
		}
		re, err := regexp.Compile(`(?i)` + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("injection rule %d (%s): %w", i, r.Pattern, err)
		}
		cr := compiledRule{rule: r, re: re}
		if r.Exclude != "" {
			// Anchored so the veto applies only at the match position
			ex, err := regexp.Compile(`(?i)^(?:` + r.Exclude + `)`)
			if err != nil {
				return nil, fmt.Errorf("injection rule %d exclude (%s): %w", i, r.Exclude, err)
			}
			cr.exclude = ex
		}
		compiled = append(compiled, cr)
	}
	return compiled, nil
}

// matches returns the non-vetoed match positions of the rule in input
func (c compiledRule) matches(input string) [][]int {
	all := c.re.FindAllStringIndex(input, -1)
	if c.exclude == nil {
		return all
	}
	kept := all[:0]
	for _, m := range all {
		if !c.exclude.MatchString(input[m[0]:]) {
			kept = append(kept, m)
		}
	}
	return kept
}

// Detect lists every rule match in the input
func (g *ScopeGuard) Detect(input string) []Detection {
	var detections []Detection
	for _, cr := range g.rules {
		for _, m := range cr.matches(input) {
			detections = append(detections, Detection{
				Category: cr.rule.Category,
				Pattern:  cr.rule.Pattern,
				StartPos: m[0],
				EndPos:   m[1],
			})
		}
	}
	return detections
}

// IsInjectionAttempt reports whether any rule matches, stopping at the first hit
func (g *ScopeGuard) IsInjectionAttempt(input string) (Detection, bool) {
	for _, cr := range g.rules {
		if m := cr.matches(input); len(m) > 0 {
			return Detection{
				Category: cr.rule.Category,
				Pattern:  cr.rule.Pattern,
				StartPos: m[0][0],
				EndPos:   m[0][1],
			}, true
		}
	}
	return Detection{}, false
}
