package prompt

import (
	"strings"
	"unicode/utf8"
)

// Kind is the outcome of classifying a user query
type Kind int

const (
	KindNormal Kind = iota
	KindInjection
	KindGreeting
)

func (k Kind) String() string {
	switch k {
	case KindInjection:
		return "injection"
	case KindGreeting:
		return "greeting"
	default:
		return "normal"
	}
}

// DefaultGreetings are the exact phrases treated as small talk
var DefaultGreetings = []string{
	"hi",
	"hello",
	"hey",
	"good morning",
	"good afternoon",
	"good evening",
	"greetings",
}

// Inputs shorter than this (in runes, after trimming) are answered as greetings.
const minQuestionLength = 10

// Classification is the result of Classify
type Classification struct {
	Kind      Kind
	Detection *Detection
}

// ScopeGuard classifies queries before they reach retrieval.
// It is immutable after construction and safe for concurrent use.
type ScopeGuard struct {
	rules     []compiledRule
	greetings map[string]struct{}
}

// NewScopeGuard compiles the injection table. Nil greetings fall back to DefaultGreetings.
func NewScopeGuard(rules []InjectionRule, greetings []string) (*ScopeGuard, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	if greetings == nil {
		greetings = DefaultGreetings
	}
	set := make(map[string]struct{}, len(greetings))
	for _, g := range greetings {
		set[strings.ToLower(strings.TrimSpace(g))] = struct{}{}
	}
	return &ScopeGuard{rules: compiled, greetings: set}, nil
}

// Classify checks the raw input for injections first, then the sanitized
// input for greetings.
func (g *ScopeGuard) Classify(input string) Classification {
	if d, ok := g.IsInjectionAttempt(input); ok {
		return Classification{Kind: KindInjection, Detection: &d}
	}
	if g.IsGreeting(Sanitize(input)) {
		return Classification{Kind: KindGreeting}
	}
	return Classification{Kind: KindNormal}
}

// IsGreeting reports whether input is a known greeting or too short to be a question
func (g *ScopeGuard) IsGreeting(input string) bool {
	trimmed := strings.TrimSpace(input)
	if utf8.RuneCountInString(trimmed) < minQuestionLength {
		return true
	}
	_, ok := g.greetings[strings.ToLower(trimmed)]
	return ok
}

var markupStripper = strings.NewReplacer("<", "", ">", "", "{", "", "}", "")

// Sanitize collapses whitespace runs, trims, and strips angle and curly brackets.
func Sanitize(input string) string {
	collapsed := strings.Join(strings.Fields(input), " ")
	return markupStripper.Replace(collapsed)
}
