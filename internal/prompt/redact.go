package prompt

import (
	"regexp"
	"sort"
	"strings"
)

// PIIType labels a kind of personal data masked in stored query logs
type PIIType string

const (
	PIIEmail      PIIType = "EMAIL"
	PIIPhone      PIIType = "PHONE"
	PIICreditCard PIIType = "CARD"
	PIIIPAddress  PIIType = "IP"
)

type piiRule struct {
	kind    PIIType
	pattern *regexp.Regexp
	valid   func(string) bool
}

// Order matters: earlier rules win when spans overlap.
var piiRules = []piiRule{
	{kind: PIIEmail, pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{kind: PIICreditCard, pattern: regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), valid: luhn},
	{kind: PIIIPAddress, pattern: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)},
	{kind: PIIPhone, pattern: regexp.MustCompile(`(?:\+\d{1,3}[ .-]?)?\(?\b\d{3}\)?[ .-]?\d{3}[ .-]?\d{4}\b`)},
}

// PIIMatch is one detected span of personal data
type PIIMatch struct {
	Type  PIIType
	Start int
	End   int
}

// FindPII returns non-overlapping matches ordered by position
func FindPII(text string) []PIIMatch {
	var matches []PIIMatch
	for _, rule := range piiRules {
		for _, loc := range rule.pattern.FindAllStringIndex(text, -1) {
			if rule.valid != nil && !rule.valid(text[loc[0]:loc[1]]) {
				continue
			}
			if overlaps(matches, loc[0], loc[1]) {
				continue
			}
			matches = append(matches, PIIMatch{Type: rule.kind, Start: loc[0], End: loc[1]})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	return matches
}

// RedactPII replaces personal data with [TYPE] placeholders
func RedactPII(text string) string {
	matches := FindPII(text)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m.Start])
		b.WriteString("[" + string(m.Type) + "]")
		last = m.End
	}
	b.WriteString(text[last:])
	return b.String()
}

func overlaps(matches []PIIMatch, start, end int) bool {
	for _, m := range matches {
		if start < m.End && m.Start < end {
			return true
		}
	}
	return false
}

func luhn(number string) bool {
	sum, n := 0, 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		n++
	}
	return n >= 13 && sum%10 == 0
}
