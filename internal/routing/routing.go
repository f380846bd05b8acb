// Package routing selects the destination project, owner and priority for an issue.
//
// Route is pure: it reads nothing but its arguments, so identical inputs always produce the
// identical decision.
package routing

import (
	"regexp"
	"sort"
	"strings"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

// Source tells where a decision came from.
type Source string

const (
	SourceRule    Source = "rule"
	SourceDefault Source = "default"
)

// Decision is a resolved destination.
type Decision struct {
	Target   domain.RoutingTarget
	RuleID   string
	RuleName string
	Source   Source
}

// Route evaluates rules by ascending priority and returns the first match. When nothing matches
// it falls back to fallback; ok is false if there is no fallback either.
func Route(event *domain.IssueEvent, rules []domain.RoutingRule, fallback *domain.RoutingTarget) (Decision, bool) {
	for _, rule := range Ordered(rules) {
		if !rule.Enabled {
			continue
		}
		if Matches(event, rule.Match) {
			return Decision{
				Target:   rule.Target,
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Source:   SourceRule,
			}, true
		}
	}
	if fallback != nil && fallback.ProjectID != "" {
		return Decision{Target: *fallback, Source: SourceDefault}, true
	}
	return Decision{}, false
}

// Ordered returns a copy of rules sorted by (Priority, ID).
func Ordered(rules []domain.RoutingRule) []domain.RoutingRule {
	out := make([]domain.RoutingRule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Matches reports whether every populated predicate field holds for event.
func Matches(event *domain.IssueEvent, m domain.RuleMatch) bool {
	if len(m.ProjectSlugs) > 0 && !containsFold(m.ProjectSlugs, event.ProjectSlug) {
		return false
	}
	if len(m.Environments) > 0 && !containsFold(m.Environments, event.Environment) {
		return false
	}
	if len(m.Levels) > 0 && !containsFold(m.Levels, event.Level) {
		return false
	}
	for key, want := range m.Tags {
		got, ok := event.TagValue(key)
		if !ok || got != want {
			return false
		}
	}
	if m.TitleContains != "" && !strings.Contains(strings.ToLower(event.Title), strings.ToLower(m.TitleContains)) {
		return false
	}
	if m.TitlePattern != "" && !matchPattern(m.TitlePattern, event.Title) {
		return false
	}
	if m.CulpritPattern != "" && !matchPattern(m.CulpritPattern, event.Culprit) {
		return false
	}
	return true
}

// ValidatePattern reports a regex that would never match because it does not compile.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	_, err := regexp.Compile(pattern)
	return err
}

// An invalid pattern never matches.
func matchPattern(pattern, value string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}
