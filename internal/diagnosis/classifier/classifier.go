// Package classifier maps failure evidence to one kind of a closed
// taxonomy using an ordered, first-match-wins rule table.
package classifier

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/vietddude/workflow-monitor/internal/core/domain"
)

// MaxExcerpt is the longest evidence excerpt kept in a diagnosis, in runes.
const MaxExcerpt = 200

// Classifier evaluates rules top to bottom.
type Classifier struct {
	rules []Rule
}

// New builds a classifier from the default rules plus extra patterns per
// kind. Extra patterns join the rule of their kind so the priority order is
// unchanged; patterns for unknown join the workflow_config rule.
func New(extra map[string][]string) (*Classifier, error) {
	for kind := range extra {
		if _, err := domain.ParseFailureKind(kind); err != nil {
			return nil, err
		}
	}

	rules := DefaultRules()
	for i := range rules {
		name := string(rules[i].Kind)
		if _, ok := extra[name]; !ok {
			continue
		}
		for _, expr := range extra[name] {
			re, err := regexp.Compile(flags + expr)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern for %s: %w", name, err)
			}
			rules[i].Patterns = append(rules[i].Patterns, re)
		}
	}
	return NewWithRules(rules), nil
}

// NewWithRules builds a classifier over an explicit rule table.
func NewWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Default returns a classifier over the built-in rules.
func Default() *Classifier {
	return NewWithRules(DefaultRules())
}

// Rules returns the rule table in evaluation order.
func (c *Classifier) Rules() []Rule {
	return slices.Clone(c.rules)
}

// Classify never fails: evidence nothing recognises is kind unknown.
func (c *Classifier) Classify(ev domain.Evidence) domain.Diagnosis {
	d := domain.Diagnosis{
		JobID:     ev.JobID,
		RunID:     ev.RunID,
		URL:       ev.URL,
		Timestamp: ev.Timestamp,
	}

	log := strings.ToValidUTF8(ev.Log, "�")
	if strings.TrimSpace(log) == "" && ev.ExitCode == nil {
		d.Kind = domain.FailureKindUnknown
		d.Severity = domain.SeverityMedium
		d.SuggestedAction = domain.ActionEscalate
		d.Description = "No log output to diagnose"
		return d
	}

	for _, r := range c.rules {
		excerpt, ok := r.match(log, ev.ExitCode)
		if !ok {
			continue
		}
		d.Kind = r.Kind
		d.Excerpt = truncate(excerpt)
		d.Confidence = r.Confidence
		d.Severity = r.Severity
		d.Fixable = r.Fixable
		d.SuggestedAction = r.Suggest
		d.Description = r.Description
		return d
	}

	d.Kind = domain.FailureKindUnknown
	d.Severity = domain.SeverityHigh
	d.SuggestedAction = domain.ActionEscalate
	d.Description = "Unknown failure, requires human review"
	d.Confidence = 0.1
	for _, re := range snippetPatterns {
		if m := re.FindString(log); m != "" {
			d.Excerpt = truncate(strings.TrimSpace(m))
			d.Confidence = 0.3
			break
		}
	}
	return d
}

func (r Rule) match(log string, exitCode *int) (string, bool) {
	for _, re := range r.Patterns {
		if loc := re.FindStringIndex(log); loc != nil {
			return log[loc[0]:loc[1]], true
		}
	}
	if exitCode != nil && slices.Contains(r.ExitCodes, *exitCode) {
		return fmt.Sprintf("exit code %d", *exitCode), true
	}
	return "", false
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxExcerpt {
		return s
	}
	return string([]rune(s)[:MaxExcerpt])
}
