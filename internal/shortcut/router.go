// Package shortcut answers a fixed set of prompt classes locally so they never
// reach a language model.
package shortcut

import (
	_ "embed"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Category is the result of classifying a prompt.
type Category string

const (
	None      Category = "none"
	Identity  Category = "identity"
	DateQuery Category = "date"
)

// IdentityReply is returned for every identity question. It must never name
// the model vendor behind the assistant.
const IdentityReply = "I am CodeMate, an AI coding assistant created by the Nexora Labs team in Mumbai, India. " +
	"I was designed and trained by Nexora Labs to help developers write, understand and debug code. " +
	"Ask me for code, explanations or worked examples in any mainstream programming language."

const dateLayout = "Monday, January 2, 2006"

//go:embed keywords.yaml
var defaultKeywords []byte

var stripper = strings.NewReplacer("?", "", ".", "", ",", "", "!", "")

// Rule maps a category to the phrases that select it.
type Rule struct {
	Category Category `yaml:"category"`
	Phrases  []string `yaml:"phrases"`
}

type ruleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Router classifies prompts against an ordered rule list.
type Router struct {
	rules []Rule
	loc   *time.Location
	now   func() time.Time
}

type Option func(*Router)

// WithClock overrides the time source used for date replies.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// WithRules replaces the embedded phrase sets.
func WithRules(rules []Rule) Option {
	return func(r *Router) {
		r.rules = rules
	}
}

// New builds a Router from the embedded phrase sets.
func New(opts ...Option) (*Router, error) {
	rules, err := ParseRules(defaultKeywords)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return nil, fmt.Errorf("shortcut: load India time zone: %w", err)
	}
	r := &Router{rules: rules, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ParseRules decodes a YAML rule document.
func ParseRules(raw []byte) ([]Rule, error) {
	var set ruleSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("shortcut: decode rules: %w", err)
	}
	for i, rule := range set.Rules {
		switch rule.Category {
		case Identity, DateQuery:
		default:
			return nil, fmt.Errorf("shortcut: rule %d has unknown category %q", i, rule.Category)
		}
		for j, p := range rule.Phrases {
			set.Rules[i].Phrases[j] = normalize(p)
		}
	}
	return set.Rules, nil
}

func normalize(s string) string {
	return stripper.Replace(strings.ToLower(s))
}

// Classify returns the first category whose phrase occurs in the normalized
// prompt, or None.
func (r *Router) Classify(prompt string) Category {
	text := normalize(prompt)
	for _, rule := range r.rules {
		for _, phrase := range rule.Phrases {
			if phrase != "" && strings.Contains(text, phrase) {
				return rule.Category
			}
		}
	}
	return None
}

// Reply returns the fixed answer for a shortcut category.
func (r *Router) Reply(c Category) (string, bool) {
	switch c {
	case Identity:
		return IdentityReply, true
	case DateQuery:
		return fmt.Sprintf("Today is %s (India/Mumbai time).", r.Today()), true
	default:
		return "", false
	}
}

// Today formats the current India civil date, e.g. "Monday, January 2, 2006".
func (r *Router) Today() string {
	return r.now().In(r.loc).Format(dateLayout)
}
